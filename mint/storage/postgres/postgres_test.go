package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/cashumint/mintd/mint/storage"
	"github.com/google/uuid"
)

// requires a live Postgres instance; set MINT_TEST_PG_URL to run.
func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("MINT_TEST_PG_URL")
	if dsn == "" {
		t.Skip("MINT_TEST_PG_URL not set, skipping postgres integration test")
	}

	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddUsedProofsRejectsDuplicate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	secret := uuid.NewString()
	proofs := []storage.UsedProof{{Secret: secret, Amount: 4, C: "02aa", KeysetId: "00f545318e4fad2b"}}

	if err := db.AddUsedProofs(ctx, proofs); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	if err := db.AddUsedProofs(ctx, proofs); err != storage.ErrProofAlreadyUsed {
		t.Fatalf("expected ErrProofAlreadyUsed, got %v", err)
	}

	used, err := db.IsUsed(ctx, secret)
	if err != nil {
		t.Fatalf("IsUsed: %v", err)
	}
	if !used {
		t.Fatal("expected secret to be marked used")
	}
}

func TestMintQuoteRoundtrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	quote := storage.MintQuote{
		Id:             uuid.NewString(),
		Amount:         1000,
		PaymentRequest: "lnbc1...",
		PaymentHash:    "deadbeef",
		Expiry:         1893456000,
	}

	if err := db.AddMintQuote(ctx, quote); err != nil {
		t.Fatalf("AddMintQuote: %v", err)
	}

	got, err := db.GetMintQuote(ctx, quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuote: %v", err)
	}
	if got != quote {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, quote)
	}

	quote.InvoicePaid = true
	quote.TokensIssued = true
	if err := db.UpdateMintQuote(ctx, quote); err != nil {
		t.Fatalf("UpdateMintQuote: %v", err)
	}

	got, err = db.GetMintQuote(ctx, quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuote after update: %v", err)
	}
	if !got.InvoicePaid || !got.TokensIssued {
		t.Fatalf("update did not persist: %+v", got)
	}

	if _, err := db.GetMintQuote(ctx, uuid.NewString()); err != storage.ErrQuoteNotFound {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
}

func TestMeltQuoteRoundtrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	quote := storage.MeltQuote{
		Id:             uuid.NewString(),
		Amount:         500,
		FeeReserve:     10,
		PaymentRequest: "lnbc1...",
		PaymentHash:    "feedface",
		Expiry:         1893456000,
		State:          storage.MeltCreated,
	}

	if err := db.AddMeltQuote(ctx, quote); err != nil {
		t.Fatalf("AddMeltQuote: %v", err)
	}

	quote.State = storage.MeltPaid
	quote.Preimage = "preimagehex"
	if err := db.UpdateMeltQuote(ctx, quote); err != nil {
		t.Fatalf("UpdateMeltQuote: %v", err)
	}

	got, err := db.GetMeltQuote(ctx, quote.Id)
	if err != nil {
		t.Fatalf("GetMeltQuote: %v", err)
	}
	if got.State != storage.MeltPaid || got.Preimage != "preimagehex" {
		t.Fatalf("update did not persist: %+v", got)
	}
}
