package mint

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/cashumint/mintd/cashu"
	"github.com/cashumint/mintd/crypto"
	"github.com/cashumint/mintd/mint/lightning"
	"github.com/cashumint/mintd/mint/storage/memory"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func testMint(t *testing.T) (*Mint, *lightning.MockBackend) {
	t.Helper()
	backend := lightning.NewMockBackend()
	store := memory.New()
	m, err := New(Config{PrivateKey: "testsecret"}, store, store, backend)
	if err != nil {
		t.Fatalf("error creating test mint: %v", err)
	}
	m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return m, backend
}

// blindedOutput builds a client-side BlindedMessage for amount against
// keysetId, with no corresponding unblinding needed: tests that only
// mint or swap into fresh outputs don't care about the resulting
// signature's secret.
func blindedOutput(t *testing.T, amount uint64, secret string, keysetId string) cashu.BlindedMessage {
	t.Helper()
	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating blinding factor: %v", err)
	}
	B_, _ := crypto.BlindMessage([]byte(secret), r.Serialize())
	return cashu.BlindedMessage{
		Amount: amount,
		Id:     keysetId,
		B_:     hex.EncodeToString(B_.SerializeCompressed()),
	}
}

// signedProof runs the full BDHKE round trip against m's own keyset so
// tests can present a Proof that verifyProofs will accept, without
// going through the HTTP layer.
func signedProof(t *testing.T, m *Mint, amount uint64, secret string) cashu.Proof {
	t.Helper()
	keyset := m.v1Keyset
	kp, ok := keyset.Keys[amount]
	if !ok {
		t.Fatalf("keyset has no key pair for amount %v", amount)
	}

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("error generating blinding factor: %v", err)
	}
	B_, rPriv := crypto.BlindMessage([]byte(secret), r.Serialize())
	C_ := crypto.SignBlindedMessage(B_, kp.PrivateKey)
	C := crypto.UnblindSignature(C_, rPriv, kp.PublicKey)

	return cashu.Proof{
		Amount: amount,
		Id:     keyset.Id,
		Secret: secret,
		C:      hex.EncodeToString(C.SerializeCompressed()),
	}
}

func TestRequestMintQuoteRejectsZeroAmount(t *testing.T) {
	m, _ := testMint(t)
	if _, err := m.RequestMintQuote(context.Background(), 0); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount but got %v", err)
	}
}

func TestMintTokensRequiresPaidInvoice(t *testing.T) {
	m, backend := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 21)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	backend.SetInvoiceStatus(quote.PaymentHash, lightning.Pending)

	bm := blindedOutput(t, 21, "pending-mint", m.v1Keyset.Id)
	if _, err := m.MintTokens(ctx, quote.Id, cashu.BlindedMessages{bm}); err != ErrInvoiceNotPaid {
		t.Fatalf("expected ErrInvoiceNotPaid but got %v", err)
	}
}

func TestMintTokensIssuesOnceThenRejects(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 16)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	bm := blindedOutput(t, 16, "issue-once-1", m.v1Keyset.Id)
	sigs, err := m.MintTokens(ctx, quote.Id, cashu.BlindedMessages{bm})
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Amount != 16 {
		t.Fatalf("unexpected signatures: %+v", sigs)
	}

	bm2 := blindedOutput(t, 16, "issue-once-2", m.v1Keyset.Id)
	if _, err := m.MintTokens(ctx, quote.Id, cashu.BlindedMessages{bm2}); err != ErrQuoteAlreadyIssued {
		t.Fatalf("expected ErrQuoteAlreadyIssued but got %v", err)
	}
}

func TestMintTokensRejectsOutputsOverQuoteAmount(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 10)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	bm := blindedOutput(t, 32, "over-quote", m.v1Keyset.Id)
	if _, err := m.MintTokens(ctx, quote.Id, cashu.BlindedMessages{bm}); err != ErrOutputsExceedQuote {
		t.Fatalf("expected ErrOutputsExceedQuote but got %v", err)
	}
}

func TestSwapExchangesEqualAmounts(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	quote, err := m.RequestMintQuote(ctx, 8)
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	mintOut := blindedOutput(t, 8, "swap-mint-secret", m.v1Keyset.Id)
	if _, err := m.MintTokens(ctx, quote.Id, cashu.BlindedMessages{mintOut}); err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	input := signedProof(t, m, 8, "swap-input-secret")
	swapOut := blindedOutput(t, 8, "swap-output-secret", m.v1Keyset.Id)

	sigs, err := m.Swap(ctx, cashu.Proofs{input}, cashu.BlindedMessages{swapOut})
	if err != nil {
		t.Fatalf("error swapping: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Amount != 8 {
		t.Fatalf("unexpected signatures: %+v", sigs)
	}

	if _, err := m.Swap(ctx, cashu.Proofs{input}, cashu.BlindedMessages{swapOut}); err != ErrTokenAlreadySpent {
		t.Fatalf("expected ErrTokenAlreadySpent on replay but got %v", err)
	}
}

func TestSwapRejectsUnbalancedAmounts(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	input := signedProof(t, m, 8, "unbalanced-secret")
	out := blindedOutput(t, 4, "unbalanced-out", m.v1Keyset.Id)
	if _, err := m.Swap(ctx, cashu.Proofs{input}, cashu.BlindedMessages{out}); err != ErrConservation {
		t.Fatalf("expected ErrConservation but got %v", err)
	}
}

func TestSwapRejectsDuplicateProofs(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	proof := signedProof(t, m, 4, "dup-secret")
	out := blindedOutput(t, 8, "dup-out", m.v1Keyset.Id)
	if _, err := m.Swap(ctx, cashu.Proofs{proof, proof}, cashu.BlindedMessages{out}); err != ErrDuplicateProofs {
		t.Fatalf("expected ErrDuplicateProofs but got %v", err)
	}
}

func TestSwapRejectsUnknownKeyset(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	proofs := cashu.Proofs{{Amount: 4, Id: "deadbeefdeadbeef", Secret: "s", C: "00"}}
	out := blindedOutput(t, 4, "unknown-keyset-out", m.v1Keyset.Id)
	if _, err := m.Swap(ctx, proofs, cashu.BlindedMessages{out}); err != ErrKeysetNotFound {
		t.Fatalf("expected ErrKeysetNotFound but got %v", err)
	}
}

func TestSwapRejectsInvalidSignature(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	proofs := cashu.Proofs{{Amount: 4, Id: m.v1Keyset.Id, Secret: "forged", C: "02" + "00"}}
	out := blindedOutput(t, 4, "forged-out", m.v1Keyset.Id)
	if _, err := m.Swap(ctx, proofs, cashu.BlindedMessages{out}); err != ErrInvalidProof {
		t.Fatalf("expected ErrInvalidProof but got %v", err)
	}
}

func TestFeeReserveTakesMaxOfConfigAndBackend(t *testing.T) {
	m, _ := testMint(t)

	// the mock backend's FeeReserve always returns 0, so the config
	// formula wins here
	m.fee = FeeConfig{Percent: 1, MinFeeReserve: 0}
	if got := m.feeReserve(1000); got != 10 {
		t.Fatalf("expected fee reserve 10 but got %v", got)
	}

	m.fee = FeeConfig{Percent: 0, MinFeeReserve: 5}
	if got := m.feeReserve(1000); got != 5 {
		t.Fatalf("expected fee reserve 5 but got %v", got)
	}
}

func TestMeltTokensPaysQuoteAndReturnsPreimage(t *testing.T) {
	m, _ := testMint(t)
	ctx := context.Background()

	request, _, _, err := lightning.CreateFakeInvoice(64, false)
	if err != nil {
		t.Fatalf("error creating fake invoice: %v", err)
	}

	quote, err := m.RequestMeltQuote(ctx, request)
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	required := quote.Amount + quote.FeeReserve
	input := signedProof(t, m, required, "melt-secret")

	paid, preimage, _, err := m.MeltTokens(ctx, quote.Id, cashu.Proofs{input}, nil)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if !paid {
		t.Fatal("expected melt to report paid")
	}
	if preimage != lightning.FakePreimage {
		t.Fatalf("expected preimage %v but got %v", lightning.FakePreimage, preimage)
	}

	// replaying the same quote returns the cached result instead of
	// re-running the payment
	paid2, preimage2, _, err := m.MeltTokens(ctx, quote.Id, cashu.Proofs{input}, nil)
	if err != nil {
		t.Fatalf("error on replayed melt: %v", err)
	}
	if !paid2 || preimage2 != preimage {
		t.Fatalf("expected idempotent replay, got paid=%v preimage=%v", paid2, preimage2)
	}
}

func TestMeltTokensRejectsInsufficientInputs(t *testing.T) {
	m, _ := testMint(t)
	m.fee = FeeConfig{Percent: 100}
	ctx := context.Background()

	request, _, _, err := lightning.CreateFakeInvoice(64, false)
	if err != nil {
		t.Fatalf("error creating fake invoice: %v", err)
	}

	quote, err := m.RequestMeltQuote(ctx, request)
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if quote.FeeReserve == 0 {
		t.Fatal("expected a non-zero fee reserve for this test to be meaningful")
	}

	// covers quote.Amount but not the fee reserve on top of it
	input := signedProof(t, m, quote.Amount, "short-secret")
	if _, _, _, err := m.MeltTokens(ctx, quote.Id, cashu.Proofs{input}, nil); err != ErrConservation {
		t.Fatalf("expected ErrConservation but got %v", err)
	}
}

func TestMeltTokensSignsChangeForOverpaidFeeReserveDescending(t *testing.T) {
	m, _ := testMint(t)
	m.fee = FeeConfig{MinFeeReserve: 7}
	ctx := context.Background()

	request, _, _, err := lightning.CreateFakeInvoice(57, false)
	if err != nil {
		t.Fatalf("error creating fake invoice: %v", err)
	}

	quote, err := m.RequestMeltQuote(ctx, request)
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if quote.FeeReserve != 7 {
		t.Fatalf("expected fee reserve 7 but got %v", quote.FeeReserve)
	}

	required := quote.Amount + quote.FeeReserve
	input := signedProof(t, m, required, "change-secret")

	// the mock backend always routes for free, so the full 7-sat
	// reserve is overpaid; only 4+2+1 fit under it in descending order,
	// the 8-sat output must be dropped
	outputs := cashu.BlindedMessages{
		blindedOutput(t, 8, "change-out-8", m.v1Keyset.Id),
		blindedOutput(t, 4, "change-out-4", m.v1Keyset.Id),
		blindedOutput(t, 2, "change-out-2", m.v1Keyset.Id),
		blindedOutput(t, 1, "change-out-1", m.v1Keyset.Id),
	}

	_, _, change, err := m.MeltTokens(ctx, quote.Id, cashu.Proofs{input}, outputs)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}

	if change.Amount() != 7 {
		t.Fatalf("expected 7 sats of change but got %v (%+v)", change.Amount(), change)
	}
	for _, sig := range change {
		if sig.Amount == 8 {
			t.Fatalf("expected the 8-sat output to be dropped since it exceeds the 7-sat overpaid reserve: %+v", change)
		}
	}
}

func TestMeltTokensDropsOversizedChangeOutputs(t *testing.T) {
	m, _ := testMint(t)
	m.fee = FeeConfig{MinFeeReserve: 7}
	ctx := context.Background()

	request, _, _, err := lightning.CreateFakeInvoice(57, false)
	if err != nil {
		t.Fatalf("error creating fake invoice: %v", err)
	}

	quote, err := m.RequestMeltQuote(ctx, request)
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	required := quote.Amount + quote.FeeReserve
	input := signedProof(t, m, required, "exploit-secret")

	// a client cannot smuggle an oversized change output to mint free
	// signatures beyond the overpaid fee reserve
	outputs := cashu.BlindedMessages{blindedOutput(t, 1<<20, "exploit-out", m.v1Keyset.Id)}

	_, _, change, err := m.MeltTokens(ctx, quote.Id, cashu.Proofs{input}, outputs)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if len(change) != 0 {
		t.Fatalf("expected no change signatures for an output exceeding the overpaid reserve, got %+v", change)
	}
}

func TestGetMeltQuoteStateNotFound(t *testing.T) {
	m, _ := testMint(t)
	if _, err := m.GetMeltQuoteState(context.Background(), "unknown"); err != ErrQuoteNotFound {
		t.Fatalf("expected ErrQuoteNotFound but got %v", err)
	}
}

func TestGetMintQuoteStateNotFound(t *testing.T) {
	m, _ := testMint(t)
	if _, err := m.GetMintQuoteState(context.Background(), "unknown"); err != ErrQuoteNotFound {
		t.Fatalf("expected ErrQuoteNotFound but got %v", err)
	}
}
