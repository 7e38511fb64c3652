// Package postgres is the Postgres-backed storage.ProofStore and
// storage.QuoteStore used in production, standing in for the
// teacher's mint/storage/sqlite package.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cashumint/mintd/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v4/stdlib"
)

//go:embed migrations
var migrations embed.FS

type DB struct {
	db *sql.DB
}

// migrationsDir copies the embedded migration files to a temporary
// directory, since migrate.New needs a filesystem path.
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "mintd-migrations")
	if err != nil {
		return "", err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		src, err := migrations.Open(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return "", err
		}

		dst, err := os.Create(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			src.Close()
			return "", err
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

// Open connects to the given Postgres DSN and runs pending migrations.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	tempDir, err := migrationsDir()
	if err != nil {
		db.Close()
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", tempDir), "postgres", driver)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

func (pg *DB) Close() error {
	return pg.db.Close()
}

// AddUsedProofs inserts the batch inside a transaction, one
// INSERT ... ON CONFLICT DO NOTHING per proof. A row that inserts
// nothing means its secret was already spent; the whole batch is then
// rolled back so the call is all-or-nothing.
func (pg *DB) AddUsedProofs(ctx context.Context, proofs []storage.UsedProof) error {
	tx, err := pg.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO used_proofs (secret, amount, c, keyset_id) VALUES ($1, $2, $3, $4) ON CONFLICT (secret) DO NOTHING")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range proofs {
		result, err := stmt.ExecContext(ctx, p.Secret, p.Amount, p.C, p.KeysetId)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return storage.ErrProofAlreadyUsed
		}
	}

	return tx.Commit()
}

func (pg *DB) IsUsed(ctx context.Context, secret string) (bool, error) {
	var exists bool
	row := pg.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM used_proofs WHERE secret = $1)", secret)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (pg *DB) AddMintQuote(ctx context.Context, quote storage.MintQuote) error {
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO bolt11_mint_quotes
			(quote_id, amount, payment_request, payment_hash, expiry, invoice_paid, tokens_issued)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, quote.Id, quote.Amount, quote.PaymentRequest, quote.PaymentHash, quote.Expiry, quote.InvoicePaid, quote.TokensIssued)
	return err
}

func (pg *DB) GetMintQuote(ctx context.Context, id string) (storage.MintQuote, error) {
	var quote storage.MintQuote
	row := pg.db.QueryRowContext(ctx, `
		SELECT quote_id, amount, payment_request, payment_hash, expiry, invoice_paid, tokens_issued
		FROM bolt11_mint_quotes WHERE quote_id = $1
	`, id)

	err := row.Scan(&quote.Id, &quote.Amount, &quote.PaymentRequest, &quote.PaymentHash,
		&quote.Expiry, &quote.InvoicePaid, &quote.TokensIssued)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MintQuote{}, storage.ErrQuoteNotFound
	}
	if err != nil {
		return storage.MintQuote{}, err
	}
	return quote, nil
}

func (pg *DB) UpdateMintQuote(ctx context.Context, quote storage.MintQuote) error {
	result, err := pg.db.ExecContext(ctx, `
		UPDATE bolt11_mint_quotes SET invoice_paid = $1, tokens_issued = $2 WHERE quote_id = $3
	`, quote.InvoicePaid, quote.TokensIssued, quote.Id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrQuoteNotFound
	}
	return nil
}

func (pg *DB) AddMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	_, err := pg.db.ExecContext(ctx, `
		INSERT INTO bolt11_melt_quotes
			(quote_id, amount, fee_reserve, payment_request, payment_hash, expiry, state, preimage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, quote.Id, quote.Amount, quote.FeeReserve, quote.PaymentRequest, quote.PaymentHash,
		quote.Expiry, quote.State, quote.Preimage)
	return err
}

func (pg *DB) GetMeltQuote(ctx context.Context, id string) (storage.MeltQuote, error) {
	var quote storage.MeltQuote
	row := pg.db.QueryRowContext(ctx, `
		SELECT quote_id, amount, fee_reserve, payment_request, payment_hash, expiry, state, preimage
		FROM bolt11_melt_quotes WHERE quote_id = $1
	`, id)

	err := row.Scan(&quote.Id, &quote.Amount, &quote.FeeReserve, &quote.PaymentRequest,
		&quote.PaymentHash, &quote.Expiry, &quote.State, &quote.Preimage)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MeltQuote{}, storage.ErrQuoteNotFound
	}
	if err != nil {
		return storage.MeltQuote{}, err
	}
	return quote, nil
}

func (pg *DB) UpdateMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	result, err := pg.db.ExecContext(ctx, `
		UPDATE bolt11_melt_quotes SET state = $1, preimage = $2 WHERE quote_id = $3
	`, quote.State, quote.Preimage, quote.Id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrQuoteNotFound
	}
	return nil
}
