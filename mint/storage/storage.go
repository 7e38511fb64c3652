// Package storage defines the persistence interfaces the mint engine
// depends on: the spent-proof registry and the mint/melt quote
// stores.
package storage

import (
	"context"
	"errors"
)

var (
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrProofAlreadyUsed = errors.New("proof already used")
)

// ProofStore is the spent-proof registry. AddUsedProofs must be
// atomic: if any secret in the batch is already present, the whole
// call fails and nothing is persisted.
type ProofStore interface {
	AddUsedProofs(ctx context.Context, proofs []UsedProof) error
	IsUsed(ctx context.Context, secret string) (bool, error)
}

type UsedProof struct {
	Secret   string
	Amount   uint64
	C        string
	KeysetId string
}

// MintQuote is a quote for minting new tokens against a paid Lightning
// invoice.
type MintQuote struct {
	Id             string
	Amount         uint64
	PaymentRequest string
	PaymentHash    string
	Expiry         int64
	InvoicePaid    bool
	TokensIssued   bool
}

// MeltQuote is a quote for redeeming tokens to pay an outbound
// Lightning invoice.
type MeltQuote struct {
	Id             string
	Amount         uint64
	FeeReserve     uint64
	PaymentRequest string
	PaymentHash    string
	Expiry         int64
	State          MeltState
	Preimage       string
}

type MeltState int

const (
	MeltCreated MeltState = iota
	MeltVerifiedInputs
	MeltPaying
	MeltPaid
	MeltFailed
)

// QuoteStore is the relational store for mint and melt quotes. Both
// quote kinds key on quote_id and must preserve record identity
// across a process restart.
type QuoteStore interface {
	AddMintQuote(ctx context.Context, quote MintQuote) error
	GetMintQuote(ctx context.Context, id string) (MintQuote, error)
	UpdateMintQuote(ctx context.Context, quote MintQuote) error

	AddMeltQuote(ctx context.Context, quote MeltQuote) error
	GetMeltQuote(ctx context.Context, id string) (MeltQuote, error)
	UpdateMeltQuote(ctx context.Context, quote MeltQuote) error
}
