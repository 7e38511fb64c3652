// Package memory is an in-memory storage.ProofStore and
// storage.QuoteStore used in unit tests, standing in for the
// Postgres-backed store so the engine can be exercised directly
// without a live database.
package memory

import (
	"context"
	"sync"

	"github.com/cashumint/mintd/mint/storage"
)

type Store struct {
	mu         sync.Mutex
	used       map[string]storage.UsedProof
	mintQuotes map[string]storage.MintQuote
	meltQuotes map[string]storage.MeltQuote
}

func New() *Store {
	return &Store{
		used:       make(map[string]storage.UsedProof),
		mintQuotes: make(map[string]storage.MintQuote),
		meltQuotes: make(map[string]storage.MeltQuote),
	}
}

func (s *Store) AddUsedProofs(ctx context.Context, proofs []storage.UsedProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range proofs {
		if _, exists := s.used[p.Secret]; exists {
			return storage.ErrProofAlreadyUsed
		}
	}
	for _, p := range proofs {
		s.used[p.Secret] = p
	}
	return nil
}

func (s *Store) IsUsed(ctx context.Context, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[secret]
	return ok, nil
}

func (s *Store) AddMintQuote(ctx context.Context, quote storage.MintQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mintQuotes[quote.Id] = quote
	return nil
}

func (s *Store) GetMintQuote(ctx context.Context, id string) (storage.MintQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.mintQuotes[id]
	if !ok {
		return storage.MintQuote{}, storage.ErrQuoteNotFound
	}
	return q, nil
}

func (s *Store) UpdateMintQuote(ctx context.Context, quote storage.MintQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mintQuotes[quote.Id]; !ok {
		return storage.ErrQuoteNotFound
	}
	s.mintQuotes[quote.Id] = quote
	return nil
}

func (s *Store) AddMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meltQuotes[quote.Id] = quote
	return nil
}

func (s *Store) GetMeltQuote(ctx context.Context, id string) (storage.MeltQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.meltQuotes[id]
	if !ok {
		return storage.MeltQuote{}, storage.ErrQuoteNotFound
	}
	return q, nil
}

func (s *Store) UpdateMeltQuote(ctx context.Context, quote storage.MeltQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meltQuotes[quote.Id]; !ok {
		return storage.ErrQuoteNotFound
	}
	s.meltQuotes[quote.Id] = quote
	return nil
}
