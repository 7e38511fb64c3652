// Package mint implements the Cashu mint engine: keyset lookup,
// BDHKE verification, double-spend prevention and the mint/melt quote
// state machine.
package mint

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/cashumint/mintd/cashu"
	"github.com/cashumint/mintd/cashu/nuts/nut06"
	"github.com/cashumint/mintd/crypto"
	"github.com/cashumint/mintd/mint/lightning"
	"github.com/cashumint/mintd/mint/storage"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	quoteExpiry = 30 * time.Minute
)

// Mint is the engine: immutable config and keysets plus shared-ownership
// handles to the stores and the Lightning backend. It holds no mutable
// in-process state outside those handles, so a *Mint is safe to share
// across concurrently running request handlers.
type Mint struct {
	v1Keyset     *crypto.MintKeyset
	legacyKeyset *crypto.MintKeyset
	keysetsById  map[string]*crypto.MintKeyset

	proofs    storage.ProofStore
	quotes    storage.QuoteStore
	lightning lightning.Client

	fee  FeeConfig
	info MintInfo

	logger *slog.Logger
}

// New builds the mint's two keysets from config.PrivateKey (the v1
// keyset derived with config.DerivationPath as its tag when set) and
// wires it to the given stores and Lightning client. Keyset rotation
// is out of scope: these two keysets never change for the
// lifetime of the process.
func New(config Config, proofs storage.ProofStore, quotes storage.QuoteStore, ln lightning.Client) (*Mint, error) {
	if config.PrivateKey == "" {
		return nil, fmt.Errorf("mint private key cannot be empty")
	}

	v1 := crypto.NewV1Keyset(config.PrivateKey, 0)
	if config.DerivationPath != "" {
		v1 = crypto.GenerateKeyset(config.PrivateKey, config.DerivationPath, 0)
	}
	legacy := crypto.NewLegacyKeyset(config.PrivateKey, 0)

	m := &Mint{
		v1Keyset:     v1,
		legacyKeyset: legacy,
		keysetsById: map[string]*crypto.MintKeyset{
			v1.Id:     v1,
			legacy.Id: legacy,
		},
		proofs:    proofs,
		quotes:    quotes,
		lightning: ln,
		fee:       config.Fee,
		info:      config.Info,
		logger:    setupLogger(),
	}
	m.logInfof("loaded mint with v1 keyset '%v' and legacy keyset '%v'", v1.Id, legacy.Id)
	return m, nil
}

// setupLogger builds a text handler with a source-file replacer,
// writing to stdout since the mint process has no dedicated data
// directory of its own.
func setupLogger() *slog.Logger {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		return a
	}
	var w io.Writer = os.Stdout
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		ReplaceAttr: replacer,
	}))
}

// logInfof/logErrorf/logDebugf preserve the caller's source position
// in the log record rather than this helper's, via runtime.Callers(2, ...).
func (m *Mint) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logDebugf(format string, args ...any) {
	if !m.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelDebug, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

// V1Keyset and LegacyKeyset expose the two keysets a running mint
// keeps side by side.
func (m *Mint) V1Keyset() *crypto.MintKeyset     { return m.v1Keyset }
func (m *Mint) LegacyKeyset() *crypto.MintKeyset { return m.legacyKeyset }

func (m *Mint) Keyset(id string) (*crypto.MintKeyset, bool) {
	ks, ok := m.keysetsById[id]
	return ks, ok
}

// Swap exchanges inputs for outputs of equal total value: verify
// conservation, verify every input proof, atomically record the
// inputs as spent, then sign every output.
// Steps 3 and 4 are ordered so that a crash after the atomic insert
// leaves the inputs spent even if signing never completes — double
// spend safety dominates a lost signature.
func (m *Mint) Swap(ctx context.Context, inputs cashu.Proofs, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if inputs.Amount() != outputs.Amount() {
		return nil, ErrConservation
	}

	if err := m.verifyProofs(inputs); err != nil {
		return nil, err
	}

	if err := m.spendProofs(ctx, inputs); err != nil {
		return nil, err
	}

	return m.signOutputs(outputs)
}

// verifyProofs checks every input proof's BDHKE signature against the
// keyset its Id names, and rejects duplicate secrets within the
// batch.
func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return ErrNoProofsProvided
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return ErrDuplicateProofs
	}

	for _, proof := range proofs {
		keyset, ok := m.keysetsById[proof.Id]
		if !ok {
			return ErrKeysetNotFound
		}
		kp, ok := keyset.Keys[proof.Amount]
		if !ok {
			return ErrInvalidProof
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return ErrInvalidProof
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return ErrInvalidProof
		}

		if !crypto.Verify([]byte(proof.Secret), kp.PrivateKey, C) {
			return ErrInvalidProof
		}
	}
	return nil
}

// spendProofs atomically inserts every input secret into the
// spent-proof registry: if any secret in the batch is already
// present, the whole call fails and nothing is persisted.
func (m *Mint) spendProofs(ctx context.Context, proofs cashu.Proofs) error {
	used := make([]storage.UsedProof, len(proofs))
	for i, p := range proofs {
		used[i] = storage.UsedProof{Secret: p.Secret, Amount: p.Amount, C: p.C, KeysetId: p.Id}
	}
	if err := m.proofs.AddUsedProofs(ctx, used); err != nil {
		if err == storage.ErrProofAlreadyUsed {
			return ErrTokenAlreadySpent
		}
		return dbErr(err)
	}
	return nil
}

// signOutputs signs each blinded message against the keyset its Id
// names, returning signatures in the same order as the outputs.
func (m *Mint) signOutputs(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, bm := range outputs {
		keyset, ok := m.keysetsById[bm.Id]
		if !ok {
			return nil, ErrKeysetNotFound
		}
		kp, ok := keyset.Keys[bm.Amount]
		if !ok {
			return nil, ErrInvalidAmount
		}

		B_bytes, err := hex.DecodeString(bm.B_)
		if err != nil {
			return nil, newErrf(CodeInvalidAmount, "invalid B_: %v", err)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, newErrf(CodeInvalidAmount, "invalid B_: %v", err)
		}

		C_ := crypto.SignBlindedMessage(B_, kp.PrivateKey)
		signatures[i] = cashu.BlindedSignature{
			Amount: bm.Amount,
			Id:     keyset.Id,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
		}
	}
	return signatures, nil
}

// RequestMintQuote creates a mint quote for amount sats: a Lightning
// invoice, persisted with a 30-minute expiry. The quote id is not
// passed to the backend, so the invoice memo is whatever the backend
// sets, not the quote id.
func (m *Mint) RequestMintQuote(ctx context.Context, amount uint64) (storage.MintQuote, error) {
	if amount == 0 {
		return storage.MintQuote{}, ErrInvalidAmount
	}

	quoteId := uuid.NewString()

	m.logInfof("requesting invoice for mint quote '%v' of %v sats", quoteId, amount)
	invoice, err := m.lightning.CreateInvoice(amount)
	if err != nil {
		return storage.MintQuote{}, lightningErr(err)
	}

	quote := storage.MintQuote{
		Id:             quoteId,
		Amount:         amount,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		Expiry:         time.Now().Add(quoteExpiry).Unix(),
	}
	if err := m.quotes.AddMintQuote(ctx, quote); err != nil {
		return storage.MintQuote{}, dbErr(err)
	}
	return quote, nil
}

// GetMintQuoteState reports whether a mint quote's invoice has been
// paid. A transient Lightning error while checking is recovered
// locally: the stored (possibly stale) record is returned with
// paid=false rather than erroring.
func (m *Mint) GetMintQuoteState(ctx context.Context, quoteId string) (storage.MintQuote, error) {
	quote, err := m.quotes.GetMintQuote(ctx, quoteId)
	if err != nil {
		if err == storage.ErrQuoteNotFound {
			return storage.MintQuote{}, ErrQuoteNotFound
		}
		return storage.MintQuote{}, dbErr(err)
	}

	if !quote.InvoicePaid {
		invoice, err := m.lightning.InvoiceStatus(quote.PaymentHash)
		if err != nil {
			m.logDebugf("transient error checking invoice status for quote '%v': %v", quoteId, err)
			return quote, nil
		}
		if invoice.Settled {
			quote.InvoicePaid = true
			if err := m.quotes.UpdateMintQuote(ctx, quote); err != nil {
				return storage.MintQuote{}, dbErr(err)
			}
		}
	}
	return quote, nil
}

// MintTokens signs blinded outputs against a mint quote once its
// invoice is paid. Re-minting against an already issued quote fails
// QuoteAlreadyIssued; the invoice_paid/tokens_issued split (rather
// than a single shared `paid` field) keeps idempotence unambiguous.
func (m *Mint) MintTokens(ctx context.Context, quoteId string, outputs cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	quote, err := m.quotes.GetMintQuote(ctx, quoteId)
	if err != nil {
		if err == storage.ErrQuoteNotFound {
			return nil, ErrQuoteNotFound
		}
		return nil, dbErr(err)
	}

	if quote.TokensIssued {
		return nil, ErrQuoteAlreadyIssued
	}

	if !quote.InvoicePaid {
		invoice, err := m.lightning.InvoiceStatus(quote.PaymentHash)
		if err != nil {
			return nil, lightningErr(err)
		}
		if !invoice.Settled {
			return nil, ErrInvoiceNotPaid
		}
		quote.InvoicePaid = true
	}

	if outputs.Amount() > quote.Amount {
		return nil, ErrOutputsExceedQuote
	}

	signatures, err := m.signOutputs(outputs)
	if err != nil {
		return nil, err
	}

	quote.TokensIssued = true
	if err := m.quotes.UpdateMintQuote(ctx, quote); err != nil {
		return nil, dbErr(err)
	}
	m.logInfof("issued tokens for mint quote '%v'", quoteId)
	return signatures, nil
}

// feeReserve computes the upper bound, in sat, on the routing fee a
// melt of amountSat may cost: the percent-based portion and the
// minimum are computed in msat and converted to sat once, rounding
// up. The
// backend's own FeeReserve hint (e.g. a CLN
// or LND fee-percent estimate) is taken as a floor, so a backend that
// knows its routing is pricier than the operator's configured percent
// still gets its reserve honored.
func (m *Mint) feeReserve(amountSat uint64) uint64 {
	amountMsat := amountSat * 1000
	percentMsat := uint64(math.Ceil(float64(amountMsat) * m.fee.Percent / 100))
	minMsat := m.fee.MinFeeReserve * 1000

	reserveMsat := percentMsat
	if minMsat > reserveMsat {
		reserveMsat = minMsat
	}

	reserveSat := (reserveMsat + 999) / 1000

	if backendSat := m.lightning.FeeReserve(amountSat); backendSat > reserveSat {
		reserveSat = backendSat
	}
	return reserveSat
}

// RequestMeltQuote decodes a bolt11 invoice and computes the fee
// reserve the mint holds back before attempting payment.
func (m *Mint) RequestMeltQuote(ctx context.Context, paymentRequest string) (storage.MeltQuote, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return storage.MeltQuote{}, newErrf(CodeInvalidQuote, "invalid invoice: %v", err)
	}
	if decoded.MSatoshi == 0 {
		return storage.MeltQuote{}, newErr(CodeInvalidQuote, "invoice has no amount")
	}

	amountSat := uint64(decoded.MSatoshi) / 1000
	fee := m.feeReserve(amountSat)

	quote := storage.MeltQuote{
		Id:             uuid.NewString(),
		Amount:         amountSat,
		FeeReserve:     fee,
		PaymentRequest: paymentRequest,
		PaymentHash:    decoded.PaymentHash,
		Expiry:         time.Now().Add(quoteExpiry).Unix(),
		State:          storage.MeltCreated,
	}
	if err := m.quotes.AddMeltQuote(ctx, quote); err != nil {
		return storage.MeltQuote{}, dbErr(err)
	}
	m.logInfof("created melt quote '%v' for %v sats, fee reserve %v", quote.Id, amountSat, fee)
	return quote, nil
}

// GetMeltQuoteState reports a melt quote's current state, recovering
// a crash between `paying` and `paid` by asking the Lightning adapter
// whether the invoice settled.
func (m *Mint) GetMeltQuoteState(ctx context.Context, quoteId string) (storage.MeltQuote, error) {
	quote, err := m.quotes.GetMeltQuote(ctx, quoteId)
	if err != nil {
		if err == storage.ErrQuoteNotFound {
			return storage.MeltQuote{}, ErrQuoteNotFound
		}
		return storage.MeltQuote{}, dbErr(err)
	}

	if quote.State == storage.MeltPaying {
		status, err := m.lightning.OutgoingPaymentStatus(ctx, quote.PaymentHash)
		if err != nil {
			m.logDebugf("transient error checking payment status for melt quote '%v': %v", quoteId, err)
			return quote, nil
		}
		switch status.PaymentStatus {
		case lightning.Succeeded:
			quote.State = storage.MeltPaid
			quote.Preimage = status.Preimage
			if err := m.quotes.UpdateMeltQuote(ctx, quote); err != nil {
				return storage.MeltQuote{}, dbErr(err)
			}
		case lightning.Failed:
			quote.State = storage.MeltFailed
			if err := m.quotes.UpdateMeltQuote(ctx, quote); err != nil {
				return storage.MeltQuote{}, dbErr(err)
			}
		}
	}
	return quote, nil
}

// MeltTokens redeems proofs to pay quote's invoice: verify
// conservation (inputs == amount + fee reserve), verify every input,
// atomically mark them spent, pay the invoice, then sign change for
// any overpaid fee reserve in descending-amount order. Inputs remain
// spent even if the Lightning payment itself fails: the mint does not
// attempt to "unspend" proofs once committed, since a client can
// always fall back to querying quote state instead of retrying the
// melt.
func (m *Mint) MeltTokens(ctx context.Context, quoteId string, inputs cashu.Proofs, outputs cashu.BlindedMessages) (paid bool, preimage string, change cashu.BlindedSignatures, err error) {
	quote, getErr := m.quotes.GetMeltQuote(ctx, quoteId)
	if getErr != nil {
		if getErr == storage.ErrQuoteNotFound {
			return false, "", nil, ErrQuoteNotFound
		}
		return false, "", nil, dbErr(getErr)
	}

	if quote.State == storage.MeltPaid {
		return true, quote.Preimage, nil, nil
	}
	if quote.State == storage.MeltPaying {
		return false, "", nil, newErr(CodeInvalidQuote, "melt quote is already being paid")
	}

	required := quote.Amount + quote.FeeReserve
	if inputs.Amount() != required {
		return false, "", nil, ErrConservation
	}

	if verifyErr := m.verifyProofs(inputs); verifyErr != nil {
		return false, "", nil, verifyErr
	}

	if spendErr := m.spendProofs(ctx, inputs); spendErr != nil {
		return false, "", nil, spendErr
	}

	quote.State = storage.MeltPaying
	if updErr := m.quotes.UpdateMeltQuote(ctx, quote); updErr != nil {
		return false, "", nil, dbErr(updErr)
	}

	m.logInfof("paying invoice for melt quote '%v'", quoteId)
	status, payErr := m.lightning.SendPayment(ctx, quote.PaymentRequest, quote.FeeReserve)
	if payErr != nil {
		quote.State = storage.MeltFailed
		_ = m.quotes.UpdateMeltQuote(ctx, quote)
		return false, "", nil, lightningErr(payErr)
	}
	if status.PaymentStatus != lightning.Succeeded {
		quote.State = storage.MeltFailed
		_ = m.quotes.UpdateMeltQuote(ctx, quote)
		return false, "", nil, newErr(CodeLightningError, "lightning payment did not succeed")
	}

	quote.State = storage.MeltPaid
	quote.Preimage = status.Preimage
	if updErr := m.quotes.UpdateMeltQuote(ctx, quote); updErr != nil {
		return false, "", nil, dbErr(updErr)
	}

	actualFeeSat := (status.FeePaidMsat + 999) / 1000
	var overpaid uint64
	if quote.FeeReserve > actualFeeSat {
		overpaid = quote.FeeReserve - actualFeeSat
	}

	if overpaid > 0 && len(outputs) > 0 {
		change = m.signChange(outputs, overpaid)
	}

	return true, status.Preimage, change, nil
}

// signChange signs the caller-supplied outputs against an overpaid
// fee reserve, in descending-amount order, taking an output only if
// its declared amount still fits in the remaining overpaid balance.
// Outputs that don't fit, or that fail to sign (unknown keyset or
// amount, malformed B_), are dropped rather than failing the melt:
// the invoice is already paid by this point, so the worst a bad
// change output can cost the client is a smaller refund, never a
// failed response.
func (m *Mint) signChange(outputs cashu.BlindedMessages, overpaid uint64) cashu.BlindedSignatures {
	sorted := slices.Clone(outputs)
	slices.SortFunc(sorted, func(a, b cashu.BlindedMessage) int {
		return int(b.Amount) - int(a.Amount)
	})

	remaining := overpaid
	change := make(cashu.BlindedSignatures, 0, len(sorted))
	for _, bm := range sorted {
		if bm.Amount == 0 || bm.Amount > remaining {
			continue
		}
		sig, err := m.signOutputs(cashu.BlindedMessages{bm})
		if err != nil {
			m.logDebugf("dropping unsignable change output amount %v: %v", bm.Amount, err)
			continue
		}
		change = append(change, sig...)
		remaining -= bm.Amount
	}
	return change
}

// MintInfo assembles the NUT-06 info document.
func (m *Mint) MintInfo() nut06.MintInfo {
	nuts := nut06.NutsMap{
		4: nut06.NutSetting{
			Methods: []nut06.MethodSetting{{Method: cashu.BOLT11Method, Unit: cashu.Sat.String()}},
		},
		5: nut06.NutSetting{
			Methods: []nut06.MethodSetting{{Method: cashu.BOLT11Method, Unit: cashu.Sat.String()}},
		},
	}

	return nut06.MintInfo{
		Name:            m.info.Name,
		Pubkey:          hex.EncodeToString(m.v1Keyset.MintPubkey().SerializeCompressed()),
		Version:         m.info.Version,
		Description:     m.info.Description,
		LongDescription: m.info.LongDescription,
		Contact:         m.info.Contact,
		Motd:            m.info.Motd,
		Nuts:            nuts,
	}
}
