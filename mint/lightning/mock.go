package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage           = "0000000000000000000000000000000000000000000000000000000000000000"
	FailPaymentDescription = "fail the payment"
)

// MockBackend is an in-process Lightning backend for tests and
// development, settling every invoice it creates immediately.
type MockBackend struct {
	mu           sync.Mutex
	invoices     []mockInvoice
	PaymentDelay int64
}

type mockInvoice struct {
	paymentRequest string
	paymentHash    string
	preimage       string
	status         State
	amount         uint64
	feePaidMsat    uint64
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *mockInvoice) toInvoice() Invoice {
	return Invoice{
		PaymentRequest: m.paymentRequest,
		PaymentHash:    m.paymentHash,
		Preimage:       m.preimage,
		Settled:        m.status == Succeeded,
		Amount:         m.amount,
	}
}

func (fb *MockBackend) CreateInvoice(amount uint64) (Invoice, error) {
	req, preimage, paymentHash, err := CreateFakeInvoice(amount, false)
	if err != nil {
		return Invoice{}, err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	inv := mockInvoice{
		paymentRequest: req,
		paymentHash:    paymentHash,
		preimage:       preimage,
		status:         Succeeded,
		amount:         amount,
	}
	fb.invoices = append(fb.invoices, inv)

	return inv.toInvoice(), nil
}

func (fb *MockBackend) InvoiceStatus(hash string) (Invoice, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	idx := slices.IndexFunc(fb.invoices, func(i mockInvoice) bool { return i.paymentHash == hash })
	if idx == -1 {
		return Invoice{}, errors.New("invoice does not exist")
	}
	return fb.invoices[idx].toInvoice(), nil
}

func (fb *MockBackend) SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error) {
	decoded, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error decoding invoice: %v", err)
	}

	status := Succeeded
	if decoded.Description == FailPaymentDescription {
		status = Failed
	} else if fb.PaymentDelay > 0 && time.Now().Unix() < int64(decoded.CreatedAt)+fb.PaymentDelay {
		status = Pending
	}

	// the mock backend routes for free; callers that want to exercise
	// change-on-overpaid-fee-reserve can inspect quote.FeeReserve
	// directly, since actual fee paid here is always zero.
	fb.mu.Lock()
	fb.invoices = append(fb.invoices, mockInvoice{
		paymentHash: decoded.PaymentHash,
		preimage:    FakePreimage,
		status:      status,
		amount:      uint64(decoded.MSatoshi) / 1000,
		feePaidMsat: 0,
	})
	fb.mu.Unlock()

	return PaymentStatus{Preimage: FakePreimage, PaymentStatus: status, FeePaidMsat: 0}, nil
}

func (fb *MockBackend) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	idx := slices.IndexFunc(fb.invoices, func(i mockInvoice) bool { return i.paymentHash == hash })
	if idx == -1 {
		return PaymentStatus{}, errors.New("payment does not exist")
	}
	inv := fb.invoices[idx]
	return PaymentStatus{Preimage: inv.preimage, PaymentStatus: inv.status, FeePaidMsat: inv.feePaidMsat}, nil
}

func (fb *MockBackend) FeeReserve(amount uint64) uint64 {
	return 0
}

// SetInvoiceStatus lets tests move a pending payment to succeeded or
// failed without waiting out PaymentDelay.
func (fb *MockBackend) SetInvoiceStatus(hash string, status State) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	idx := slices.IndexFunc(fb.invoices, func(i mockInvoice) bool { return i.paymentHash == hash })
	if idx == -1 {
		return
	}
	fb.invoices[idx].status = status
}

// CreateFakeInvoice builds and self-signs a bolt11 invoice against
// signet params, for use in tests that need a real decodable invoice
// string without a live node.
func CreateFakeInvoice(amount uint64, failPayment bool) (request, preimage, paymentHash string, err error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", "", "", err
	}
	preimage = hex.EncodeToString(random[:])
	hash := sha256.Sum256(random[:])
	paymentHash = hex.EncodeToString(hash[:])

	description := "mint invoice"
	if failPayment {
		description = FailPaymentDescription
	}

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		hash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(description),
	)
	if err != nil {
		return "", "", "", err
	}

	request, err = invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return nil, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return request, preimage, paymentHash, nil
}
