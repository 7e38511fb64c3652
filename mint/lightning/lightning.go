// Package lightning defines the backend-agnostic interface the mint
// engine uses to create and pay bolt11 invoices, and ships three
// implementations: a regtest/test fake, Core Lightning over its REST
// plugin, and LND over gRPC.
package lightning

import "context"

// Client is implemented by every Lightning backend the mint can use.
// CreateInvoice and InvoiceStatus serve mint quotes; SendPayment and
// OutgoingPaymentStatus serve melt quotes and report FeePaidMsat, the
// actual routing fee charged, so the engine can compute the overpaid
// fee reserve to return as change; FeeReserve computes the fee_reserve
// a melt quote must hold back up front.
type Client interface {
	CreateInvoice(amount uint64) (Invoice, error)
	InvoiceStatus(hash string) (Invoice, error)
	FeeReserve(amount uint64) uint64
	SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error)
	OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error)
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

// State is the lifecycle of a single Lightning payment attempt,
// outbound or inbound.
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type PaymentStatus struct {
	Preimage      string
	PaymentStatus State
	FeePaidMsat   uint64
}
