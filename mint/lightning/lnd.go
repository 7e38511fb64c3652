package lightning

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

const lndInvoiceExpiry = 10 * time.Minute

// LndConfig carries the already-loaded TLS and macaroon credentials a
// caller assembled from LndBackendConfig's file paths, mirroring the
// teacher's cmd/mint/mint.go which reads LND_CERT_PATH/LND_MACAROON_PATH
// once at startup; SetupLndClient turns these into grpc dial options.
type LndConfig struct {
	GRPCHost string
	Cert     credentials.TransportCredentials
	Macaroon *macaroons.MacaroonCredential
}

// LndClient talks to lnd over its gRPC Lightning service.
type LndClient struct {
	conn   *grpc.ClientConn
	client lnrpc.LightningClient
}

// NewLndCredentials reads a TLS cert and macaroon off disk and returns
// them as the credentials SetupLndClient needs; GRPCHost is left empty
// for the caller to set.
func NewLndCredentials(certPath, macaroonPath string) (LndConfig, error) {
	creds, err := credentials.NewClientTLSFromFile(certPath, "")
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading lnd tls cert: %v", err)
	}

	macaroonBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error reading macaroon: %v", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
		return LndConfig{}, fmt.Errorf("unable to decode macaroon: %v", err)
	}
	macCreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return LndConfig{}, fmt.Errorf("error setting macaroon creds: %v", err)
	}

	return LndConfig{Cert: creds, Macaroon: macCreds}, nil
}

// SetupLndClient dials host and returns a ready Client.
func SetupLndClient(cfg LndConfig) (*LndClient, error) {
	conn, err := grpc.NewClient(
		cfg.GRPCHost,
		grpc.WithTransportCredentials(cfg.Cert),
		grpc.WithPerRPCCredentials(cfg.Macaroon),
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to lnd: %v", err)
	}

	return &LndClient{conn: conn, client: lnrpc.NewLightningClient(conn)}, nil
}

func (lnd *LndClient) Close() error {
	return lnd.conn.Close()
}

func (lnd *LndClient) CreateInvoice(amount uint64) (Invoice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := lnd.client.AddInvoice(ctx, &lnrpc.Invoice{
		Value:  int64(amount),
		Expiry: int64(lndInvoiceExpiry.Seconds()),
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("error requesting invoice from lnd: %v", err)
	}

	return Invoice{
		PaymentRequest: resp.PaymentRequest,
		PaymentHash:    hex.EncodeToString(resp.RHash),
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(lndInvoiceExpiry).Unix()),
	}, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return Invoice{}, fmt.Errorf("invalid payment hash: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inv, err := lnd.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: hashBytes})
	if err != nil {
		return Invoice{}, fmt.Errorf("error looking up invoice: %v", err)
	}

	return Invoice{
		PaymentRequest: inv.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       hex.EncodeToString(inv.RPreimage),
		Settled:        inv.State == lnrpc.Invoice_SETTLED,
		Amount:         uint64(inv.Value),
	}, nil
}

// FeeReserve returns a conservative routing fee estimate for a
// same-network payment of amount sats. lnrpc's fee estimation requires
// a destination pubkey or route, which the mint does not have at melt
// quote time, so this uses a flat percentage rather than calling
// QueryRoutes.
func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	return amount / 100
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error) {
	resp, err := lnd.client.SendPaymentSync(ctx, &lnrpc.SendRequest{
		PaymentRequest: request,
		FeeLimit:       &lnrpc.FeeLimit{Limit: &lnrpc.FeeLimit_Fixed{Fixed: int64(maxFee)}},
	})
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error sending payment: %v", err)
	}
	if resp.PaymentError != "" {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("payment failed: %v", resp.PaymentError)
	}

	var feePaidMsat uint64
	if resp.PaymentRoute != nil {
		feePaidMsat = uint64(resp.PaymentRoute.TotalFeesMsat)
	}

	return PaymentStatus{
		Preimage:      hex.EncodeToString(resp.PaymentPreimage),
		PaymentStatus: Succeeded,
		FeePaidMsat:   feePaidMsat,
	}, nil
}

func (lnd *LndClient) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("invalid payment hash: %v", err)
	}

	payments, err := lnd.client.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
		IncludeIncomplete: true,
	})
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error listing payments: %v", err)
	}

	want := hex.EncodeToString(hashBytes)
	for _, p := range payments.Payments {
		if p.PaymentHash != want {
			continue
		}
		status := Pending
		switch p.Status {
		case lnrpc.Payment_SUCCEEDED:
			status = Succeeded
		case lnrpc.Payment_FAILED:
			status = Failed
		}
		return PaymentStatus{
			Preimage:      p.PaymentPreimage,
			PaymentStatus: status,
			FeePaidMsat:   uint64(p.FeeMsat),
		}, nil
	}

	return PaymentStatus{}, fmt.Errorf("payment not found")
}
