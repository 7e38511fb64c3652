// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import "github.com/cashumint/mintd/cashu"

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	Paid    bool   `json:"paid"`
	Expiry  int64  `json:"expiry"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

// MintQuote is the subset of a stored mint quote this package's
// response needs, kept separate from mint/storage.MintQuote so this
// package has no dependency on the storage layer.
type MintQuote struct {
	Id             string
	PaymentRequest string
	Expiry         int64
	InvoicePaid    bool
}

// NewQuoteResponse builds the GET/POST mint-quote response body for a
// stored quote.
func NewQuoteResponse(q MintQuote) PostMintQuoteBolt11Response {
	return PostMintQuoteBolt11Response{
		Quote:   q.Id,
		Request: q.PaymentRequest,
		Paid:    q.InvoicePaid,
		Expiry:  q.Expiry,
	}
}
