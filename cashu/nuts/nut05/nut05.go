// Package nut05 contains structs as defined in [NUT-05]
//
// [NUT-05]: https://github.com/cashubtc/nuts/blob/main/05.md
package nut05

import "github.com/cashumint/mintd/cashu"

type PostMeltQuoteBolt11Request struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type PostMeltQuoteBolt11Response struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	Paid       bool   `json:"paid"`
	Expiry     int64  `json:"expiry"`
}

// PostMeltBolt11Request carries the blank outputs a client wants
// signed as change if the fee reserve was overpaid.
type PostMeltBolt11Request struct {
	Quote   string                `json:"quote"`
	Inputs  cashu.Proofs          `json:"inputs"`
	Outputs cashu.BlindedMessages `json:"outputs,omitempty"`
}

type PostMeltBolt11Response struct {
	Paid     bool                    `json:"paid"`
	Preimage string                  `json:"payment_preimage"`
	Change   cashu.BlindedSignatures `json:"change,omitempty"`
}
