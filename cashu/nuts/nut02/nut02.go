// Package nut02 contains structs as defined in [NUT-02]
//
// [NUT-02]: https://github.com/cashubtc/nuts/blob/main/02.md
package nut02

type GetKeysetsResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id          string `json:"id"`
	Unit        string `json:"unit"`
	Active      bool   `json:"active"`
	InputFeePpk uint   `json:"input_fee_ppk,omitempty"`
}

// KeysetInfo carries the subset of crypto.MintKeyset a GET /v1/keysets
// listing reports: a running mint decides active/inactive per keyset,
// so that is passed separately rather than derived from the keyset.
type KeysetInfo struct {
	Id          string
	Unit        string
	InputFeePpk uint
}

// NewKeyset builds a listing entry for a keyset the mint currently
// advertises as active or retired.
func NewKeyset(info KeysetInfo, active bool) Keyset {
	return Keyset{
		Id:          info.Id,
		Unit:        info.Unit,
		Active:      active,
		InputFeePpk: info.InputFeePpk,
	}
}
