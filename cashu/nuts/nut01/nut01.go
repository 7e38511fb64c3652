// Package nut01 contains structs as defined in [NUT-01]
//
// [NUT-01]: https://github.com/cashubtc/nuts/blob/main/01.md
package nut01

import (
	"encoding/json"
	"fmt"

	"github.com/cashumint/mintd/crypto"
)

type GetKeysResponse struct {
	Keysets []Keyset `json:"keysets"`
}

type Keyset struct {
	Id   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys crypto.PublicKeys `json:"keys"`
}

// keysetsWire mirrors GetKeysResponse's wire shape with each keyset
// left raw, so decoding one keyset at a time can report which index
// failed instead of only where the outer object failed.
type keysetsWire struct {
	Keysets []json.RawMessage `json:"keysets"`
}

func (kr *GetKeysResponse) UnmarshalJSON(data []byte) error {
	var wire keysetsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding keys response: %w", err)
	}

	keysets := make([]Keyset, len(wire.Keysets))
	for i, raw := range wire.Keysets {
		if err := json.Unmarshal(raw, &keysets[i]); err != nil {
			return fmt.Errorf("decoding keyset %d: %w", i, err)
		}
	}
	kr.Keysets = keysets

	return nil
}

// keysetWire mirrors Keyset's wire shape, deferring the Keys field to
// crypto.PublicKeys' own unmarshaler.
type keysetWire struct {
	Id   string          `json:"id"`
	Unit string          `json:"unit"`
	Keys json.RawMessage `json:"keys"`
}

func (ks *Keyset) UnmarshalJSON(data []byte) error {
	var wire keysetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding keyset: %w", err)
	}

	ks.Id = wire.Id
	ks.Unit = wire.Unit

	publicKeys := make(crypto.PublicKeys)
	if err := json.Unmarshal(wire.Keys, &publicKeys); err != nil {
		return fmt.Errorf("decoding keyset %s keys: %w", wire.Id, err)
	}
	ks.Keys = publicKeys

	return nil
}
