// Package nut06 contains structs as defined in [NUT-06]
//
// [NUT-06]: https://github.com/cashubtc/nuts/blob/main/06.md
package nut06

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

type MintInfo struct {
	Name            string        `json:"name"`
	Pubkey          string        `json:"pubkey"`
	Version         string        `json:"version"`
	Description     string        `json:"description"`
	LongDescription string        `json:"description_long,omitempty"`
	Contact         []ContactInfo `json:"contact,omitempty"`
	Motd            string        `json:"motd,omitempty"`
	Nuts            NutsMap       `json:"nuts"`
}

type ContactInfo struct {
	Method string `json:"method"`
	Info   string `json:"info"`
}

// mintInfoWire mirrors MintInfo but leaves Contact raw, since older
// mints published it as a map instead of the current []ContactInfo
// and a hard failure there shouldn't block the rest of the info
// response from parsing.
type mintInfoWire struct {
	Name            string          `json:"name"`
	Pubkey          string          `json:"pubkey"`
	Version         string          `json:"version"`
	Description     string          `json:"description"`
	LongDescription string          `json:"description_long,omitempty"`
	Contact         json.RawMessage `json:"contact,omitempty"`
	Motd            string          `json:"motd,omitempty"`
	Nuts            NutsMap         `json:"nuts"`
}

func (mi *MintInfo) UnmarshalJSON(data []byte) error {
	var wire mintInfoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding mint info: %w", err)
	}

	mi.Name = wire.Name
	mi.Pubkey = wire.Pubkey
	mi.Version = wire.Version
	mi.Description = wire.Description
	mi.LongDescription = wire.LongDescription
	mi.Motd = wire.Motd
	mi.Nuts = wire.Nuts

	if len(wire.Contact) > 0 {
		// best-effort: an old-format contact map is dropped rather
		// than failing the whole decode
		_ = json.Unmarshal(wire.Contact, &mi.Contact)
	}

	return nil
}

type NutSetting struct {
	Methods  []MethodSetting `json:"methods"`
	Disabled bool            `json:"disabled"`
}

type MethodSetting struct {
	Method    string `json:"method"`
	Unit      string `json:"unit"`
	MinAmount uint64 `json:"min_amount,omitempty"`
	MaxAmount uint64 `json:"max_amount,omitempty"`
}

type NutsMap map[int]any

// MarshalJSON emits entries ordered by NUT number: Go's encoding/json
// sorts map keys lexically by their encoded string form, so a plain
// map[int]any would print "1","10","11",...,"2" instead of numeric
// order. Keys are sorted numerically first, then each entry is
// marshaled individually and appended in that order.
func (nm NutsMap) MarshalJSON() ([]byte, error) {
	nuts := make([]int, 0, len(nm))
	for k := range nm {
		nuts = append(nuts, k)
	}
	slices.Sort(nuts)

	ordered := make(map[string]any, len(nuts))
	keyOrder := make([]string, len(nuts))
	for i, num := range nuts {
		key := strconv.Itoa(num)
		ordered[key] = nm[num]
		keyOrder[i] = key
	}

	var out []byte
	out = append(out, '{')
	for i, key := range keyOrder {
		if i != 0 {
			out = append(out, ',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(ordered[key])
		if err != nil {
			return nil, fmt.Errorf("marshaling nut %s: %w", key, err)
		}
		out = append(out, keyJSON...)
		out = append(out, ':')
		out = append(out, valJSON...)
	}
	out = append(out, '}')
	return out, nil
}
