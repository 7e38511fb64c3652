package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder is the number of amounts derived for a keyset: the first
// 64 powers of two, 2^0 .. 2^63.
const MaxOrder = 64

// legacy and v1 keysets derive from the same master secret but with
// distinct tags.
const (
	v1DerivationTag     = "sat"
	legacyDerivationTag = "legacy"
)

type MintKeyset struct {
	Id          string
	LegacyId    string
	Unit        string
	Active      bool
	Keys        map[uint64]KeyPair
	InputFeePpk uint
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// derivePrivateKey computes k_a = SHA256(master || tag || encode(a))
// reduced modulo the secp256k1 group order. encode(a) is the decimal
// representation of the amount.
func derivePrivateKey(masterSecret, tag string, amount uint64) *secp256k1.PrivateKey {
	h := sha256.New()
	h.Write([]byte(masterSecret))
	h.Write([]byte(tag))
	h.Write([]byte(strconv.FormatUint(amount, 10)))
	digest := h.Sum(nil)
	return secp256k1.PrivKeyFromBytes(digest)
}

// GenerateKeyset derives the 64 per-amount keypairs for a keyset from
// a master secret string and a derivation tag, and computes both the
// v1 and legacy keyset IDs from the same digest.
func GenerateKeyset(masterSecret, tag string, inputFeePpk uint) *MintKeyset {
	keys := make(map[uint64]KeyPair, MaxOrder)
	pks := make(PublicKeys, MaxOrder)

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(math.Pow(2, float64(i)))
		priv := derivePrivateKey(masterSecret, tag, amount)
		keys[amount] = KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}
		pks[amount] = priv.PubKey()
	}

	id, legacyId := DeriveKeysetIds(pks)

	return &MintKeyset{
		Id:          id,
		LegacyId:    legacyId,
		Unit:        "sat",
		Active:      true,
		Keys:        keys,
		InputFeePpk: inputFeePpk,
	}
}

// NewV1Keyset and NewLegacyKeyset build the two keysets a running mint
// keeps side by side, both derived from the same master
// secret with distinct tags.
func NewV1Keyset(masterSecret string, inputFeePpk uint) *MintKeyset {
	return GenerateKeyset(masterSecret, v1DerivationTag, inputFeePpk)
}

func NewLegacyKeyset(masterSecret string, inputFeePpk uint) *MintKeyset {
	ks := GenerateKeyset(masterSecret, legacyDerivationTag, inputFeePpk)
	ks.Id = ks.LegacyId
	return ks
}

// MintPubkey is the mint's advertised public key: the key for amount 1,
// by convention.
func (ks *MintKeyset) MintPubkey() *secp256k1.PublicKey {
	return ks.Keys[1].PublicKey
}

type PublicKeys map[uint64]*secp256k1.PublicKey

// MarshalJSON emits keys sorted by amount, matching how Cashu wallets
// expect the GET /v1/keys response to be ordered.
func (pks PublicKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	amounts := make([]uint64, 0, len(pks))
	for k := range pks {
		amounts = append(amounts, k)
	}
	slices.Sort(amounts)

	for j, amount := range amounts {
		if j != 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `"%d":`, amount)
		val, err := json.Marshal(hex.EncodeToString(pks[amount].SerializeCompressed()))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (pks PublicKeys) UnmarshalJSON(data []byte) error {
	var temp map[uint64]string
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	for amount, key := range temp {
		keyBytes, err := hex.DecodeString(key)
		if err != nil {
			return err
		}
		pub, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("invalid public key: %v", err)
		}
		pks[amount] = pub
	}
	return nil
}

// keysetIdVersion is the fixed leading byte every v1 keyset ID starts
// with, identifying the ID as a 7-byte SHA256 digest prefix rather than
// the legacy base64 format.
const keysetIdVersion = "00"

// DeriveKeysetIds returns the v1 (2-hex-digit version byte followed by
// 7 digest bytes, 16 hex chars total) and legacy (12-char base64,
// encoding the first 9 digest bytes) keyset IDs derived from the same
// digest over the ascending-amount concatenation of compressed public
// keys.
func DeriveKeysetIds(keyset PublicKeys) (v1Id, legacyId string) {
	type entry struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}
	entries := make([]entry, 0, len(keyset))
	for amount, pk := range keyset {
		entries = append(entries, entry{amount, pk})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].amount < entries[j].amount })

	concat := make([]byte, 0, len(entries)*33)
	for _, e := range entries {
		concat = append(concat, e.pk.SerializeCompressed()...)
	}

	digest := sha256.Sum256(concat)
	v1Id = keysetIdVersion + hex.EncodeToString(digest[:7])
	legacyId = base64.StdEncoding.EncodeToString(digest[:9])
	return v1Id, legacyId
}

// PublicKeys returns the keyset's public keys as an amount -> pubkey map.
func (ks *MintKeyset) PublicKeys() PublicKeys {
	pubkeys := make(PublicKeys, len(ks.Keys))
	for amount, kp := range ks.Keys {
		pubkeys[amount] = kp.PublicKey
	}
	return pubkeys
}

// keysetTemp shadows MintKeyset for custom JSON marshaling so the real
// struct can hold *secp256k1 types directly.
type keysetTemp struct {
	Id          string
	Unit        string
	Active      bool
	Keys        map[uint64]json.RawMessage
	InputFeePpk uint
}

func (ks *MintKeyset) MarshalJSON() ([]byte, error) {
	temp := &keysetTemp{
		Id:     ks.Id,
		Unit:   ks.Unit,
		Active: ks.Active,
		Keys: func() map[uint64]json.RawMessage {
			m := make(map[uint64]json.RawMessage, len(ks.Keys))
			for k, v := range ks.Keys {
				b, _ := json.Marshal(&v)
				m[k] = b
			}
			return m
		}(),
		InputFeePpk: ks.InputFeePpk,
	}
	return json.Marshal(temp)
}

type keyPairTemp struct {
	PrivateKey []byte `json:"private_key,omitempty"`
	PublicKey  []byte `json:"public_key"`
}

func (kp *KeyPair) MarshalJSON() ([]byte, error) {
	var priv []byte
	if kp.PrivateKey != nil {
		priv = kp.PrivateKey.Serialize()
	}
	return json.Marshal(keyPairTemp{
		PrivateKey: priv,
		PublicKey:  kp.PublicKey.SerializeCompressed(),
	})
}
