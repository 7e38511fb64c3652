package crypto

import "testing"

func TestGenerateKeysetDeterministic(t *testing.T) {
	a := NewV1Keyset("mytestsecret", 0)
	b := NewV1Keyset("mytestsecret", 0)

	if a.Id != b.Id {
		t.Fatalf("expected identical keyset IDs, got %q and %q", a.Id, b.Id)
	}
	for amount, kpA := range a.Keys {
		kpB, ok := b.Keys[amount]
		if !ok {
			t.Fatalf("amount %d missing from second derivation", amount)
		}
		if !kpA.PublicKey.IsEqual(kpB.PublicKey) {
			t.Fatalf("public key mismatch at amount %d", amount)
		}
	}
}

func TestGenerateKeysetShape(t *testing.T) {
	ks := NewV1Keyset("mytestsecret", 0)

	if len(ks.Keys) != MaxOrder {
		t.Fatalf("expected %d keys, got %d", MaxOrder, len(ks.Keys))
	}
	if ks.Unit != "sat" {
		t.Fatalf("expected unit sat, got %q", ks.Unit)
	}
	if len(ks.Id) != 16 {
		t.Fatalf("expected 16-char v1 keyset id, got %q (%d chars)", ks.Id, len(ks.Id))
	}
	if _, ok := ks.Keys[1]; !ok {
		t.Fatal("expected amount 1 key to exist for mint pubkey")
	}
}

func TestLegacyKeysetIdLength(t *testing.T) {
	ks := NewLegacyKeyset("mytestsecret", 0)
	if len(ks.Id) != 12 {
		t.Fatalf("expected 12-char legacy keyset id, got %q (%d chars)", ks.Id, len(ks.Id))
	}
}

func TestV1KeysetIdHasVersionPrefix(t *testing.T) {
	ks := NewV1Keyset("anothersecret", 0)
	if ks.Id[:2] != keysetIdVersion {
		t.Fatalf("expected v1 keyset id to start with version byte %q, got %q", keysetIdVersion, ks.Id)
	}
}

func TestDifferentMasterSecretsDeriveDifferentIds(t *testing.T) {
	a := NewV1Keyset("mytestsecret", 0)
	b := NewV1Keyset("othersecret", 0)
	if a.Id == b.Id {
		t.Fatal("expected different master secrets to derive different keyset IDs")
	}
}

// TestMytestsecretVectors pins known-good derivation output: a mint
// built with master secret "mytestsecret" derives a v1 keyset ID of
// "00f545318e4fad2b" and a legacy keyset ID of "53eJP2+qJyTd".
func TestMytestsecretVectors(t *testing.T) {
	v1 := NewV1Keyset("mytestsecret", 0)
	legacy := NewLegacyKeyset("mytestsecret", 0)

	const wantV1 = "00f545318e4fad2b"
	const wantLegacy = "53eJP2+qJyTd"

	if v1.Id != wantV1 {
		t.Errorf("v1 keyset id: got %q, want %q", v1.Id, wantV1)
	}
	if legacy.Id != wantLegacy {
		t.Errorf("legacy keyset id: got %q, want %q", legacy.Id, wantLegacy)
	}
}
