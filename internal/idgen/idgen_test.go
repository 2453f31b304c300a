package idgen

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func genKeys(t *testing.T, n int) []*btcec.PublicKey {
	t.Helper()
	keys := make([]*btcec.PublicKey, n)
	for i := range keys {
		priv, err := btcec.NewPrivateKey()
		if err != nil {
			t.Fatalf("NewPrivateKey: %v", err)
		}
		keys[i] = priv.PubKey()
	}
	return keys
}

func TestSessionIDDeterministicRegardlessOfInputOrder(t *testing.T) {
	keys := genKeys(t, 3)
	msg := []byte("Test transaction to sign with MuSig2")

	sorted := SortSigners(keys)
	id1 := SessionID(sorted, msg)

	reversed := []*btcec.PublicKey{sorted[2], sorted[0], sorted[1]}
	id2 := SessionID(SortSigners(reversed), msg)

	if id1 != id2 {
		t.Fatal("expected identical session id regardless of input order, given canonical sort")
	}
}

func TestSessionIDChangesWithMessage(t *testing.T) {
	keys := SortSigners(genKeys(t, 2))
	id1 := SessionID(keys, []byte("msg a"))
	id2 := SessionID(keys, []byte("msg b"))
	if id1 == id2 {
		t.Fatal("expected different session ids for different messages")
	}
}

func TestSortSignersIsStableOrdering(t *testing.T) {
	keys := genKeys(t, 5)
	sorted1 := SortSigners(keys)
	sorted2 := SortSigners(sorted1)
	for i := range sorted1 {
		if !sorted1[i].IsEqual(sorted2[i]) {
			t.Fatal("expected sorting an already-sorted slice to be a no-op")
		}
	}
}

func TestNewPoolIDIsUniqueAndHex(t *testing.T) {
	a, err := NewPoolID()
	if err != nil {
		t.Fatalf("NewPoolID: %v", err)
	}
	b, err := NewPoolID()
	if err != nil {
		t.Fatalf("NewPoolID: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct pool ids")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}
