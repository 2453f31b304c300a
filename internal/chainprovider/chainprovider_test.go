package chainprovider

import (
	"context"
	"testing"
)

func sequentialTxID() func() string {
	n := 0
	return func() string {
		n++
		return map[int]string{1: "broadcast-tx-1", 2: "broadcast-tx-2"}[n]
	}
}

func TestInMemoryChainSeedAndFetchUTXO(t *testing.T) {
	chain := NewInMemoryChain(sequentialTxID())
	chain.SeedUTXO(UTXO{TxID: "abc", Vout: 0, Amount: 50000, ScriptPubKey: "5120deadbeef", Confirmations: 3})

	got, err := chain.GetUTXO(context.Background(), "abc", 0)
	if err != nil {
		t.Fatalf("GetUTXO: %v", err)
	}
	if got.Amount != 50000 || got.Confirmations != 3 {
		t.Fatalf("unexpected utxo: %+v", got)
	}
}

func TestInMemoryChainUnknownUTXOErrors(t *testing.T) {
	chain := NewInMemoryChain(sequentialTxID())
	if _, err := chain.GetUTXO(context.Background(), "nope", 0); err == nil {
		t.Fatal("expected error for unknown utxo")
	}
}

func TestInMemoryChainConfirmationsAdvance(t *testing.T) {
	chain := NewInMemoryChain(sequentialTxID())
	chain.SeedUTXO(UTXO{TxID: "abc", Vout: 0, Amount: 1000})

	chain.SetConfirmations("abc", 6)
	confs, err := chain.GetConfirmations(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetConfirmations: %v", err)
	}
	if confs != 6 {
		t.Fatalf("expected 6 confirmations, got %d", confs)
	}
}

func TestInMemoryChainBroadcastRecordsRawBytes(t *testing.T) {
	chain := NewInMemoryChain(sequentialTxID())
	raw := []byte{0x02, 0x00, 0x00, 0x00}

	txid, err := chain.Broadcast(context.Background(), raw)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if txid != "broadcast-tx-1" {
		t.Fatalf("unexpected txid: %s", txid)
	}
	got, ok := chain.Broadcasted(txid)
	if !ok {
		t.Fatal("expected broadcast to be recorded")
	}
	if len(got) != len(raw) {
		t.Fatalf("recorded bytes mismatch: %v vs %v", got, raw)
	}

	confs, err := chain.GetConfirmations(context.Background(), txid)
	if err != nil {
		t.Fatalf("GetConfirmations: %v", err)
	}
	if confs != 0 {
		t.Fatalf("expected freshly broadcast tx to have 0 confirmations, got %d", confs)
	}
}
