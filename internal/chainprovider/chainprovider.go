// Package chainprovider implements the Chain capability:
// read-only UTXO lookup, confirmation depth, and transaction broadcast.
// Adapted from internal/backend.MempoolBackend, trimmed to the
// three operations the MuSig2/SwapSig core actually needs and generalized
// from a single hardcoded API shape to any mempool.space-compatible esplora
// endpoint.
package chainprovider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// UTXO mirrors the subset of an unspent output SwapSig's setup/settlement
// transactions need to reference.
type UTXO struct {
	TxID          string
	Vout          uint32
	Amount        int64
	ScriptPubKey  string
	Confirmations int64
}

// Chain is the capability interface the MuSig2/SwapSig core depends on.
type Chain interface {
	GetUTXO(ctx context.Context, txid string, vout uint32) (*UTXO, error)
	GetConfirmations(ctx context.Context, txid string) (int64, error)
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}

// EsploraChain talks to a mempool.space/blockstream.info-compatible REST API.
type EsploraChain struct {
	baseURL string
	client  *http.Client
}

// NewEsploraChain constructs an EsploraChain against baseURL (no trailing
// slash required).
func NewEsploraChain(baseURL string) *EsploraChain {
	return &EsploraChain{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type esploraTxOut struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
}

type esploraTx struct {
	TxID   string         `json:"txid"`
	Vout   []esploraTxOut `json:"vout"`
	Status esploraStatus  `json:"status"`
}

// GetUTXO fetches a transaction and extracts output vout, along with its
// current confirmation count (0 if unconfirmed; an error if the tip height
// cannot be read).
func (e *EsploraChain) GetUTXO(ctx context.Context, txid string, vout uint32) (*UTXO, error) {
	tx, err := e.getTx(ctx, txid)
	if err != nil {
		return nil, err
	}
	if int(vout) >= len(tx.Vout) {
		return nil, fmt.Errorf("chainprovider: vout %d out of range for tx %s", vout, txid)
	}
	out := tx.Vout[vout]

	confs, err := e.confirmationsFor(ctx, tx.Status)
	if err != nil {
		return nil, err
	}

	return &UTXO{
		TxID:          tx.TxID,
		Vout:          vout,
		Amount:        out.Value,
		ScriptPubKey:  out.ScriptPubKey,
		Confirmations: confs,
	}, nil
}

// GetConfirmations returns the confirmation depth of txid, or 0 if it is
// still unconfirmed.
func (e *EsploraChain) GetConfirmations(ctx context.Context, txid string) (int64, error) {
	tx, err := e.getTx(ctx, txid)
	if err != nil {
		return 0, err
	}
	return e.confirmationsFor(ctx, tx.Status)
}

func (e *EsploraChain) confirmationsFor(ctx context.Context, status esploraStatus) (int64, error) {
	if !status.Confirmed {
		return 0, nil
	}
	tip, err := e.tipHeight(ctx)
	if err != nil {
		return 0, err
	}
	depth := tip - status.BlockHeight + 1
	if depth < 0 {
		depth = 0
	}
	return depth, nil
}

func (e *EsploraChain) getTx(ctx context.Context, txid string) (*esploraTx, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/tx/"+txid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chainprovider: fetch tx %s: %w", txid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chainprovider: tx %s: status %d", txid, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var tx esploraTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("chainprovider: decode tx %s: %w", txid, err)
	}
	return &tx, nil
}

func (e *EsploraChain) tipHeight(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("chainprovider: fetch tip height: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("chainprovider: tip height: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	var height int64
	if err := json.Unmarshal(body, &height); err != nil {
		return 0, fmt.Errorf("chainprovider: decode tip height: %w", err)
	}
	return height, nil
}

// Broadcast submits rawTx (serialized wire bytes, hex-encoded here as the
// upstream API expects) and returns the resulting txid.
func (e *EsploraChain) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tx", strings.NewReader(hex.EncodeToString(rawTx)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chainprovider: broadcast: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chainprovider: broadcast rejected: %s", strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

// InMemoryChain is a deterministic Chain fake for tests: UTXOs and
// confirmation counts are seeded directly, and Broadcast just records the
// raw bytes it was given under a caller-assigned txid.
type InMemoryChain struct {
	mu            sync.Mutex
	utxos         map[string]*UTXO
	confirmations map[string]int64
	broadcasts    map[string][]byte
	nextTxID      func() string
}

// NewInMemoryChain constructs an empty InMemoryChain. nextTxID generates
// the txid returned by Broadcast; pass a fixed-sequence generator in tests
// for determinism.
func NewInMemoryChain(nextTxID func() string) *InMemoryChain {
	return &InMemoryChain{
		utxos:         make(map[string]*UTXO),
		confirmations: make(map[string]int64),
		broadcasts:    make(map[string][]byte),
		nextTxID:      nextTxID,
	}
}

func utxoKey(txid string, vout uint32) string { return fmt.Sprintf("%s:%d", txid, vout) }

// SeedUTXO registers a UTXO fixture for GetUTXO to return.
func (c *InMemoryChain) SeedUTXO(u UTXO) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := u
	c.utxos[utxoKey(u.TxID, u.Vout)] = &cp
	c.confirmations[u.TxID] = u.Confirmations
}

// SetConfirmations updates the confirmation count GetConfirmations reports
// for txid, simulating the passage of blocks.
func (c *InMemoryChain) SetConfirmations(txid string, confs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmations[txid] = confs
}

func (c *InMemoryChain) GetUTXO(_ context.Context, txid string, vout uint32) (*UTXO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.utxos[utxoKey(txid, vout)]
	if !ok {
		return nil, fmt.Errorf("chainprovider: unknown utxo %s:%d", txid, vout)
	}
	cp := *u
	cp.Confirmations = c.confirmations[txid]
	return &cp, nil
}

func (c *InMemoryChain) GetConfirmations(_ context.Context, txid string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	confs, ok := c.confirmations[txid]
	if !ok {
		return 0, fmt.Errorf("chainprovider: unknown tx %s", txid)
	}
	return confs, nil
}

func (c *InMemoryChain) Broadcast(_ context.Context, rawTx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txid := c.nextTxID()
	c.broadcasts[txid] = rawTx
	c.confirmations[txid] = 0
	return txid, nil
}

// Broadcasted returns the raw bytes submitted under txid, for test
// assertions.
func (c *InMemoryChain) Broadcasted(txid string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.broadcasts[txid]
	return raw, ok
}
