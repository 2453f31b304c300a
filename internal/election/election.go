// Package election implements Component D: deterministic, independently
// verifiable coordinator election over a signer set.
package election

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"
	"github.com/LotusiaStewardship/lotus-sdk-sub003/internal/idgen"
)

// Method is one of the four deterministic election strategies.
type Method string

const (
	Lexicographic Method = "LEXICOGRAPHIC"
	HashBased     Method = "HASH_BASED"
	FirstSigner   Method = "FIRST_SIGNER"
	LastSigner    Method = "LAST_SIGNER"
)

// Result is the outcome of an election, independently reproducible by
// every participant from the same (signers, method) input.
type Result struct {
	CoordinatorIndex     int
	CoordinatorPublicKey *btcec.PublicKey
	SortedSigners        []*btcec.PublicKey
	// IndexMapping maps original-order index to sorted-order index.
	IndexMapping []int
	ElectionProof [32]byte
	// FailoverChain lists sorted-order indices in the order the
	// coordinator role is handed off on repeated failure, starting with
	// CoordinatorIndex itself.
	FailoverChain []int
}

// Elect runs method over signers (in their original submission order) and
// returns a fully reproducible Result.
func Elect(signers []*btcec.PublicKey, method Method) (*Result, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("election: empty signer set")
	}

	sorted := idgen.SortSigners(signers)
	indexMapping := make([]int, len(signers))
	for origIdx, pub := range signers {
		for sortedIdx, sp := range sorted {
			if sp.IsEqual(pub) {
				indexMapping[origIdx] = sortedIdx
				break
			}
		}
	}

	var coordIdx int
	var failover []int

	switch method {
	case Lexicographic:
		failover = make([]int, len(sorted))
		for i := range failover {
			failover[i] = i
		}
		coordIdx = failover[0]

	case HashBased:
		seed := hashConcat(sorted)
		n := len(sorted)
		tried := make(map[int]bool, n)
		failover = make([]int, 0, n)
		for len(failover) < n {
			idx := int(seed[0])<<24 | int(seed[1])<<16 | int(seed[2])<<8 | int(seed[3])
			if idx < 0 {
				idx = -idx
			}
			idx %= n
			if !tried[idx] {
				tried[idx] = true
				failover = append(failover, idx)
			}
			seed = lotuscrypto.Sha256(seed[:])
		}
		coordIdx = failover[0]

	case FirstSigner:
		coordIdx = indexMapping[0]
		failover = make([]int, 0, len(sorted))
		failover = append(failover, coordIdx)
		for i := 0; i < len(signers); i++ {
			idx := indexMapping[i]
			if idx != coordIdx {
				failover = append(failover, idx)
			}
		}

	case LastSigner:
		coordIdx = indexMapping[len(signers)-1]
		failover = make([]int, 0, len(sorted))
		failover = append(failover, coordIdx)
		for i := len(signers) - 1; i >= 0; i-- {
			idx := indexMapping[i]
			if idx != coordIdx {
				failover = append(failover, idx)
			}
		}

	default:
		return nil, fmt.Errorf("election: unknown method %q", method)
	}

	proof := electionProof(method, sorted, sorted[coordIdx])

	return &Result{
		CoordinatorIndex:     coordIdx,
		CoordinatorPublicKey: sorted[coordIdx],
		SortedSigners:        sorted,
		IndexMapping:         indexMapping,
		ElectionProof:        proof,
		FailoverChain:        failover,
	}, nil
}

// Verify recomputes the election for signers/method and byte-compares
// every field of result, rejecting on any mismatch.
func Verify(signers []*btcec.PublicKey, method Method, result *Result) bool {
	recomputed, err := Elect(signers, method)
	if err != nil {
		return false
	}
	if recomputed.CoordinatorIndex != result.CoordinatorIndex {
		return false
	}
	if !recomputed.CoordinatorPublicKey.IsEqual(result.CoordinatorPublicKey) {
		return false
	}
	if recomputed.ElectionProof != result.ElectionProof {
		return false
	}
	if len(recomputed.SortedSigners) != len(result.SortedSigners) {
		return false
	}
	for i := range recomputed.SortedSigners {
		if !recomputed.SortedSigners[i].IsEqual(result.SortedSigners[i]) {
			return false
		}
	}
	if len(recomputed.IndexMapping) != len(result.IndexMapping) || len(recomputed.FailoverChain) != len(result.FailoverChain) {
		return false
	}
	for i := range recomputed.IndexMapping {
		if recomputed.IndexMapping[i] != result.IndexMapping[i] {
			return false
		}
	}
	for i := range recomputed.FailoverChain {
		if recomputed.FailoverChain[i] != result.FailoverChain[i] {
			return false
		}
	}
	return true
}

func hashConcat(sorted []*btcec.PublicKey) [32]byte {
	parts := make([][]byte, len(sorted))
	for i, p := range sorted {
		parts[i] = lotuscrypto.SerializePublicKey(p)
	}
	return lotuscrypto.Sha256(parts...)
}

func electionProof(method Method, sorted []*btcec.PublicKey, coordinator *btcec.PublicKey) [32]byte {
	parts := make([][]byte, 0, len(sorted)+2)
	parts = append(parts, []byte(method))
	for _, p := range sorted {
		parts = append(parts, lotuscrypto.SerializePublicKey(p))
	}
	parts = append(parts, lotuscrypto.SerializePublicKey(coordinator))
	return lotuscrypto.Sha256(parts...)
}
