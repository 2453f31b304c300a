package swapsig

import lotuscrypto "github.com/LotusiaStewardship/lotus-sdk-sub003/internal/crypto"

// GroupSize picks the settlement group size for a closed registration of
// count participants.
func GroupSize(count int) (size int, ok bool) {
	switch {
	case count <= 0:
		return 0, false
	case count <= 9:
		return 2, true
	case count <= 14:
		return 3, true
	case count <= 49:
		return 5, true
	default:
		return 10, true
	}
}

// FormGroups partitions participants into equal-size settlement groups by
// GroupSize(len(participants)), returning any remainder that does not fill
// a full group as deferred.
func FormGroups(participants []*Participant) (groups [][]*Participant, deferred []*Participant) {
	size, ok := GroupSize(len(participants))
	if !ok {
		return nil, participants
	}
	n := len(participants) / size
	for g := 0; g < n; g++ {
		groups = append(groups, participants[g*size:(g+1)*size])
	}
	deferred = participants[n*size:]
	return groups, deferred
}

// DerivePermutation computes the settlement permutation sigma for a group,
// seeded by SHA256("swapsig/perm" || poolID || 4-byte big-endian
// groupIndex || each final address in order), then a deterministic
// Fisher-Yates shuffle that takes each swap index from the seed's first four
// bytes and re-hashes the seed once per step.
func DerivePermutation(poolID string, groupIndex int, finalAddresses []string) []int {
	g := len(finalAddresses)
	perm := make([]int, g)
	for i := range perm {
		perm[i] = i
	}
	if g <= 1 {
		return perm
	}

	parts := make([][]byte, 0, g+3)
	parts = append(parts, []byte("swapsig/perm"), []byte(poolID), encodeInt(groupIndex))
	for _, a := range finalAddresses {
		parts = append(parts, []byte(a))
	}
	seed := lotuscrypto.Sha256(parts...)

	for i := g - 1; i > 0; i-- {
		idx := int(seed[0])<<24 | int(seed[1])<<16 | int(seed[2])<<8 | int(seed[3])
		if idx < 0 {
			idx = -idx
		}
		j := idx % (i + 1)
		perm[i], perm[j] = perm[j], perm[i]
		seed = lotuscrypto.Sha256(seed[:])
	}
	return perm
}

func encodeInt(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
