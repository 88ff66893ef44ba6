package donation

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ClaimLeaf computes the commitment for a single entitlement: the keccak256
// hash of the participant address concatenated with the amount as a 32-byte
// big-endian word.
func ClaimLeaf(participant [20]byte, amount *big.Int) [32]byte {
	var word [32]byte
	if amount != nil && amount.Sign() > 0 {
		amount.FillBytes(word[:])
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(participant[:], word[:]))
	return out
}

func hashPair(left, right [32]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(left[:], right[:]))
	return out
}

// VerifyClaimProof folds the sibling hashes over the leaf up to the root. The
// leaf index drives the concatenation order at every level, so a proof is only
// valid for the exact position it was generated for.
func VerifyClaimProof(leaf [32]byte, index uint64, proof [][32]byte, root [32]byte) bool {
	node := leaf
	for _, sibling := range proof {
		if index&1 == 1 {
			node = hashPair(sibling, node)
		} else {
			node = hashPair(node, sibling)
		}
		index >>= 1
	}
	return index == 0 && node == root
}

// ClaimEntry pairs a participant with the amount authorized for them in one
// commitment tree.
type ClaimEntry struct {
	Participant [20]byte
	Amount      *big.Int
}

// ClaimTree is the builder counterpart of VerifyClaimProof. The operator
// process that publishes commitment roots uses it to derive the root and the
// per-leaf proofs handed to participants. Odd levels are padded by repeating
// the final node.
type ClaimTree struct {
	levels [][][32]byte
}

// NewClaimTree builds the commitment tree over the supplied entries in order.
func NewClaimTree(entries []ClaimEntry) *ClaimTree {
	if len(entries) == 0 {
		return &ClaimTree{}
	}
	leaves := make([][32]byte, len(entries))
	for i, entry := range entries {
		leaves[i] = ClaimLeaf(entry.Participant, entry.Amount)
	}
	levels := [][][32]byte{leaves}
	for len(levels[len(levels)-1]) > 1 {
		current := levels[len(levels)-1]
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
			levels[len(levels)-1] = current
		}
		next := make([][32]byte, len(current)/2)
		for i := range next {
			next[i] = hashPair(current[2*i], current[2*i+1])
		}
		levels = append(levels, next)
	}
	return &ClaimTree{levels: levels}
}

// Root returns the commitment root, or the zero hash for an empty tree.
func (t *ClaimTree) Root() [32]byte {
	if t == nil || len(t.levels) == 0 {
		return [32]byte{}
	}
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return [32]byte{}
	}
	return top[0]
}

// Proof returns the sibling path for the leaf at the supplied index.
func (t *ClaimTree) Proof(index int) ([][32]byte, error) {
	if t == nil || len(t.levels) == 0 || index < 0 || index >= len(t.levels[0]) {
		return nil, fmt.Errorf("claim tree: leaf index %d out of range", index)
	}
	proof := make([][32]byte, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}
		proof = append(proof, level[sibling])
		index /= 2
	}
	return proof, nil
}
