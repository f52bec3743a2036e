package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "SatLedger:genesis:v1"

// StateHasher chains state digests: state_hash[N] = SHA-256(prev_hash || N || digest).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher starts the chain at the genesis hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash appends one link and returns it.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
