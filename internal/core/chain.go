package core

import (
	"crypto/sha256"
	"encoding/binary"
)

// Digest is one link of the state hash chain.
type Digest = [32]byte

var chainDomain = []byte("OutcomeMarket:genesis:v1")

// GenesisHash is the chain tip before the first command.
func GenesisHash() Digest {
	return sha256.Sum256(chainDomain)
}

// hashChain links every applied command to the one before it:
//
//	link[n] = SHA-256(link[n-1] || le64(n) || delta[n])
type hashChain struct {
	tip Digest
}

func newHashChain() *hashChain {
	return &hashChain{tip: GenesisHash()}
}

// extend folds the state delta of seq into the chain and returns the new tip.
func (hc *hashChain) extend(seq int64, delta []byte) Digest {
	buf := make([]byte, 0, len(hc.tip)+8+len(delta))
	buf = append(buf, hc.tip[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(seq))
	buf = append(buf, delta...)
	hc.tip = sha256.Sum256(buf)
	return hc.tip
}

func (hc *hashChain) head() Digest { return hc.tip }

// resume continues the chain from a restored tip.
func (hc *hashChain) resume(tip Digest) { hc.tip = tip }
