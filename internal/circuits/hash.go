package circuits

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/ethereum/go-ethereum/common"
)

// HashModelWeights mirrors the in-circuit MiMC digest over the weight vector.
// The result is byte-identical to the WeightsHash public output, which is what
// makes the model->signal linkage deterministic across the proof boundary.
func HashModelWeights(weights []uint64) (common.Hash, error) {
	if len(weights) != WeightCount {
		return common.Hash{}, fmt.Errorf("expected %d weights, got %d", WeightCount, len(weights))
	}
	h := mimc.NewMiMC()
	for _, w := range weights {
		var el fr.Element
		el.SetUint64(w)
		b := el.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return common.Hash{}, fmt.Errorf("hash weight: %w", err)
		}
	}
	return common.BytesToHash(h.Sum(nil)), nil
}

// HashSignal mirrors the in-circuit MiMC digest over the signal payload.
func HashSignal(signalType, confidence uint64, modelHash common.Hash, timestamp uint64) (common.Hash, error) {
	if !FitsField(modelHash) {
		return common.Hash{}, fmt.Errorf("model hash %s is not a canonical field element", modelHash.Hex())
	}
	h := mimc.NewMiMC()
	for _, v := range []uint64{signalType, confidence} {
		var el fr.Element
		el.SetUint64(v)
		b := el.Bytes()
		if _, err := h.Write(b[:]); err != nil {
			return common.Hash{}, fmt.Errorf("hash signal field: %w", err)
		}
	}
	var el fr.Element
	el.SetBigInt(new(big.Int).SetBytes(modelHash[:]))
	b := el.Bytes()
	if _, err := h.Write(b[:]); err != nil {
		return common.Hash{}, fmt.Errorf("hash model reference: %w", err)
	}
	el.SetUint64(timestamp)
	b = el.Bytes()
	if _, err := h.Write(b[:]); err != nil {
		return common.Hash{}, fmt.Errorf("hash timestamp: %w", err)
	}
	return common.BytesToHash(h.Sum(nil)), nil
}

// FitsField reports whether the 32-byte hash already is a canonical BN254
// scalar. Hashes produced by MiMC always are; caller-supplied ones may not be.
func FitsField(h common.Hash) bool {
	return new(big.Int).SetBytes(h[:]).Cmp(fr.Modulus()) < 0
}
