package circuits

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

const (
	// WeightCount is the fixed arity of the model weight vector. Changing it
	// changes the relation and therefore requires a new setup ceremony.
	WeightCount = 16

	// weightBits bounds each weight to a fixed-point 64-bit scaled integer so
	// witness generation is deterministic across platforms.
	weightBits = 64

	// ModelCircuitName identifies the model relation. The suffix is the
	// circuit version; bumping it invalidates all existing key material.
	ModelCircuitName = "model_attestation_v1"
)

// ModelCircuit proves knowledge of a weight vector whose in-circuit MiMC
// digest equals the public WeightsHash, at a declared version and timestamp.
//
// Public outputs are declared in the exact order they appear on the wire:
// WeightsHash, Version, Timestamp. Verification is positional, so field order
// here is part of the protocol.
type ModelCircuit struct {
	WeightsHash frontend.Variable `gnark:",public"`
	Version     frontend.Variable `gnark:",public"`
	Timestamp   frontend.Variable `gnark:",public"`

	// Weights stay private; only their digest is revealed.
	Weights [WeightCount]frontend.Variable
}

// Define implements frontend.Circuit.
func (c *ModelCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	for i := 0; i < WeightCount; i++ {
		// Range-constrain each weight to the fixed-point domain.
		api.ToBinary(c.Weights[i], weightBits)
		h.Write(c.Weights[i])
	}
	api.AssertIsEqual(h.Sum(), c.WeightsHash)

	// Version is monotonic per lineage and starts at 1; a zero timestamp can
	// never fall inside any freshness window.
	api.AssertIsDifferent(c.Version, 0)
	api.AssertIsDifferent(c.Timestamp, 0)
	return nil
}

// CompileModel compiles the model relation for BN254.
func CompileModel() (constraint.ConstraintSystem, error) {
	var circuit ModelCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", ModelCircuitName, err)
	}
	return ccs, nil
}

// ContentHash returns the sha256 digest of the serialized constraint system.
// The registry records it at setup and refuses proofs produced against a
// different compilation, so a silently mismatched verifier cannot validate
// proofs from the wrong circuit.
func ContentHash(ccs constraint.ConstraintSystem) ([32]byte, error) {
	var buf bytes.Buffer
	if _, err := ccs.WriteTo(&buf); err != nil {
		return [32]byte{}, fmt.Errorf("serialize constraint system: %w", err)
	}
	return sha256.Sum256(buf.Bytes()), nil
}
