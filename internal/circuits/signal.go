package circuits

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/hash/mimc"
)

const (
	// SignalTypeMin and SignalTypeMax bound the signal taxonomy.
	SignalTypeMin = 1
	SignalTypeMax = 10

	// ConfidenceMax caps the confidence score (percent).
	ConfidenceMax = 100

	// SignalCircuitName identifies the signal relation.
	SignalCircuitName = "signal_attestation_v1"
)

// SignalCircuit proves that a signal payload hashes to the public SignalHash
// and was produced against the public ModelHash at the declared timestamp.
// IsValid is computed inside the circuit: it is 1 exactly when the private
// signal type and confidence fall in their allowed ranges. The relation stays
// satisfiable for out-of-range payloads (IsValid=0), leaving the accept/reject
// policy to the registry.
//
// Public output order: SignalHash, IsValid, ModelHash, Timestamp.
type SignalCircuit struct {
	SignalHash frontend.Variable `gnark:",public"`
	IsValid    frontend.Variable `gnark:",public"`
	ModelHash  frontend.Variable `gnark:",public"`
	Timestamp  frontend.Variable `gnark:",public"`

	SignalType frontend.Variable
	Confidence frontend.Variable
}

// Define implements frontend.Circuit.
func (c *SignalCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.SignalType)
	h.Write(c.Confidence)
	h.Write(c.ModelHash)
	h.Write(c.Timestamp)
	api.AssertIsEqual(h.Sum(), c.SignalHash)

	// Membership flags over small enumerable ranges: the sum of IsZero(x-k)
	// over k in [lo,hi] is 1 when x is in the range and 0 otherwise, without
	// ever asserting, so an out-of-range witness still satisfies the relation.
	typeOK := rangeFlag(api, c.SignalType, SignalTypeMin, SignalTypeMax)
	confOK := rangeFlag(api, c.Confidence, 0, ConfidenceMax)
	api.AssertIsEqual(api.Mul(typeOK, confOK), c.IsValid)

	api.AssertIsDifferent(c.Timestamp, 0)
	return nil
}

func rangeFlag(api frontend.API, x frontend.Variable, lo, hi int64) frontend.Variable {
	flag := frontend.Variable(0)
	for k := lo; k <= hi; k++ {
		flag = api.Add(flag, api.IsZero(api.Sub(x, k)))
	}
	return flag
}

// CompileSignal compiles the signal relation for BN254.
func CompileSignal() (constraint.ConstraintSystem, error) {
	var circuit SignalCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", SignalCircuitName, err)
	}
	return ccs, nil
}
