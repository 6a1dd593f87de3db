package proofs

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
)

// Artifact carries a serialized Groth16 proof (the A, B, C curve points) and
// its public signals as positionally ordered field elements. Verification
// recomputes the expected signals positionally, so order is part of the
// protocol and any post-proof tampering fails the pairing check.
type Artifact struct {
	CircuitName   string
	CircuitHash   [32]byte
	Proof         []byte
	PublicSignals [][]byte
}

// Clone returns a deep copy so callers cannot mutate a submitted artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	clone := &Artifact{
		CircuitName: a.CircuitName,
		CircuitHash: a.CircuitHash,
		Proof:       append([]byte(nil), a.Proof...),
	}
	for _, s := range a.PublicSignals {
		clone.PublicSignals = append(clone.PublicSignals, append([]byte(nil), s...))
	}
	return clone
}

// FieldBytes canonically encodes v as a 32-byte BN254 scalar.
func FieldBytes(v *big.Int) []byte {
	var el fr.Element
	el.SetBigInt(v)
	b := el.Bytes()
	return b[:]
}

// ModelPublicSignals builds the expected public signals for a model proof in
// wire order: weights hash, version, timestamp.
func ModelPublicSignals(modelHash common.Hash, version, timestamp uint64) [][]byte {
	return [][]byte{
		FieldBytes(new(big.Int).SetBytes(modelHash[:])),
		FieldBytes(new(big.Int).SetUint64(version)),
		FieldBytes(new(big.Int).SetUint64(timestamp)),
	}
}

// SignalPublicSignals builds the expected public signals for a signal proof in
// wire order: signal hash, validity flag, model hash, timestamp.
func SignalPublicSignals(signalHash common.Hash, isValid bool, modelHash common.Hash, timestamp uint64) [][]byte {
	validity := big.NewInt(0)
	if isValid {
		validity = big.NewInt(1)
	}
	return [][]byte{
		FieldBytes(new(big.Int).SetBytes(signalHash[:])),
		FieldBytes(validity),
		FieldBytes(new(big.Int).SetBytes(modelHash[:])),
		FieldBytes(new(big.Int).SetUint64(timestamp)),
	}
}

// SignalsFromWitness extracts the positional public signals from a public
// witness.
func SignalsFromWitness(w witness.Witness) ([][]byte, error) {
	vector, ok := w.Vector().(fr.Vector)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidProof, "unexpected witness vector type")
	}
	signals := make([][]byte, 0, len(vector))
	for i := range vector {
		b := vector[i].Bytes()
		signals = append(signals, append([]byte(nil), b[:]...))
	}
	return signals, nil
}

// PublicWitness rebuilds a public-only witness from positional signals for the
// named circuit. It is how a verifier that never saw the private inputs feeds
// the pairing check.
func PublicWitness(circuitName string, signals [][]byte) (witness.Witness, error) {
	switch circuitName {
	case circuits.ModelCircuitName:
		if len(signals) != 3 {
			return nil, xerrors.New(xerrors.CodeInvalidProof,
				fmt.Sprintf("model proof expects 3 public signals, got %d", len(signals)))
		}
		assignment := circuits.ModelCircuit{
			WeightsHash: new(big.Int).SetBytes(signals[0]),
			Version:     new(big.Int).SetBytes(signals[1]),
			Timestamp:   new(big.Int).SetBytes(signals[2]),
		}
		return frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	case circuits.SignalCircuitName:
		if len(signals) != 4 {
			return nil, xerrors.New(xerrors.CodeInvalidProof,
				fmt.Sprintf("signal proof expects 4 public signals, got %d", len(signals)))
		}
		assignment := circuits.SignalCircuit{
			SignalHash: new(big.Int).SetBytes(signals[0]),
			IsValid:    new(big.Int).SetBytes(signals[1]),
			ModelHash:  new(big.Int).SetBytes(signals[2]),
			Timestamp:  new(big.Int).SetBytes(signals[3]),
		}
		return frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	default:
		return nil, xerrors.New(xerrors.CodeInvalidProof,
			fmt.Sprintf("unknown circuit %q", circuitName))
	}
}
