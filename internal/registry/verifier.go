package registry

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"

	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/proofs"
	"SignalAttest/internal/setup"
)

// circuitKey is the verification half of a key set.
type circuitKey struct {
	hash [32]byte
	vk   groth16.VerifyingKey
}

// Verifier checks proof artifacts against registered circuit keys. Expected
// public signals are always rebuilt from the declared values, never taken
// from the artifact, so a proof cannot smuggle in a different statement.
type Verifier struct {
	keys map[string]circuitKey
}

// NewVerifier registers the verification keys of the given key sets.
func NewVerifier(keySets ...*setup.KeySet) *Verifier {
	keys := make(map[string]circuitKey, len(keySets))
	for _, ks := range keySets {
		if ks != nil {
			keys[ks.CircuitName] = circuitKey{hash: ks.CircuitHash, vk: ks.VerifyingKey}
		}
	}
	return &Verifier{keys: keys}
}

// Verify checks the artifact against the named circuit and the expected
// public signals.
func (v *Verifier) Verify(artifact *proofs.Artifact, circuitName string, expected [][]byte) error {
	if artifact == nil {
		return xerrors.New(xerrors.CodeInvalidProof, "nil proof artifact")
	}
	key, ok := v.keys[circuitName]
	if !ok {
		return xerrors.New(xerrors.CodeCircuitMismatch,
			fmt.Sprintf("no verification key registered for circuit %q", circuitName))
	}
	if artifact.CircuitName != circuitName {
		return xerrors.New(xerrors.CodeCircuitMismatch,
			fmt.Sprintf("artifact targets circuit %q, expected %q", artifact.CircuitName, circuitName))
	}
	if artifact.CircuitHash != key.hash {
		return xerrors.New(xerrors.CodeCircuitMismatch,
			"artifact was produced against a different circuit definition")
	}
	if len(artifact.PublicSignals) != len(expected) {
		return xerrors.New(xerrors.CodeInvalidProof,
			fmt.Sprintf("expected %d public signals, got %d", len(expected), len(artifact.PublicSignals)))
	}
	for i := range expected {
		if !bytes.Equal(artifact.PublicSignals[i], expected[i]) {
			return xerrors.New(xerrors.CodeInvalidProof,
				fmt.Sprintf("public signal %d does not match the declared values", i))
		}
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(artifact.Proof)); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidProof, err, "deserialize proof")
	}
	publicWitness, err := proofs.PublicWitness(circuitName, expected)
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof, key.vk, publicWitness); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidProof, err, "proof does not verify")
	}
	return nil
}
