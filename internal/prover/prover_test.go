package prover

import (
	"crypto/rand"
	"sync"
	"testing"

	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/setup"
)

var keys struct {
	sync.Once
	model  *setup.KeySet
	signal *setup.KeySet
	err    error
}

func testProver(t *testing.T) *Prover {
	t.Helper()
	keys.Do(func() {
		keys.model, keys.err = buildKeySet(circuits.ModelCircuitName, circuits.CompileModel)
		if keys.err != nil {
			return
		}
		keys.signal, keys.err = buildKeySet(circuits.SignalCircuitName, circuits.CompileSignal)
	})
	if keys.err != nil {
		t.Fatalf("build key sets: %v", keys.err)
	}
	return New(keys.model, keys.signal)
}

func buildKeySet(name string, compile func() (constraint.ConstraintSystem, error)) (*setup.KeySet, error) {
	ccs, err := compile()
	if err != nil {
		return nil, err
	}
	ceremony, err := setup.NewCeremony(name, ccs)
	if err != nil {
		return nil, err
	}
	randomness := make([]byte, 32)
	if _, err := rand.Read(randomness); err != nil {
		return nil, err
	}
	if err := ceremony.Contribute("test", randomness); err != nil {
		return nil, err
	}
	return ceremony.Finalize(nil)
}

func testWeights() []uint64 {
	weights := make([]uint64, circuits.WeightCount)
	for i := range weights {
		weights[i] = uint64(i + 100)
	}
	return weights
}

func TestGenerateModelProofRoundTrip(t *testing.T) {
	p := testProver(t)

	proof, err := p.GenerateModelProof(testWeights(), 2, 1_700_000_000)
	if err != nil {
		t.Fatalf("generate model proof: %v", err)
	}
	expectedHash, err := circuits.HashModelWeights(testWeights())
	if err != nil {
		t.Fatalf("hash weights: %v", err)
	}
	if proof.ModelHash != expectedHash {
		t.Fatal("proof model hash must equal the native digest")
	}
	if len(proof.Artifact.PublicSignals) != 3 {
		t.Fatalf("model artifact has %d public signals, want 3", len(proof.Artifact.PublicSignals))
	}
	if err := p.VerifyLocally(proof.Artifact, circuits.ModelCircuitName); err != nil {
		t.Fatalf("local verification: %v", err)
	}
}

func TestGenerateModelProofValidation(t *testing.T) {
	p := testProver(t)

	cases := []struct {
		name      string
		weights   []uint64
		version   uint64
		timestamp uint64
	}{
		{"short weights", make([]uint64, circuits.WeightCount-1), 1, 1_700_000_000},
		{"zero version", testWeights(), 0, 1_700_000_000},
		{"zero timestamp", testWeights(), 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.GenerateModelProof(tc.weights, tc.version, tc.timestamp)
			if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
				t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
			}
		})
	}
}

func TestGenerateSignalProofRoundTrip(t *testing.T) {
	p := testProver(t)

	modelHash, err := circuits.HashModelWeights(testWeights())
	if err != nil {
		t.Fatalf("hash weights: %v", err)
	}
	proof, err := p.GenerateSignalProof(5, 90, modelHash, 1_700_000_000)
	if err != nil {
		t.Fatalf("generate signal proof: %v", err)
	}
	if !proof.IsValid {
		t.Fatal("in-range payload must yield a valid signal")
	}
	if proof.ModelHash != modelHash {
		t.Fatal("proof must carry the referenced model hash")
	}
	if err := p.VerifyLocally(proof.Artifact, circuits.SignalCircuitName); err != nil {
		t.Fatalf("local verification: %v", err)
	}
}

func TestGenerateSignalProofValidation(t *testing.T) {
	p := testProver(t)
	modelHash := common.HexToHash("0x01")

	cases := []struct {
		name                   string
		signalType, confidence uint64
		timestamp              uint64
	}{
		{"type too low", 0, 50, 1_700_000_000},
		{"type too high", circuits.SignalTypeMax + 1, 50, 1_700_000_000},
		{"confidence too high", 3, circuits.ConfidenceMax + 1, 1_700_000_000},
		{"zero timestamp", 3, 50, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.GenerateSignalProof(tc.signalType, tc.confidence, modelHash, tc.timestamp)
			if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
				t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
			}
		})
	}

	var nonCanonical common.Hash
	for i := range nonCanonical {
		nonCanonical[i] = 0xff
	}
	_, err := p.GenerateSignalProof(3, 50, nonCanonical, 1_700_000_000)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("code = %s for non-canonical model hash, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
	}
}

func TestGenerateCompositeProof(t *testing.T) {
	p := testProver(t)

	composite, err := p.GenerateCompositeProof(
		ModelInput{Weights: testWeights(), Version: 1, Timestamp: 1_700_000_000},
		SignalInput{SignalType: 2, Confidence: 65, Timestamp: 1_700_000_100},
	)
	if err != nil {
		t.Fatalf("generate composite proof: %v", err)
	}
	if composite.Signal.ModelHash != composite.Model.ModelHash {
		t.Fatal("composite signal must reference the freshly proven model")
	}

	// A caller-declared hash that disagrees with the proven model is an error.
	_, err = p.GenerateCompositeProof(
		ModelInput{Weights: testWeights(), Version: 1, Timestamp: 1_700_000_000},
		SignalInput{SignalType: 2, Confidence: 65, ModelHash: common.HexToHash("0x09"), Timestamp: 1_700_000_100},
	)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
	}
}

func TestVerifyLocallyRejectsTampering(t *testing.T) {
	p := testProver(t)

	proof, err := p.GenerateModelProof(testWeights(), 1, 1_700_000_000)
	if err != nil {
		t.Fatalf("generate model proof: %v", err)
	}

	hashTampered := proof.Artifact.Clone()
	hashTampered.CircuitHash[0] ^= 0xff
	if err := p.VerifyLocally(hashTampered, circuits.ModelCircuitName); xerrors.CodeOf(err) != xerrors.CodeCircuitMismatch {
		t.Fatalf("code = %s for circuit hash tamper, want %s", xerrors.CodeOf(err), xerrors.CodeCircuitMismatch)
	}

	signalTampered := proof.Artifact.Clone()
	signalTampered.PublicSignals[1] = signalTampered.PublicSignals[2]
	if err := p.VerifyLocally(signalTampered, circuits.ModelCircuitName); xerrors.CodeOf(err) != xerrors.CodeInvalidProof {
		t.Fatalf("code = %s for public signal tamper, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidProof)
	}
}

func TestProverWithoutKeys(t *testing.T) {
	p := New()
	_, err := p.GenerateModelProof(testWeights(), 1, 1_700_000_000)
	if xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
}
