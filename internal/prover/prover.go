package prover

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/ethereum/go-ethereum/common"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
	"SignalAttest/internal/proofs"
	"SignalAttest/internal/setup"
)

// ModelProof is the result of proving a model attestation relation.
type ModelProof struct {
	Artifact  *proofs.Artifact
	ModelHash common.Hash
	Version   uint64
	Timestamp uint64
}

// SignalProof is the result of proving a signal attestation relation.
type SignalProof struct {
	Artifact   *proofs.Artifact
	SignalHash common.Hash
	ModelHash  common.Hash
	IsValid    bool
	SignalType uint64
	Timestamp  uint64
}

// CompositeProof chains a model proof and a signal proof whose model hash is
// forced to the freshly computed one. This is the only point where the two
// proof types are cryptographically linked at generation time.
type CompositeProof struct {
	Model  *ModelProof
	Signal *SignalProof
}

// ModelInput holds the private model data and its declared public values.
type ModelInput struct {
	Weights   []uint64
	Version   uint64
	Timestamp uint64
}

// SignalInput holds the private signal data and its declared public values.
type SignalInput struct {
	SignalType uint64
	Confidence uint64
	ModelHash  common.Hash
	Timestamp  uint64
}

// Prover generates proofs against the key sets it was constructed with.
type Prover struct {
	keys map[string]*setup.KeySet
}

// New builds a prover over the given key sets.
func New(keySets ...*setup.KeySet) *Prover {
	keys := make(map[string]*setup.KeySet, len(keySets))
	for _, ks := range keySets {
		if ks != nil {
			keys[ks.CircuitName] = ks
		}
	}
	return &Prover{keys: keys}
}

func (p *Prover) keySet(circuitName string) (*setup.KeySet, error) {
	ks, ok := p.keys[circuitName]
	if !ok {
		return nil, xerrors.New(xerrors.CodeSetupFailure,
			fmt.Sprintf("no key set loaded for circuit %q", circuitName))
	}
	return ks, nil
}

// GenerateModelProof proves that the weight vector hashes to the returned
// model hash at the declared version and timestamp.
func (p *Prover) GenerateModelProof(weights []uint64, version, timestamp uint64) (*ModelProof, error) {
	if len(weights) != circuits.WeightCount {
		return nil, xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("model circuit expects %d weights, got %d", circuits.WeightCount, len(weights)))
	}
	if version == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "version must be at least 1")
	}
	if timestamp == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "timestamp must be set")
	}
	ks, err := p.keySet(circuits.ModelCircuitName)
	if err != nil {
		return nil, err
	}

	modelHash, err := circuits.HashModelWeights(weights)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "hash model weights")
	}

	assignment := circuits.ModelCircuit{
		WeightsHash: new(big.Int).SetBytes(modelHash[:]),
		Version:     new(big.Int).SetUint64(version),
		Timestamp:   new(big.Int).SetUint64(timestamp),
	}
	for i, w := range weights {
		assignment.Weights[i] = new(big.Int).SetUint64(w)
	}

	artifact, err := p.prove(ks, &assignment)
	if err != nil {
		return nil, err
	}
	return &ModelProof{
		Artifact:  artifact,
		ModelHash: modelHash,
		Version:   version,
		Timestamp: timestamp,
	}, nil
}

// GenerateSignalProof proves that the signal payload hashes to the returned
// signal hash against the referenced model at the declared timestamp. Out of
// range payloads are rejected before witness generation; the service never
// emits proofs of invalid signals.
func (p *Prover) GenerateSignalProof(signalType, confidence uint64, modelHash common.Hash, timestamp uint64) (*SignalProof, error) {
	if signalType < circuits.SignalTypeMin || signalType > circuits.SignalTypeMax {
		return nil, xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("signal type %d outside [%d,%d]", signalType, circuits.SignalTypeMin, circuits.SignalTypeMax))
	}
	if confidence > circuits.ConfidenceMax {
		return nil, xerrors.New(xerrors.CodeInvalidInput,
			fmt.Sprintf("confidence %d outside [0,%d]", confidence, circuits.ConfidenceMax))
	}
	if timestamp == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "timestamp must be set")
	}
	if !circuits.FitsField(modelHash) {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "model hash is not a canonical field element")
	}
	ks, err := p.keySet(circuits.SignalCircuitName)
	if err != nil {
		return nil, err
	}

	signalHash, err := circuits.HashSignal(signalType, confidence, modelHash, timestamp)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "hash signal payload")
	}

	assignment := circuits.SignalCircuit{
		SignalHash: new(big.Int).SetBytes(signalHash[:]),
		IsValid:    big.NewInt(1),
		ModelHash:  new(big.Int).SetBytes(modelHash[:]),
		Timestamp:  new(big.Int).SetUint64(timestamp),
		SignalType: new(big.Int).SetUint64(signalType),
		Confidence: new(big.Int).SetUint64(confidence),
	}

	artifact, err := p.prove(ks, &assignment)
	if err != nil {
		return nil, err
	}
	return &SignalProof{
		Artifact:   artifact,
		SignalHash: signalHash,
		ModelHash:  modelHash,
		IsValid:    true,
		SignalType: signalType,
		Timestamp:  timestamp,
	}, nil
}

// GenerateCompositeProof chains a model proof and a signal proof. The signal
// is forced onto the freshly computed model hash; a caller-declared hash that
// disagrees is an input error, not something to silently overwrite.
func (p *Prover) GenerateCompositeProof(model ModelInput, signal SignalInput) (*CompositeProof, error) {
	modelProof, err := p.GenerateModelProof(model.Weights, model.Version, model.Timestamp)
	if err != nil {
		return nil, err
	}
	if (signal.ModelHash != common.Hash{}) && signal.ModelHash != modelProof.ModelHash {
		return nil, xerrors.New(xerrors.CodeInvalidInput,
			"signal references a different model hash than the one being proven")
	}
	signalProof, err := p.GenerateSignalProof(signal.SignalType, signal.Confidence, modelProof.ModelHash, signal.Timestamp)
	if err != nil {
		return nil, err
	}
	return &CompositeProof{Model: modelProof, Signal: signalProof}, nil
}

// VerifyLocally reproduces the registry's verification math for
// pre-submission checks. Stateless, no side effects.
func (p *Prover) VerifyLocally(artifact *proofs.Artifact, circuitName string) error {
	if artifact == nil {
		return xerrors.New(xerrors.CodeInvalidProof, "nil proof artifact")
	}
	ks, err := p.keySet(circuitName)
	if err != nil {
		return err
	}
	if artifact.CircuitHash != ks.CircuitHash {
		return xerrors.New(xerrors.CodeCircuitMismatch,
			fmt.Sprintf("artifact was produced against a different %s circuit", circuitName))
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(artifact.Proof)); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidProof, err, "deserialize proof")
	}
	publicWitness, err := proofs.PublicWitness(circuitName, artifact.PublicSignals)
	if err != nil {
		return err
	}
	if err := groth16.Verify(proof, ks.VerifyingKey, publicWitness); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidProof, err, "verify proof")
	}
	return nil
}

func (p *Prover) prove(ks *setup.KeySet, assignment frontend.Circuit) (*proofs.Artifact, error) {
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "build witness")
	}
	proof, err := groth16.Prove(ks.CCS, ks.ProvingKey, fullWitness)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "generate proof")
	}

	publicWitness, err := fullWitness.Public()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "extract public witness")
	}
	signals, err := proofs.SignalsFromWitness(publicWitness)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidProof, err, "serialize proof")
	}
	return &proofs.Artifact{
		CircuitName:   ks.CircuitName,
		CircuitHash:   ks.CircuitHash,
		Proof:         buf.Bytes(),
		PublicSignals: signals,
	}, nil
}
