package setup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
)

// KeySet is the fixed key material for one circuit version: the compiled
// constraint system, its content hash, and the Groth16 key pair. Proofs remain
// valid only under the key set they were generated against.
type KeySet struct {
	CircuitName  string
	CircuitHash  [32]byte
	CCS          constraint.ConstraintSystem
	ProvingKey   groth16.ProvingKey
	VerifyingKey groth16.VerifyingKey
}

func deriveKeySet(name string, hash [32]byte, ccs constraint.ConstraintSystem) (*KeySet, error) {
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "groth16 setup")
	}
	return &KeySet{
		CircuitName:  name,
		CircuitHash:  hash,
		CCS:          ccs,
		ProvingKey:   pk,
		VerifyingKey: vk,
	}, nil
}

func (k *KeySet) persist(store *ArtifactStore) error {
	var pkBuf, vkBuf bytes.Buffer
	if _, err := k.ProvingKey.WriteTo(&pkBuf); err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "serialize proving key")
	}
	if _, err := k.VerifyingKey.WriteTo(&vkBuf); err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "serialize verifying key")
	}
	if _, err := store.Put(k.CircuitName+".pk", pkBuf.Bytes()); err != nil {
		return err
	}
	if _, err := store.Put(k.CircuitName+".vk", vkBuf.Bytes()); err != nil {
		return err
	}
	if _, err := store.Put(k.CircuitName+".circuit-hash", k.CircuitHash[:]); err != nil {
		return err
	}
	return nil
}

// HasKeys reports whether key material for the circuit is already persisted.
// A ceremony must never overwrite an existing key set; replacing keys is a
// redeploy, not a rerun.
func HasKeys(store *ArtifactStore, circuitName string) bool {
	return store.Has(circuitName+".pk") && store.Has(circuitName+".vk") && store.Has(circuitName+".circuit-hash")
}

// LoadKeySet restores a persisted key set and checks it against the compiled
// circuit. A hash mismatch means the deployed circuit drifted from the one the
// ceremony ran for, which must halt startup rather than verify garbage.
func LoadKeySet(store *ArtifactStore, circuitName string, ccs constraint.ConstraintSystem) (*KeySet, error) {
	hash, err := circuits.ContentHash(ccs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "hash circuit")
	}
	storedHash, err := store.Get(circuitName + ".circuit-hash")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(storedHash, hash[:]) {
		return nil, xerrors.New(xerrors.CodeCircuitMismatch,
			fmt.Sprintf("circuit %s does not match the key material on disk", circuitName))
	}

	pkBytes, err := store.Get(circuitName + ".pk")
	if err != nil {
		return nil, err
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bytes.NewReader(pkBytes)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "deserialize proving key")
	}

	vkBytes, err := store.Get(circuitName + ".vk")
	if err != nil {
		return nil, err
	}
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "deserialize verifying key")
	}

	return &KeySet{
		CircuitName:  circuitName,
		CircuitHash:  hash,
		CCS:          ccs,
		ProvingKey:   pk,
		VerifyingKey: vk,
	}, nil
}

type transcriptWire struct {
	CeremonyID     string          `json:"ceremony_id"`
	CircuitName    string          `json:"circuit_name"`
	CircuitHash    hexutil.Bytes   `json:"circuit_hash"`
	StartedAt      time.Time       `json:"started_at"`
	FinalizedAt    time.Time       `json:"finalized_at"`
	Contributions  []hexutil.Bytes `json:"contributions"`
	TranscriptHash hexutil.Bytes   `json:"transcript_hash"`
}

func persistTranscript(store *ArtifactStore, circuitName string, transcript *Transcript) error {
	wire := transcriptWire{
		CeremonyID:     transcript.CeremonyID,
		CircuitName:    transcript.CircuitName,
		CircuitHash:    transcript.CircuitHash[:],
		StartedAt:      transcript.StartedAt,
		FinalizedAt:    transcript.FinalizedAt,
		TranscriptHash: transcript.TranscriptHash,
	}
	for _, entry := range transcript.Contributions {
		wire.Contributions = append(wire.Contributions, hexutil.Bytes(entry))
	}
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSetupFailure, err, "encode transcript")
	}
	if _, err := store.Put(circuitName+".transcript.json", data); err != nil {
		return err
	}
	return nil
}
