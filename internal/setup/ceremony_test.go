package setup

import (
	"crypto/rand"
	"sync"
	"testing"

	"github.com/consensys/gnark/constraint"

	"SignalAttest/internal/circuits"
	xerrors "SignalAttest/internal/errors"
)

var compiled struct {
	sync.Once
	model  constraint.ConstraintSystem
	signal constraint.ConstraintSystem
	err    error
}

// compiledCircuits caches the compiled relations, compilation dominates the
// package test time otherwise.
func compiledCircuits(t *testing.T) (constraint.ConstraintSystem, constraint.ConstraintSystem) {
	t.Helper()
	compiled.Do(func() {
		compiled.model, compiled.err = circuits.CompileModel()
		if compiled.err != nil {
			return
		}
		compiled.signal, compiled.err = circuits.CompileSignal()
	})
	if compiled.err != nil {
		t.Fatalf("compile circuits: %v", compiled.err)
	}
	return compiled.model, compiled.signal
}

func contribute(t *testing.T, c *Ceremony, contributor string) {
	t.Helper()
	randomness := make([]byte, 32)
	if _, err := rand.Read(randomness); err != nil {
		t.Fatalf("read randomness: %v", err)
	}
	if err := c.Contribute(contributor, randomness); err != nil {
		t.Fatalf("contribute as %s: %v", contributor, err)
	}
}

func TestCeremonyLifecycle(t *testing.T) {
	modelCCS, _ := compiledCircuits(t)
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	if ceremony.Phase() != PhaseContribution {
		t.Fatalf("phase = %d after genesis, want %d", ceremony.Phase(), PhaseContribution)
	}

	contribute(t, ceremony, "alice")
	contribute(t, ceremony, "bob")
	if err := ceremony.VerifyTranscript(); err != nil {
		t.Fatalf("verify transcript: %v", err)
	}

	keySet, err := ceremony.Finalize(store)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if ceremony.Phase() != PhaseFinalized {
		t.Fatalf("phase = %d after finalize, want %d", ceremony.Phase(), PhaseFinalized)
	}
	if keySet.ProvingKey == nil || keySet.VerifyingKey == nil {
		t.Fatal("finalize must produce both keys")
	}
	if keySet.CircuitHash != ceremony.CircuitHash() {
		t.Fatal("key set must carry the ceremony circuit hash")
	}

	snapshot := ceremony.TranscriptSnapshot()
	if len(snapshot.Contributions) != 3 {
		t.Fatalf("transcript has %d contributions, want 3", len(snapshot.Contributions))
	}
	if len(snapshot.TranscriptHash) == 0 {
		t.Fatal("finalized transcript must carry a transcript hash")
	}
	if snapshot.FinalizedAt.IsZero() {
		t.Fatal("finalized transcript must carry a finalization time")
	}

	// Key material and transcript are persisted and reloadable.
	if !HasKeys(store, circuits.ModelCircuitName) {
		t.Fatal("keys not persisted")
	}
	loaded, err := LoadKeySet(store, circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("load key set: %v", err)
	}
	if loaded.CircuitHash != keySet.CircuitHash {
		t.Fatal("loaded key set hash differs from the ceremony result")
	}
	if !store.Has(circuits.ModelCircuitName + ".transcript.json") {
		t.Fatal("transcript not persisted")
	}
}

func TestContributeRejectsShortRandomness(t *testing.T) {
	modelCCS, _ := compiledCircuits(t)
	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	err = ceremony.Contribute("weak", make([]byte, 16))
	if xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
	}
}

func TestFinalizeRequiresExternalContribution(t *testing.T) {
	modelCCS, _ := compiledCircuits(t)
	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	// Only the genesis contribution exists.
	if _, err := ceremony.Finalize(nil); xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
}

func TestFinalizedCeremonyIsClosed(t *testing.T) {
	modelCCS, _ := compiledCircuits(t)
	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	contribute(t, ceremony, "alice")
	if _, err := ceremony.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := ceremony.Contribute("late", make([]byte, 32)); xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("late contribution code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
	if _, err := ceremony.Finalize(nil); xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("second finalize code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
}

func TestVerifyTranscriptDetectsTampering(t *testing.T) {
	modelCCS, _ := compiledCircuits(t)
	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	contribute(t, ceremony, "alice")

	// Swap two tau powers inside the latest contribution.
	last := &ceremony.contributions[len(ceremony.contributions)-1]
	last.TauG1[1], last.TauG1[2] = last.TauG1[2], last.TauG1[1]

	if err := ceremony.VerifyTranscript(); xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("code = %s after tamper, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
}

func TestLoadKeySetRejectsDifferentCircuit(t *testing.T) {
	modelCCS, signalCCS := compiledCircuits(t)
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ceremony, err := NewCeremony(circuits.ModelCircuitName, modelCCS)
	if err != nil {
		t.Fatalf("new ceremony: %v", err)
	}
	contribute(t, ceremony, "alice")
	if _, err := ceremony.Finalize(store); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Loading the persisted keys against a different relation must halt.
	_, err = LoadKeySet(store, circuits.ModelCircuitName, signalCCS)
	if xerrors.CodeOf(err) != xerrors.CodeCircuitMismatch {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeCircuitMismatch)
	}
}
