package setup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	xerrors "SignalAttest/internal/errors"
)

func TestArtifactStoreRoundTrip(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	payload := []byte("verifying key bytes")
	id, err := store.Put("signal.vk", payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !id.Defined() {
		t.Fatal("put returned undefined cid")
	}
	if !store.Has("signal.vk") {
		t.Fatal("Has must report stored artifact")
	}

	got, err := store.Get("signal.vk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("get returned %q, want %q", got, payload)
	}
}

func TestArtifactStorePutIsIdempotentByContent(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	payload := []byte("same bytes")
	first, err := store.Put("a", payload)
	if err != nil {
		t.Fatalf("put a: %v", err)
	}
	second, err := store.Put("b", payload)
	if err != nil {
		t.Fatalf("put b: %v", err)
	}
	if !first.Equals(second) {
		t.Fatal("identical content must map to the same cid")
	}
}

func TestArtifactStoreMissing(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.Get("never-stored")
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeNotFound)
	}
	if store.Has("never-stored") {
		t.Fatal("Has must be false for missing artifact")
	}
}

func TestArtifactStoreDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id, err := store.Put("model.pk", []byte("original"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	blobPath := filepath.Join(dir, "blobs", id.String())
	if err := os.WriteFile(blobPath, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper blob: %v", err)
	}

	_, err = store.Get("model.pk")
	if xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
		t.Fatalf("code = %s after tamper, want %s", xerrors.CodeOf(err), xerrors.CodeSetupFailure)
	}
}

func TestNewArtifactStoreRejectsEmptyDir(t *testing.T) {
	if _, err := NewArtifactStore("  "); xerrors.CodeOf(err) != xerrors.CodeInvalidInput {
		t.Fatalf("code = %s, want %s", xerrors.CodeOf(err), xerrors.CodeInvalidInput)
	}
}
