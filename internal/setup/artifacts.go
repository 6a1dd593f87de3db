package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	xerrors "SignalAttest/internal/errors"
)

// ArtifactStore persists circuit binaries, key material and transcripts in a
// content-addressable layout: blobs live under blobs/<cid>, human-readable
// names are indirections under refs/. Reads re-derive the CID so any on-disk
// tampering surfaces as a SETUP_FAILURE instead of silently wrong keys.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates the store rooted at dir.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidInput, "artifact store dir cannot be empty")
	}
	for _, sub := range []string{"blobs", "refs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "create artifact store")
		}
	}
	return &ArtifactStore{dir: dir}, nil
}

// Put stores data under name and returns its content identifier.
func (s *ArtifactStore) Put(name string, data []byte) (cid.Cid, error) {
	id, err := contentID(data)
	if err != nil {
		return cid.Undef, err
	}
	blobPath := filepath.Join(s.dir, "blobs", id.String())
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return cid.Undef, xerrors.Wrap(xerrors.CodeStorageFailure, err, "write artifact blob")
	}
	refPath := filepath.Join(s.dir, "refs", refName(name))
	if err := os.WriteFile(refPath, []byte(id.String()), 0o644); err != nil {
		return cid.Undef, xerrors.Wrap(xerrors.CodeStorageFailure, err, "write artifact ref")
	}
	return id, nil
}

// Get resolves name and returns the blob after verifying its digest.
func (s *ArtifactStore) Get(name string) ([]byte, error) {
	refPath := filepath.Join(s.dir, "refs", refName(name))
	raw, err := os.ReadFile(refPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("artifact %s not found", name))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read artifact ref")
	}
	id, err := cid.Decode(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, fmt.Sprintf("artifact %s has a corrupt ref", name))
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "blobs", id.String()))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, fmt.Sprintf("artifact %s blob missing", name))
	}
	actual, err := contentID(data)
	if err != nil {
		return nil, err
	}
	if !actual.Equals(id) {
		return nil, xerrors.New(xerrors.CodeSetupFailure, fmt.Sprintf("artifact %s digest mismatch", name))
	}
	return data, nil
}

// Has reports whether a named artifact exists.
func (s *ArtifactStore) Has(name string) bool {
	_, err := os.Stat(filepath.Join(s.dir, "refs", refName(name)))
	return err == nil
}

func contentID(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, xerrors.Wrap(xerrors.CodeStorageFailure, err, "hash artifact")
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

func refName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), string(os.PathSeparator), "_")
}
