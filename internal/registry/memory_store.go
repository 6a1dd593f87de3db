package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "SignalAttest/internal/errors"
)

// MemoryStore keeps the registry state in process memory. Used for tests and
// single node deployments without a database.
type MemoryStore struct {
	mu         sync.RWMutex
	models     map[common.Hash]*ModelAttestation
	signals    map[common.Hash]*SignalAttestation
	authorized map[common.Address]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models:     make(map[common.Hash]*ModelAttestation),
		signals:    make(map[common.Hash]*SignalAttestation),
		authorized: make(map[common.Address]bool),
	}
}

// InsertModel writes a model record unless its hash is already present.
func (s *MemoryStore) InsertModel(ctx context.Context, record *ModelAttestation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.models[record.ModelHash]; exists {
		return xerrors.New(xerrors.CodeAlreadyAttested,
			"model hash already attested",
			xerrors.WithMetadata("model_hash", record.ModelHash.Hex()))
	}
	clone := *record
	s.models[record.ModelHash] = &clone
	return nil
}

// InsertSignal writes a signal record unless its hash is already present.
func (s *MemoryStore) InsertSignal(ctx context.Context, record *SignalAttestation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[record.SignalHash]; exists {
		return xerrors.New(xerrors.CodeAlreadyAttested,
			"signal hash already attested",
			xerrors.WithMetadata("signal_hash", record.SignalHash.Hex()))
	}
	clone := *record
	s.signals[record.SignalHash] = &clone
	return nil
}

// GetModel looks up a model record by hash.
func (s *MemoryStore) GetModel(ctx context.Context, modelHash common.Hash) (*ModelAttestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.models[modelHash]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "model not attested")
	}
	clone := *record
	return &clone, nil
}

// GetSignal looks up a signal record by hash.
func (s *MemoryStore) GetSignal(ctx context.Context, signalHash common.Hash) (*SignalAttestation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.signals[signalHash]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "signal not attested")
	}
	clone := *record
	return &clone, nil
}

// CountModels returns the number of model records.
func (s *MemoryStore) CountModels(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.models)), nil
}

// CountSignals returns the number of signal records.
func (s *MemoryStore) CountSignals(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.signals)), nil
}

// SetAuthorization grants or revokes an attester.
func (s *MemoryStore) SetAuthorization(ctx context.Context, attester common.Address, authorized bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if authorized {
		s.authorized[attester] = true
	} else {
		delete(s.authorized, attester)
	}
	return nil
}

// IsAuthorized reports whether the attester may submit attestations.
func (s *MemoryStore) IsAuthorized(ctx context.Context, attester common.Address) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized[attester], nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
