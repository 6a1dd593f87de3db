package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists attestation records and the attester authorization set.
// Insert operations are atomic check-and-write: a record keyed by an already
// present hash must be rejected without modifying state.
type Store interface {
	InsertModel(ctx context.Context, record *ModelAttestation) error
	InsertSignal(ctx context.Context, record *SignalAttestation) error
	GetModel(ctx context.Context, modelHash common.Hash) (*ModelAttestation, error)
	GetSignal(ctx context.Context, signalHash common.Hash) (*SignalAttestation, error)
	CountModels(ctx context.Context) (uint64, error)
	CountSignals(ctx context.Context) (uint64, error)
	SetAuthorization(ctx context.Context, attester common.Address, authorized bool) error
	IsAuthorized(ctx context.Context, attester common.Address) (bool, error)
	Close() error
}
