package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ModelAttestation is an accepted model registration record.
type ModelAttestation struct {
	ModelHash  common.Hash
	Version    uint64
	Timestamp  uint64
	Attester   common.Address
	Verified   bool
	RecordedAt time.Time
}

// SignalAttestation is an accepted signal record, linked to the model it was
// derived from.
type SignalAttestation struct {
	SignalHash common.Hash
	ModelHash  common.Hash
	Timestamp  uint64
	SignalType uint8
	Attester   common.Address
	Verified   bool
	RecordedAt time.Time
}

// Stats summarises registry growth.
type Stats struct {
	Models  uint64
	Signals uint64
}
