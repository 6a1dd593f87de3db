// Package events carries attestation lifecycle notifications to downstream
// consumers. Publishers are pluggable drivers behind a single interface; the
// registry treats publish failures as non-fatal and only logs them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Type 标识事件种类。
type Type string

const (
	ModelAttested      Type = "model.attested"
	SignalAttested     Type = "signal.attested"
	AttesterAuthorized Type = "attester.authorized"
)

// Event 是注册表状态变更产生的通知载荷。
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	ModelHash  common.Hash    `json:"model_hash,omitempty"`
	SignalHash common.Hash    `json:"signal_hash,omitempty"`
	Version    uint64         `json:"version,omitempty"`
	SignalType uint8          `json:"signal_type,omitempty"`
	Timestamp  uint64         `json:"timestamp,omitempty"`
	Attester   common.Address `json:"attester"`
	Caller     common.Address `json:"caller"`
	Authorized bool           `json:"authorized,omitempty"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// NewEvent 分配事件标识与发出时间。
func NewEvent(t Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		EmittedAt: time.Now().UTC(),
	}
}

// Marshal 序列化为驱动层使用的线格式。
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 是事件通道驱动需要实现的接口。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
