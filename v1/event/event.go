// Package event defines the change notifications fanned out to observers
// whenever lock or record state changes.
package event

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Kind identifies the state transition an event describes.
type Kind string

const (
	KindRecordUpdated Kind = "record-updated"
	KindLockAcquired  Kind = "lock-acquired"
	KindLockReleased  Kind = "lock-released"
	KindLockExpired   Kind = "lock-expired"
)

// ChangeEvent is an immutable notification about a single resource.
// Values are passed by copy; Payload must not be modified after New.
type ChangeEvent struct {
	Kind       Kind            `json:"kind"`
	ResourceID string          `json:"resourceId"`
	Seq        uint64          `json:"seq"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds a ChangeEvent, encoding payload as JSON.
func New(kind Kind, resourceID string, seq uint64, at time.Time, payload any) (ChangeEvent, error) {
	ev := ChangeEvent{Kind: kind, ResourceID: resourceID, Seq: seq, OccurredAt: at}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Payload = data
	}
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e ChangeEvent) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Sequencer hands out process-wide increasing sequence numbers.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// LockPayload is carried by lock-acquired events.
type LockPayload struct {
	ResourceID  string    `json:"resourceId"`
	HolderID    string    `json:"holderId"`
	HolderLabel string    `json:"holderLabel"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// UnlockPayload is carried by lock-released and lock-expired events.
type UnlockPayload struct {
	ResourceID string `json:"resourceId"`
	HolderID   string `json:"holderId"`
}

// RecordPayload is carried by record-updated events.
type RecordPayload struct {
	ResourceID string          `json:"resourceId"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	UpdatedBy  string          `json:"updatedBy"`
}
