package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SpecVersion is the CloudEvents version events are stamped with.
const SpecVersion = "1.0"

// Event is a CloudEvents style envelope.
type Event struct {
	SpecVersion string          `json:"specversion"`
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// NewEvent stamps a fresh event. data must be valid JSON or nil.
func NewEvent(typ, source string, data json.RawMessage) Event {
	return Event{
		SpecVersion: SpecVersion,
		ID:          uuid.NewString(),
		Source:      source,
		Type:        typ,
		Time:        time.Now().UTC(),
		Data:        data,
	}
}
