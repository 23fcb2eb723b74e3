// Package events implements the bounded broadcast bus, bounded history, and
// correlation tracker described in SPEC_FULL.md 4.D.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a structured record produced by every state mutation and
// migration phase transition (§3 Data Model).
type Event struct {
	ID            string
	Type          string
	Source        string
	AgentID       string
	Timestamp     time.Time
	CorrelationID string
	Data          map[string]any
	Metadata      map[string]string
}

// New constructs an Event with a fresh ID and the current timestamp.
func New(eventType, source, correlationID string, data map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          data,
		Metadata:      make(map[string]string),
	}
}

// Well-known event types emitted by the State Manager and Migration Engine.
const (
	TypeStateChanged        = "state.changed"
	TypeStateDeleted        = "state.deleted"
	TypeStateRead           = "state.read"
	TypeStateCancelled      = "state.cancelled"
	TypeMigrationStarted    = "migration.started"
	TypeMigrationCompleted  = "migration.completed"
	TypeMigrationFailed     = "migration.failed"
	TypeMigrationRolledback = "migration.rolledback"
)
