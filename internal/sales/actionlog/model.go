// Package actionlog is the append-only audit trail of quotation actions.
package actionlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action types.
const (
	ActionCreated         = "created"
	ActionVersionCreated  = "version_created"
	ActionSilentRevision  = "silent_revision"
	ActionShareUpdated    = "share_updated"
	ActionViewed          = "viewed"
	ActionPaymentRecorded = "payment_recorded"
	ActionDeleted         = "deleted"
)

// SnapshotKey holds the full rendered document inside Details.
const SnapshotKey = "snapshot"

// Entry is one audit record.
type Entry struct {
	ID          int64           `json:"id"`
	DocumentID  uuid.UUID       `json:"document_id"`
	ActionType  string          `json:"action_type"`
	ActorID     string          `json:"actor_id"`
	Details     json.RawMessage `json:"details"`
	HasSnapshot bool            `json:"has_snapshot"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Details is the free-form payload of an entry.
type Details map[string]any
