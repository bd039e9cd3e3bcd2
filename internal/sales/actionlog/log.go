package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solarcalc/invoicing/internal/shared"
)

const appendTimeout = 5 * time.Second

// Log writes and reads the audit trail.
type Log struct {
	store    Store
	logger   *slog.Logger
	failures prometheus.Counter
}

// NewLog constructs a Log. failures may be nil.
func NewLog(store Store, logger *slog.Logger, failures prometheus.Counter) *Log {
	return &Log{store: store, logger: logger, failures: failures}
}

// Append records an action. It never fails the caller: errors are logged
// and counted. The write outlives cancellation of ctx.
func (l *Log) Append(ctx context.Context, docID uuid.UUID, actionType, actorID string, details Details) {
	if details == nil {
		details = Details{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		l.fail(docID, actionType, fmt.Errorf("marshal details: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	err = l.store.Insert(ctx, Entry{
		DocumentID: docID,
		ActionType: actionType,
		ActorID:    actorID,
		Details:    payload,
	})
	if err != nil {
		l.fail(docID, actionType, err)
	}
}

// History returns the family's actions newest first.
func (l *Log) History(ctx context.Context, docID uuid.UUID) ([]Entry, error) {
	entries, err := l.store.ListFamily(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("actionlog: history: %w", err)
	}
	return entries, nil
}

// Snapshot returns the stored document payload for an action.
func (l *Log) Snapshot(ctx context.Context, actionID int64) (*Entry, json.RawMessage, error) {
	e, err := l.store.Get(ctx, actionID)
	if err != nil {
		return nil, nil, err
	}
	var details map[string]json.RawMessage
	if err := json.Unmarshal(e.Details, &details); err != nil {
		return nil, nil, fmt.Errorf("actionlog: decode details: %w", err)
	}
	snap, ok := details[SnapshotKey]
	if !ok {
		return nil, nil, fmt.Errorf("action %d has no snapshot: %w", actionID, shared.ErrNotFound)
	}
	return e, snap, nil
}

func (l *Log) fail(docID uuid.UUID, actionType string, err error) {
	if l.failures != nil {
		l.failures.Inc()
	}
	l.logger.Error("action log append failed",
		slog.String("document_id", docID.String()),
		slog.String("action_type", actionType),
		slog.Any("error", err))
}
