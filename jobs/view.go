package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/solarcalc/invoicing/internal/jobs"
	"github.com/solarcalc/invoicing/internal/shared"
)

// ViewRecorder bumps a document's access counter.
type ViewRecorder interface {
	RecordView(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ViewJob processes TaskQuotationView tasks.
type ViewJob struct {
	Recorder ViewRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewViewJob wires dependencies for the view handler.
func NewViewJob(recorder ViewRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ViewJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle records one view.
func (j *ViewJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Recorder == nil {
		return errors.New("view: handler not configured")
	}
	var payload ViewPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID == uuid.Nil {
		j.Logger.Warn("drop malformed view task", slog.String("payload", string(t.Payload())))
		return asynq.SkipRetry
	}
	if payload.ViewedAt.IsZero() {
		payload.ViewedAt = time.Now().UTC()
	}

	tracker := j.Metrics.Track(TaskQuotationView)
	defer func() {
		err = tracker.End(err)
	}()

	err = j.Recorder.RecordView(ctx, payload.DocumentID, payload.ViewedAt)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		// Deleted between the view and the task run.
		j.Logger.Info("view for missing document", slog.String("document_id", payload.DocumentID.String()))
		return nil
	case err != nil:
		j.Logger.Error("record view", slog.String("document_id", payload.DocumentID.String()), slog.Any("error", err))
		return err
	}
	return nil
}
