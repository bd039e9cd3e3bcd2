package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/solarcalc/invoicing/internal/jobs"
)

// DownstreamNotifier hands a written document to the systems that follow a
// quotation (SEDA registration, referral tracking).
type DownstreamNotifier interface {
	Notify(ctx context.Context, payload DownstreamPayload) error
}

// LogNotifier is the default notifier. It only logs the hand-off.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements DownstreamNotifier.
func (n LogNotifier) Notify(ctx context.Context, payload DownstreamPayload) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("document_id", payload.DocumentID.String())}
	if payload.CustomerID != nil {
		attrs = append(attrs, slog.Int64("customer_id", *payload.CustomerID))
	}
	logger.InfoContext(ctx, "quotation downstream hand-off", attrs...)
	return nil
}

// DownstreamJob processes TaskQuotationDownstream tasks.
type DownstreamJob struct {
	Notifier DownstreamNotifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewDownstreamJob wires dependencies for the downstream handler. A nil
// notifier falls back to LogNotifier.
func NewDownstreamJob(notifier DownstreamNotifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *DownstreamJob {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &DownstreamJob{Notifier: notifier, Logger: logger, Metrics: metrics}
}

// Handle processes one downstream task.
func (j *DownstreamJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Notifier == nil {
		return errors.New("downstream: handler not configured")
	}
	var payload DownstreamPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID == uuid.Nil {
		j.Logger.Warn("drop malformed downstream task", slog.String("payload", string(t.Payload())))
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskQuotationDownstream)
	defer func() {
		err = tracker.End(err)
	}()

	if err := j.Notifier.Notify(ctx, payload); err != nil {
		j.Logger.Error("downstream notify", slog.String("document_id", payload.DocumentID.String()), slog.Any("error", err))
		return err
	}
	return nil
}
