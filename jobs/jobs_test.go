package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/solarcalc/invoicing/internal/jobs"
	"github.com/solarcalc/invoicing/internal/observability"
	"github.com/solarcalc/invoicing/internal/shared"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// ============================================================================
// FAKES
// ============================================================================

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueueDefault}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type recordingNotifier struct {
	got []DownstreamPayload
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, p DownstreamPayload) error {
	r.got = append(r.got, p)
	return r.err
}

type recordingViews struct {
	ids []uuid.UUID
	at  []time.Time
	err error
}

func (r *recordingViews) RecordView(ctx context.Context, id uuid.UUID, at time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	r.at = append(r.at, at)
	return nil
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func newJobMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry(), nil)
}

// ============================================================================
// CLIENT
// ============================================================================

func TestClientEnqueueDownstreamCarriesOnlyIDs(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := NewClientWith(fake)
	docID := uuid.New()
	customerID := int64(42)

	require.NoError(t, client.EnqueueDownstream(context.Background(), docID, &customerID))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskQuotationDownstream, fake.tasks[0].Type())

	var body map[string]any
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &body))
	assert.Len(t, body, 2)
	assert.Equal(t, docID.String(), body["document_id"])
	assert.EqualValues(t, 42, body["customer_id"])
}

func TestClientEnqueueWrapsErrors(t *testing.T) {
	boom := errors.New("redis down")
	client := NewClientWith(&fakeEnqueuer{err: boom})

	err := client.EnqueueView(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, boom)

	err = client.EnqueueDownstream(context.Background(), uuid.Nil, nil)
	assert.Error(t, err)
}

// ============================================================================
// HANDLERS
// ============================================================================

func TestDownstreamJobNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	metrics := observability.NewMetrics()
	job := NewDownstreamJob(notifier, discard, jobmetrics.NewMetrics(prometheus.NewRegistry(), metrics))
	docID := uuid.New()

	task, err := NewDownstreamTask(DownstreamPayload{DocumentID: docID})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Len(t, notifier.got, 1)
	assert.Equal(t, docID, notifier.got[0].DocumentID)
	assert.Nil(t, notifier.got[0].CustomerID)
}

func TestDownstreamJobSkipsMalformedPayload(t *testing.T) {
	job := NewDownstreamJob(&recordingNotifier{}, discard, newJobMetrics())

	err := job.Handle(context.Background(), asynq.NewTask(TaskQuotationDownstream, []byte(`{"document_id":"nope"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDownstreamJobRetriesNotifierFailure(t *testing.T) {
	boom := errors.New("seda offline")
	job := NewDownstreamJob(&recordingNotifier{err: boom}, discard, newJobMetrics())
	task, err := NewDownstreamTask(DownstreamPayload{DocumentID: uuid.New()})
	require.NoError(t, err)

	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestDefaultNotifierLogs(t *testing.T) {
	job := NewDownstreamJob(nil, discard, newJobMetrics())
	task, err := NewDownstreamTask(DownstreamPayload{DocumentID: uuid.New()})
	require.NoError(t, err)

	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestViewJobRecords(t *testing.T) {
	views := &recordingViews{}
	job := NewViewJob(views, discard, newJobMetrics())
	docID := uuid.New()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	task, err := NewViewTask(ViewPayload{DocumentID: docID, ViewedAt: at})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, []uuid.UUID{docID}, views.ids)
	assert.True(t, at.Equal(views.at[0]))
}

func TestViewJobIgnoresMissingDocument(t *testing.T) {
	job := NewViewJob(&recordingViews{err: shared.ErrNotFound}, discard, newJobMetrics())
	task, err := NewViewTask(ViewPayload{DocumentID: uuid.New(), ViewedAt: time.Now()})
	require.NoError(t, err)

	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestServeMuxRoutesQuotationTasks(t *testing.T) {
	notifier := &recordingNotifier{}
	views := &recordingViews{}
	mux := newServeMux(WorkerConfig{
		Downstream: NewDownstreamJob(notifier, discard, newJobMetrics()),
		Views:      NewViewJob(views, discard, newJobMetrics()),
	})

	down, err := NewDownstreamTask(DownstreamPayload{DocumentID: uuid.New()})
	require.NoError(t, err)
	view, err := NewViewTask(ViewPayload{DocumentID: uuid.New(), ViewedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), down))
	require.NoError(t, mux.ProcessTask(context.Background(), view))
	assert.Len(t, notifier.got, 1)
	assert.Len(t, views.ids, 1)
}

// ============================================================================
// QUEUE HEALTH
// ============================================================================

func serveHealth(t *testing.T, h *Handler) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestHealthReportsQueueDepth(t *testing.T) {
	rr := serveHealth(t, NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, discard))

	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Pending)
	assert.Equal(t, 1, body.Retry)
}

func TestHealthWithoutQueue(t *testing.T) {
	rr := serveHealth(t, NewHandler(nil, discard))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rr.Body.String())
}

func TestHealthUnavailable(t *testing.T) {
	rr := serveHealth(t, NewHandler(fakeInspector{err: errors.New("dial tcp")}, discard))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
