package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationDownstream forwards a written document to the SEDA and
	// referral integrations.
	TaskQuotationDownstream = "quotation:downstream"
	// TaskQuotationView records one public view of a shared document.
	TaskQuotationView = "quotation:view"
)

const maxRetry = 5

// DownstreamPayload identifies a freshly written document. Consumers load
// anything else they need themselves.
type DownstreamPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	CustomerID *int64    `json:"customer_id,omitempty"`
}

// ViewPayload records when a shared document was opened.
type ViewPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	ViewedAt   time.Time `json:"viewed_at"`
}

// NewDownstreamTask constructs a downstream notification task.
func NewDownstreamTask(payload DownstreamPayload) (*asynq.Task, error) {
	if payload.DocumentID == uuid.Nil {
		return nil, fmt.Errorf("jobs: downstream task without document id")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationDownstream, data, asynq.Queue(QueueDefault), asynq.MaxRetry(maxRetry)), nil
}

// NewViewTask constructs a view-recording task.
func NewViewTask(payload ViewPayload) (*asynq.Task, error) {
	if payload.DocumentID == uuid.Nil {
		return nil, fmt.Errorf("jobs: view task without document id")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuotationView, data, asynq.Queue(QueueDefault), asynq.MaxRetry(maxRetry)), nil
}
