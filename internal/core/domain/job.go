package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one unit of generation work tracked by id.
type Job struct {
	ID          string            `json:"id"`
	Priority    int               `json:"priority"` // lower dequeues first
	ProviderKey string            `json:"provider_key"`
	Payload     *GenerationRequest `json:"payload"`
	BatchID     string            `json:"batch_id,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// ScheduledAt gates admission; zero means eligible immediately.
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`

	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	LastError string    `json:"last_error,omitempty"`

	// Result is set once the job completes.
	Result *GenerationResult `json:"result,omitempty"`
}

// NewJob creates a job with a generated id and default retry ceiling.
func NewJob(providerKey string, payload *GenerationRequest) *Job {
	return &Job{
		ID:          uuid.New().String(),
		ProviderKey: providerKey,
		Payload:     payload,
		MaxRetries:  3,
		Status:      StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
}
