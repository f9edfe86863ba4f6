package domain

// GenerationKind selects the asset type a provider should produce.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// GenerationRequest holds the parameters passed to a provider call.
type GenerationRequest struct {
	Kind   GenerationKind `json:"kind"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params,omitempty"`

	// Consistency carries style context extracted from an earlier frame
	// in the same batch. Nil outside sequential batches.
	Consistency *ConsistencyContext `json:"consistency,omitempty"`
}

// GenerationResult is the provider's answer for a completed job.
type GenerationResult struct {
	ID               string  `json:"id"`
	ResultURL        string  `json:"result_url"`
	Cost             float64 `json:"cost"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// ConsistencyContext is the output of the consistency extractor, fed
// forward to later frames of a sequential batch.
type ConsistencyContext struct {
	Palette    []string `json:"palette,omitempty"`
	Lighting   string   `json:"lighting,omitempty"`
	StyleNotes string   `json:"style_notes,omitempty"`
}

// ProviderJobStatus is the provider-side view of a generation request.
type ProviderJobStatus string

const (
	ProviderStatusPending   ProviderJobStatus = "pending"
	ProviderStatusRunning   ProviderJobStatus = "running"
	ProviderStatusSucceeded ProviderJobStatus = "succeeded"
	ProviderStatusFailed    ProviderJobStatus = "failed"
	ProviderStatusCancelled ProviderJobStatus = "cancelled"
)
