package pipeline

import (
	"strings"
	"time"
)

// ContentItem is the content a session registers. Data is carried out of
// band when a snapshot is persisted.
type ContentItem struct {
	Data        []byte `json:"-"`
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

// EmbeddingResult is the immutable output of a successful embed call.
type EmbeddingResult struct {
	Artifact         []byte  `json:"-"`
	MediaType        string  `json:"media_type"`
	Fingerprint      string  `json:"fingerprint"`
	InputFingerprint string  `json:"input_fingerprint,omitempty"`
	Delta            float64 `json:"delta"`
	Strength         int64   `json:"strength"`
	BER              float64 `json:"ber"`
}

// StorageReceipt is the storage network's acknowledgement of an artifact.
type StorageReceipt struct {
	CID        string    `json:"cid"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	GatewayURL string    `json:"gateway_url,omitempty"`
	StoredAt   time.Time `json:"stored_at"`
}

// LedgerRecord is a confirmed registration.
type LedgerRecord struct {
	Owner       string    `json:"owner"`
	CID         string    `json:"cid"`
	Fingerprint string    `json:"fingerprint"`
	Strength    int64     `json:"strength"`
	Timestamp   time.Time `json:"timestamp"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	ContentID   string    `json:"content_id,omitempty"`
}

// DedupOutcome is the result of a duplicate check. Existing is nil when the
// fingerprint is available.
type DedupOutcome struct {
	Fingerprint string
	Existing    *LedgerRecord
}

// Available reports whether the content may be registered.
func (o DedupOutcome) Available() bool {
	return o.Existing == nil
}

// RegistrationRequest is the argument set handed to the registrar.
type RegistrationRequest struct {
	CID         string
	Fingerprint string
	Strength    int64
}

// StepStatus is the outcome of the most recent attempt of a step.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusSucceeded StepStatus = "succeeded"
	StatusFailed    StepStatus = "failed"
	StatusDuplicate StepStatus = "already_registered"
)

// StepReport is the per-step status shown to the caller.
type StepReport struct {
	Status    StepStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	Attempts  int        `json:"attempts"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Failure is the last error attached to the pipeline.
type Failure struct {
	Step    Step      `json:"step"`
	Stage   Stage     `json:"stage"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	// SideEffectPossible is set when the failed step may already have
	// changed external state (an artifact pinned or a transaction broadcast).
	SideEffectPossible bool `json:"side_effect_possible,omitempty"`
	Retryable          bool `json:"retryable"`
}

func (c ContentItem) validate() string {
	switch {
	case len(c.Data) == 0:
		return "content is empty"
	case strings.TrimSpace(c.Filename) == "":
		return "content filename is required"
	default:
		return ""
	}
}
