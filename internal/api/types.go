package api

import (
	"time"

	"ledgermark/internal/pipeline"
	"ledgermark/internal/sessions"
	"ledgermark/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SessionView describes a session in a transport-friendly format.
type SessionView struct {
	ID           string            `json:"id"`
	Filename     string            `json:"filename"`
	MediaType    string            `json:"media_type,omitempty"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	Stage        string            `json:"stage"`
	StageLabel   string            `json:"stage_label"`
	Variant      string            `json:"variant"`
	Terminal     bool              `json:"terminal"`
	NextStep     string            `json:"next_step,omitempty"`
	CID          string            `json:"cid,omitempty"`
	GatewayURL   string            `json:"gateway_url,omitempty"`
	Owner        string            `json:"owner,omitempty"`
	TxHash       string            `json:"tx_hash,omitempty"`
	Steps        []StepView        `json:"steps"`
	LastError    *pipeline.Failure `json:"last_error,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
	Snapshot     pipeline.Snapshot `json:"snapshot"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// StepView is the per-step status row shown for a session.
type StepView struct {
	Step     string `json:"step"`
	Label    string `json:"label"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Session SessionView `json:"session"`
}

// HealthResponse reports readiness of each configured component.
type HealthResponse struct {
	Ready      bool           `json:"ready"`
	Components []stage.Health `json:"components"`
	Paths      []stage.Health `json:"paths,omitempty"`
}

// FromSession converts a stored session into its transport form.
func FromSession(sess *sessions.Session) SessionView {
	if sess == nil {
		return SessionView{}
	}
	snap := sess.Snapshot
	state := snap.State
	if state == nil {
		state = pipeline.Idle{}
	}
	view := SessionView{
		ID:           sess.ID,
		Filename:     sess.Filename,
		MediaType:    sess.MediaType,
		Fingerprint:  sess.Fingerprint,
		Stage:        state.Stage().String(),
		StageLabel:   state.Stage().Label(),
		Variant:      state.Variant(),
		Terminal:     state.Terminal(),
		NextStep:     string(snap.NextStep()),
		CID:          sess.CID,
		Owner:        sess.Owner,
		LastError:    snap.LastError,
		CreatedAt:    formatTimestamp(sess.CreatedAt),
		UpdatedAt:    formatTimestamp(sess.UpdatedAt),
		Snapshot:     snap,
		ErrorKind:    sess.ErrorKind,
		ErrorMessage: sess.ErrorMessage,
	}
	if receipt, ok := pipeline.ReceiptOf(state); ok {
		view.GatewayURL = receipt.GatewayURL
	}
	if record, ok := pipeline.RecordOf(state); ok {
		view.TxHash = record.TxHash
	}
	view.Steps = make([]StepView, 0, len(pipeline.Steps))
	for _, step := range pipeline.Steps {
		report := snap.Report(step)
		view.Steps = append(view.Steps, StepView{
			Step:     string(step),
			Label:    step.Label(),
			Status:   string(report.Status),
			Message:  report.Message,
			Attempts: report.Attempts,
		})
	}
	return view
}

// FromSessions converts a list of sessions, preserving order.
func FromSessions(list []*sessions.Session) []SessionView {
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, FromSession(sess))
	}
	return out
}

// NewHealthResponse summarizes component checks and, when given, the
// filesystem path checks.
func NewHealthResponse(records []stage.Health, paths ...stage.Health) HealthResponse {
	if records == nil {
		records = []stage.Health{}
	}
	return HealthResponse{
		Ready:      stage.AllReady(records) && stage.AllReady(paths),
		Components: records,
		Paths:      paths,
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
