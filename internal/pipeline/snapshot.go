package pipeline

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the persisted and displayed form of a pipeline. Artifact bytes
// are not part of its JSON encoding; see WithArtifacts.
type Snapshot struct {
	State     State
	Reports   map[Step]StepReport
	LastError *Failure
}

// NextStep returns the step an Advance would run, or "" when none applies.
func (s Snapshot) NextStep() Step {
	if s.State == nil {
		return ""
	}
	step, err := nextStep(s.State)
	if err != nil {
		return ""
	}
	return step
}

// Report returns the report for step, defaulting to pending.
func (s Snapshot) Report(step Step) StepReport {
	if report, ok := s.Reports[step]; ok {
		return report
	}
	return StepReport{Status: StatusPending}
}

type wireSnapshot struct {
	Variant     string              `json:"variant"`
	Stage       Stage               `json:"stage"`
	StageName   string              `json:"stage_name"`
	Terminal    bool                `json:"terminal"`
	NextStep    Step                `json:"next_step,omitempty"`
	Content     *ContentItem        `json:"content,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Embedding   *EmbeddingResult    `json:"embedding,omitempty"`
	Receipt     *StorageReceipt     `json:"receipt,omitempty"`
	Record      *LedgerRecord       `json:"record,omitempty"`
	Reports     map[Step]StepReport `json:"reports,omitempty"`
	LastError   *Failure            `json:"last_error,omitempty"`
}

// MarshalJSON encodes the snapshot with its variant tag.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	state := s.State
	if state == nil {
		state = Idle{}
	}
	w := wireSnapshot{
		Variant:   state.Variant(),
		Stage:     state.Stage(),
		StageName: state.Stage().String(),
		Terminal:  state.Terminal(),
		NextStep:  s.NextStep(),
		Reports:   s.Reports,
		LastError: s.LastError,
	}
	switch v := state.(type) {
	case Selected:
		w.Content = &v.Content
	case Checked:
		w.Content, w.Fingerprint, w.Embedding = &v.Content, v.Fingerprint, v.Cached
	case Embedded:
		w.Content, w.Fingerprint, w.Embedding = &v.Content, v.Fingerprint, &v.Embedding
	case Stored:
		w.Content, w.Fingerprint, w.Embedding, w.Receipt = &v.Content, v.Fingerprint, &v.Embedding, &v.Receipt
	case Registered:
		w.Content, w.Fingerprint, w.Embedding, w.Receipt, w.Record = &v.Content, v.Fingerprint, &v.Embedding, &v.Receipt, &v.Record
	case AlreadyRegistered:
		w.Content, w.Fingerprint, w.Record = &v.Content, v.Fingerprint, &v.Existing
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a tagged snapshot. Payload fields required by the
// variant must be present.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	state, err := w.state()
	if err != nil {
		return err
	}
	s.State = state
	s.Reports = w.Reports
	s.LastError = w.LastError
	return nil
}

func (w wireSnapshot) state() (State, error) {
	need := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("snapshot variant %q missing %s", w.Variant, field)
		}
		return nil
	}
	switch w.Variant {
	case "", "idle":
		return Idle{}, nil
	case "selected":
		if err := need(w.Content != nil, "content"); err != nil {
			return nil, err
		}
		return Selected{Content: *w.Content}, nil
	case "checked":
		if err := need(w.Content != nil, "content"); err != nil {
			return nil, err
		}
		return Checked{Content: *w.Content, Fingerprint: w.Fingerprint, Cached: w.Embedding}, nil
	case "embedded":
		if err := need(w.Content != nil && w.Embedding != nil, "content or embedding"); err != nil {
			return nil, err
		}
		return Embedded{Content: *w.Content, Fingerprint: w.Fingerprint, Embedding: *w.Embedding}, nil
	case "stored":
		if err := need(w.Content != nil && w.Embedding != nil && w.Receipt != nil, "content, embedding or receipt"); err != nil {
			return nil, err
		}
		return Stored{Content: *w.Content, Fingerprint: w.Fingerprint, Embedding: *w.Embedding, Receipt: *w.Receipt}, nil
	case "registered":
		if err := need(w.Content != nil && w.Embedding != nil && w.Receipt != nil && w.Record != nil, "registration payload"); err != nil {
			return nil, err
		}
		return Registered{
			Content:     *w.Content,
			Fingerprint: w.Fingerprint,
			Embedding:   *w.Embedding,
			Receipt:     *w.Receipt,
			Record:      *w.Record,
		}, nil
	case "already_registered":
		if err := need(w.Content != nil && w.Record != nil, "content or existing record"); err != nil {
			return nil, err
		}
		return AlreadyRegistered{Content: *w.Content, Fingerprint: w.Fingerprint, Existing: *w.Record}, nil
	}
	return nil, fmt.Errorf("unknown snapshot variant %q", w.Variant)
}

// Attempts returns the number of stage executions recorded in the snapshot.
func (s Snapshot) Attempts() int {
	total := 0
	for _, report := range s.Reports {
		total += report.Attempts
	}
	return total
}
