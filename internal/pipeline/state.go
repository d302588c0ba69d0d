package pipeline

// State is one of the pipeline variants. Each variant carries only the data
// that exists once its stage has been reached.
type State interface {
	Stage() Stage
	Variant() string
	Terminal() bool
	isState()
}

// Idle has no content selected.
type Idle struct{}

// Selected holds content awaiting the duplicate check.
type Selected struct {
	Content ContentItem
}

// Checked holds content confirmed as unregistered. Cached is set when an
// upload failed after a successful embed, so the embedding can be reused.
type Checked struct {
	Content     ContentItem
	Fingerprint string
	Cached      *EmbeddingResult
}

// Embedded holds the transformed artifact awaiting upload.
type Embedded struct {
	Content     ContentItem
	Fingerprint string
	Embedding   EmbeddingResult
}

// Stored holds the storage receipt awaiting ledger registration.
type Stored struct {
	Content     ContentItem
	Fingerprint string
	Embedding   EmbeddingResult
	Receipt     StorageReceipt
}

// Registered is the terminal success state.
type Registered struct {
	Content     ContentItem
	Fingerprint string
	Embedding   EmbeddingResult
	Receipt     StorageReceipt
	Record      LedgerRecord
}

// AlreadyRegistered is the terminal state reached when the duplicate check
// finds an existing record. The stage index stays at Selected.
type AlreadyRegistered struct {
	Content     ContentItem
	Fingerprint string
	Existing    LedgerRecord
}

func (Idle) Stage() Stage              { return StageIdle }
func (Selected) Stage() Stage          { return StageSelected }
func (Checked) Stage() Stage           { return StageChecked }
func (Embedded) Stage() Stage          { return StageEmbedded }
func (Stored) Stage() Stage            { return StageStored }
func (Registered) Stage() Stage        { return StageRegistered }
func (AlreadyRegistered) Stage() Stage { return StageSelected }

func (Idle) Variant() string              { return "idle" }
func (Selected) Variant() string          { return "selected" }
func (Checked) Variant() string           { return "checked" }
func (Embedded) Variant() string          { return "embedded" }
func (Stored) Variant() string            { return "stored" }
func (Registered) Variant() string        { return "registered" }
func (AlreadyRegistered) Variant() string { return "already_registered" }

func (Idle) Terminal() bool              { return false }
func (Selected) Terminal() bool          { return false }
func (Checked) Terminal() bool           { return false }
func (Embedded) Terminal() bool          { return false }
func (Stored) Terminal() bool            { return false }
func (Registered) Terminal() bool        { return true }
func (AlreadyRegistered) Terminal() bool { return true }

func (Idle) isState()              {}
func (Selected) isState()          {}
func (Checked) isState()           {}
func (Embedded) isState()          {}
func (Stored) isState()            {}
func (Registered) isState()        {}
func (AlreadyRegistered) isState() {}

// ContentOf returns the content carried by s, if any.
func ContentOf(s State) (ContentItem, bool) {
	switch v := s.(type) {
	case Selected:
		return v.Content, true
	case Checked:
		return v.Content, true
	case Embedded:
		return v.Content, true
	case Stored:
		return v.Content, true
	case Registered:
		return v.Content, true
	case AlreadyRegistered:
		return v.Content, true
	default:
		return ContentItem{}, false
	}
}

// EmbeddingOf returns the embedding carried by s, including a cached one.
func EmbeddingOf(s State) (EmbeddingResult, bool) {
	switch v := s.(type) {
	case Checked:
		if v.Cached != nil {
			return *v.Cached, true
		}
	case Embedded:
		return v.Embedding, true
	case Stored:
		return v.Embedding, true
	case Registered:
		return v.Embedding, true
	}
	return EmbeddingResult{}, false
}

// ReceiptOf returns the storage receipt carried by s, if any.
func ReceiptOf(s State) (StorageReceipt, bool) {
	switch v := s.(type) {
	case Stored:
		return v.Receipt, true
	case Registered:
		return v.Receipt, true
	}
	return StorageReceipt{}, false
}

// RecordOf returns the ledger record carried by s: the confirmed record for
// Registered or the pre-existing one for AlreadyRegistered.
func RecordOf(s State) (LedgerRecord, bool) {
	switch v := s.(type) {
	case Registered:
		return v.Record, true
	case AlreadyRegistered:
		return v.Existing, true
	}
	return LedgerRecord{}, false
}

// WithArtifacts returns s with the original and transformed bytes restored.
// It is used when rehydrating a persisted snapshot.
func WithArtifacts(s State, original, transformed []byte) State {
	switch v := s.(type) {
	case Selected:
		v.Content.Data = original
		return v
	case Checked:
		v.Content.Data = original
		if v.Cached != nil {
			cached := *v.Cached
			cached.Artifact = transformed
			v.Cached = &cached
		}
		return v
	case Embedded:
		v.Content.Data = original
		v.Embedding.Artifact = transformed
		return v
	case Stored:
		v.Content.Data = original
		v.Embedding.Artifact = transformed
		return v
	case Registered:
		v.Content.Data = original
		v.Embedding.Artifact = transformed
		return v
	case AlreadyRegistered:
		v.Content.Data = original
		return v
	}
	return s
}
