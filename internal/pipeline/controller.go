package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ledgermark/internal/fileutil"
	"ledgermark/internal/logging"
	"ledgermark/internal/services"
)

// DedupChecker answers whether content is already on the ledger.
type DedupChecker interface {
	Check(ctx context.Context, content ContentItem) (DedupOutcome, error)
}

// Embedder produces the fingerark-transformed artifact.
type Embedder interface {
	Embed(ctx context.Context, content ContentItem) (EmbeddingResult, error)
}

// Uploader stores the transformed artifact.
type Uploader interface {
	Upload(ctx context.Context, content ContentItem, embedding EmbeddingResult) (StorageReceipt, error)
}

// Registrar records a stored artifact on the ledger.
type Registrar interface {
	Register(ctx context.Context, req RegistrationRequest) (LedgerRecord, error)
}

// Stages bundles the components the controller drives.
type Stages struct {
	Dedup     DedupChecker
	Embedder  Embedder
	Uploader  Uploader
	Registrar Registrar
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for reports.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns the pipeline state for one content item. All mutation goes
// through Select, Advance, and Run; at most one stage executes at a time.
type Controller struct {
	mu       sync.Mutex
	inFlight bool
	state    State
	reports  map[Step]StepReport
	lastErr  *Failure

	stages Stages
	logger *slog.Logger
	now    func() time.Time
}

// New returns an idle controller.
func New(stages Stages, opts ...Option) *Controller {
	return Restore(Snapshot{}, stages, opts...)
}

// Restore returns a controller resuming from snap.
func Restore(snap Snapshot, stages Stages, opts ...Option) *Controller {
	c := &Controller{
		state:   snap.State,
		reports: make(map[Step]StepReport, len(Steps)),
		stages:  stages,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	if c.state == nil {
		c.state = Idle{}
	}
	for step, report := range snap.Reports {
		c.reports[step] = report
	}
	if snap.LastError != nil {
		failure := *snap.LastError
		c.lastErr = &failure
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "pipeline")
	return c
}

// State returns the current variant.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the full pipeline state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Busy reports whether a stage is executing.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Select replaces any prior content and resets the pipeline to Selected.
// The fingerprint is computed locally when the caller did not supply one.
func (c *Controller) Select(content ContentItem) error {
	if msg := content.validate(); msg != "" {
		return services.Wrap(services.ErrValidation, "select", "validate content", msg, nil)
	}
	if strings.TrimSpace(content.Fingerprint) == "" {
		content.Fingerprint = fileutil.Fingerprint(content.Data)
	}
	content.Fingerprint = strings.ToLower(strings.TrimSpace(content.Fingerprint))
	if content.Size == 0 {
		content.Size = int64(len(content.Data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return services.Wrap(services.ErrBusy, "select", "replace content", "a stage is in flight; wait for it to finish", nil)
	}
	c.state = Selected{Content: content}
	c.reports = make(map[Step]StepReport, len(Steps))
	c.lastErr = nil
	c.logger.Info("content selected",
		logging.String(logging.FieldEventType, "content_selected"),
		logging.String("filename", content.Filename),
		logging.String("fingerprint", content.Fingerprint),
		logging.Int64("size_bytes", content.Size),
	)
	return nil
}

// Advance executes the next stage for the current variant.
func (c *Controller) Advance(ctx context.Context) (State, error) {
	return c.run(ctx, "")
}

// Run executes step, which must be the next stage for the current variant.
// Out-of-order requests fail with a validation error before any service is
// contacted.
func (c *Controller) Run(ctx context.Context, step Step) (State, error) {
	if _, ok := ParseStep(string(step)); !ok {
		return c.State(), services.Wrap(services.ErrValidation, "advance", "resolve step", fmt.Sprintf("unknown step %q", step), nil)
	}
	return c.run(ctx, step)
}

func (c *Controller) run(ctx context.Context, requested Step) (State, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	step, from, err := c.begin(requested)
	if err != nil {
		return from, err
	}

	stepCtx := services.WithStage(ctx, string(step))
	logger := logging.WithContext(stepCtx, c.logger)
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("from_variant", from.Variant()),
		logging.String("step_label", step.Label()),
	)

	started := c.now()
	next, note, stageErr := c.execute(stepCtx, step, from)
	return c.finish(logger, step, from, next, note, stageErr, c.now().Sub(started))
}

func (c *Controller) begin(requested Step) (Step, State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return "", c.state, services.Wrap(services.ErrBusy, string(requested), "advance", "a stage is already in flight", nil)
	}
	step, err := nextStep(c.state)
	if err != nil {
		return "", c.state, err
	}
	if requested != "" && requested != step {
		return "", c.state, services.Wrap(
			services.ErrValidation, string(requested), "advance",
			fmt.Sprintf("cannot run %s from %s; next stage is %s", requested, c.state.Variant(), step),
			nil,
		)
	}
	if err := c.stages.check(step); err != nil {
		return "", c.state, err
	}
	c.inFlight = true
	report := c.reports[step]
	report.Status = StatusRunning
	report.Message = ""
	report.Attempts++
	report.UpdatedAt = c.now()
	c.reports[step] = report
	return step, c.state, nil
}

func (c *Controller) finish(logger *slog.Logger, step Step, from, next State, note string, stageErr error, elapsed time.Duration) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	c.state = next
	report := c.reports[step]
	report.UpdatedAt = c.now()

	if stageErr != nil {
		details := services.Details(stageErr)
		failure := &Failure{
			Step:               step,
			Stage:              from.Stage(),
			Kind:               details.Kind,
			Message:            details.Message,
			At:                 report.UpdatedAt,
			SideEffectPossible: sideEffectPossible(step, stageErr),
			Retryable:          services.Retryable(stageErr),
		}
		c.lastErr = failure
		report.Status = StatusFailed
		report.Message = failure.Message
		c.reports[step] = report

		attrs := append([]logging.Attr{
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("resolved_variant", next.Variant()),
			logging.Duration("elapsed", elapsed),
		}, logging.FailureAttrs(stageErr)...)
		logger.Error("stage failed", logging.Args(attrs...)...)
		if failure.SideEffectPossible {
			logging.WarnWithContext(logger, "stage interrupted after external side effect may have started", "orphaned_side_effect",
				logging.String(logging.FieldErrorHint, orphanHint(step)),
				logging.String(logging.FieldImpact, "external state may not match the session"),
			)
		}
		return next, stageErr
	}

	c.lastErr = nil
	report.Status = StatusSucceeded
	if _, dup := next.(AlreadyRegistered); dup {
		report.Status = StatusDuplicate
	}
	report.Message = note
	c.reports[step] = report
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_variant", next.Variant()),
		logging.String("result", note),
		logging.Duration("elapsed", elapsed),
	)
	return next, nil
}

// execute performs step from the given variant and returns the state to
// move to. On failure the returned state is the rollback target.
func (c *Controller) execute(ctx context.Context, step Step, from State) (State, string, error) {
	switch s := from.(type) {
	case Selected:
		outcome, err := c.stages.Dedup.Check(ctx, s.Content)
		if err != nil {
			return s, "", err
		}
		fingerprint := strings.ToLower(strings.TrimSpace(outcome.Fingerprint))
		if fingerprint == "" {
			fingerprint = s.Content.Fingerprint
		}
		if outcome.Existing != nil {
			existing := *outcome.Existing
			note := fmt.Sprintf("already registered by %s", existing.Owner)
			if !existing.Timestamp.IsZero() {
				note += " at " + existing.Timestamp.UTC().Format(time.RFC3339)
			}
			return AlreadyRegistered{Content: s.Content, Fingerprint: fingerprint, Existing: existing}, note, nil
		}
		return Checked{Content: s.Content, Fingerprint: fingerprint}, "fingerprint available", nil

	case Checked:
		if s.Cached != nil {
			return Embedded{Content: s.Content, Fingerprint: s.Fingerprint, Embedding: *s.Cached}, "reused cached embedding", nil
		}
		embedding, err := c.stages.Embedder.Embed(ctx, s.Content)
		if err != nil {
			return Selected{Content: s.Content}, "", err
		}
		return Embedded{Content: s.Content, Fingerprint: s.Fingerprint, Embedding: embedding},
			fmt.Sprintf("embedded at strength %d (BER %.4f)", embedding.Strength, embedding.BER), nil

	case Embedded:
		receipt, err := c.stages.Uploader.Upload(ctx, s.Content, s.Embedding)
		if err != nil {
			cached := s.Embedding
			return Checked{Content: s.Content, Fingerprint: s.Fingerprint, Cached: &cached}, "", err
		}
		if strings.TrimSpace(receipt.CID) == "" {
			cached := s.Embedding
			return Checked{Content: s.Content, Fingerprint: s.Fingerprint, Cached: &cached}, "",
				services.Wrap(services.ErrService, string(step), "upload artifact", "storage returned no content identifier", nil)
		}
		return Stored{Content: s.Content, Fingerprint: s.Fingerprint, Embedding: s.Embedding, Receipt: receipt},
			"stored as " + receipt.CID, nil

	case Stored:
		record, err := c.stages.Registrar.Register(ctx, RegistrationRequest{
			CID:         s.Receipt.CID,
			Fingerprint: s.Embedding.Fingerprint,
			Strength:    s.Embedding.Strength,
		})
		if err != nil {
			return s, "", err
		}
		return Registered{
			Content:     s.Content,
			Fingerprint: s.Fingerprint,
			Embedding:   s.Embedding,
			Receipt:     s.Receipt,
			Record:      record,
		}, "registered by " + record.Owner, nil
	}
	return from, "", services.Wrap(services.ErrValidation, string(step), "advance", "no stage to run from "+from.Variant(), nil)
}

func nextStep(state State) (Step, error) {
	switch s := state.(type) {
	case Selected:
		return StepDedup, nil
	case Checked:
		return StepEmbed, nil
	case Embedded:
		return StepUpload, nil
	case Stored:
		return StepRegister, nil
	case Registered:
		return "", services.Wrap(services.ErrValidation, "", "advance", "content is already registered; select new content", nil)
	case AlreadyRegistered:
		return "", services.Wrap(services.ErrDuplicateContent, string(StepDedup), "advance",
			fmt.Sprintf("fingerprint %s is registered to %s", s.Fingerprint, s.Existing.Owner), nil)
	default:
		return "", services.Wrap(services.ErrValidation, "", "advance", "no content selected", nil)
	}
}

func (s Stages) check(step Step) error {
	missing := ""
	switch step {
	case StepDedup:
		if s.Dedup == nil {
			missing = "duplicate checker"
		}
	case StepEmbed:
		if s.Embedder == nil {
			missing = "embedder"
		}
	case StepUpload:
		if s.Uploader == nil {
			missing = "uploader"
		}
	case StepRegister:
		if s.Registrar == nil {
			missing = "registrar"
		}
	}
	if missing == "" {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, string(step), "advance", missing+" is not configured", nil)
}

// sideEffectPossible reports whether a failed step may already have changed
// external state.
func sideEffectPossible(step Step, err error) bool {
	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	switch step {
	case StepUpload:
		return interrupted || (errors.Is(err, services.ErrTransport) && !errors.Is(err, services.ErrService))
	case StepRegister:
		switch {
		case errors.Is(err, services.ErrLedgerUnchanged):
			return false
		case errors.Is(err, services.ErrBroadcastPending):
			return true
		}
		return errors.Is(err, services.ErrSigningSubmission) || (interrupted && !errors.Is(err, services.ErrSigningDeclined))
	}
	return false
}

func orphanHint(step Step) string {
	if step == StepRegister {
		return "check the transaction on the ledger before registering again"
	}
	return "the artifact may be pinned; retrying upload is idempotent for identical bytes"
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Reports: make(map[Step]StepReport, len(c.reports))}
	for step, report := range c.reports {
		snap.Reports[step] = report
	}
	if c.lastErr != nil {
		failure := *c.lastErr
		snap.LastError = &failure
	}
	return snap
}
