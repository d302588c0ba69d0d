package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
)

type fakeDedup struct {
	calls    int
	existing *pipeline.LedgerRecord
	err      error
}

func (f *fakeDedup) Check(_ context.Context, content pipeline.ContentItem) (pipeline.DedupOutcome, error) {
	f.calls++
	if f.err != nil {
		return pipeline.DedupOutcome{}, f.err
	}
	return pipeline.DedupOutcome{Fingerprint: content.Fingerprint, Existing: f.existing}, nil
}

type fakeEmbedder struct {
	calls  int
	result pipeline.EmbeddingResult
	err    error
}

func (f *fakeEmbedder) Embed(context.Context, pipeline.ContentItem) (pipeline.EmbeddingResult, error) {
	f.calls++
	if f.err != nil {
		return pipeline.EmbeddingResult{}, f.err
	}
	return f.result, nil
}

type fakeUploader struct {
	calls int
	got   pipeline.EmbeddingResult
	errs  []error
	cid   string
	block chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, _ pipeline.ContentItem, embedding pipeline.EmbeddingResult) (pipeline.StorageReceipt, error) {
	f.calls++
	f.got = embedding
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pipeline.StorageReceipt{}, services.Wrap(services.ErrTransport, "upload", "pin artifact", "upload abandoned", ctx.Err())
		}
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pipeline.StorageReceipt{}, err
		}
	}
	return pipeline.StorageReceipt{CID: f.cid, Filename: "photo_1700000000.png", StoredAt: time.Unix(1700000000, 0)}, nil
}

type fakeRegistrar struct {
	calls int
	got   pipeline.RegistrationRequest
	errs  []error
}

func (f *fakeRegistrar) Register(_ context.Context, req pipeline.RegistrationRequest) (pipeline.LedgerRecord, error) {
	f.calls++
	f.got = req
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return pipeline.LedgerRecord{}, err
		}
	}
	return pipeline.LedgerRecord{
		Owner:       "0x1111111111111111111111111111111111111111",
		CID:         req.CID,
		Fingerprint: req.Fingerprint,
		Strength:    req.Strength,
		Timestamp:   time.Unix(1700000100, 0).UTC(),
		TxHash:      "0xabc",
	}, nil
}

type harness struct {
	dedup     *fakeDedup
	embedder  *fakeEmbedder
	uploader  *fakeUploader
	registrar *fakeRegistrar
	ctrl      *pipeline.Controller
}

const postFingerprint = "f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dedup: &fakeDedup{},
		embedder: &fakeEmbedder{result: pipeline.EmbeddingResult{
			Artifact:    []byte("transformed"),
			MediaType:   "image/png",
			Fingerprint: postFingerprint,
			Delta:       7.75,
			Strength:    775000,
			BER:         0.01,
		}},
		uploader:  &fakeUploader{cid: "Qm123"},
		registrar: &fakeRegistrar{},
	}
	h.ctrl = pipeline.New(pipeline.Stages{
		Dedup:     h.dedup,
		Embedder:  h.embedder,
		Uploader:  h.uploader,
		Registrar: h.registrar,
	})
	return h
}

func (h *harness) selectContent(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Select(pipeline.ContentItem{Data: []byte("original"), Filename: "photo.png", MediaType: "image/png"}); err != nil {
		t.Fatalf("Select: %v", err)
	}
}

func mustAdvance(t *testing.T, ctrl *pipeline.Controller, want pipeline.Stage) pipeline.State {
	t.Helper()
	state, err := ctrl.Advance(context.Background())
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if state.Stage() != want {
		t.Fatalf("stage = %s, want %s", state.Stage(), want)
	}
	return state
}

func TestAdvanceWithoutContentIsValidationError(t *testing.T) {
	h := newHarness(t)
	_, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.dedup.calls != 0 {
		t.Fatalf("dedup should not be called")
	}
}

func TestSelectComputesFingerprint(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	content, ok := pipeline.ContentOf(h.ctrl.State())
	if !ok {
		t.Fatal("expected content")
	}
	if len(content.Fingerprint) != 64 {
		t.Fatalf("unexpected fingerprint %q", content.Fingerprint)
	}
	if content.Size != int64(len("original")) {
		t.Fatalf("size = %d", content.Size)
	}
}

func TestSelectRejectsEmptyContent(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Select(pipeline.ContentItem{Filename: "x.png"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, idle := h.ctrl.State().(pipeline.Idle); !idle {
		t.Fatalf("state changed to %T", h.ctrl.State())
	}
}

func TestDedupAvailableMovesToChecked(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	state := mustAdvance(t, h.ctrl, pipeline.StageChecked)
	checked, ok := state.(pipeline.Checked)
	if !ok {
		t.Fatalf("state = %T", state)
	}
	if checked.Cached != nil {
		t.Fatal("fresh check should not carry a cached embedding")
	}
	snap := h.ctrl.Snapshot()
	if snap.Report(pipeline.StepDedup).Status != pipeline.StatusSucceeded {
		t.Fatalf("dedup report = %+v", snap.Report(pipeline.StepDedup))
	}
}

func TestDedupFindsExistingRecord(t *testing.T) {
	h := newHarness(t)
	existing := pipeline.LedgerRecord{
		Owner:       "0x2222222222222222222222222222222222222222",
		CID:         "QmExisting",
		Fingerprint: "abc",
		Timestamp:   time.Unix(1690000000, 0).UTC(),
	}
	h.dedup.existing = &existing
	h.selectContent(t)

	state := mustAdvance(t, h.ctrl, pipeline.StageSelected)
	dup, ok := state.(pipeline.AlreadyRegistered)
	if !ok {
		t.Fatalf("state = %T", state)
	}
	if !dup.Terminal() {
		t.Fatal("already registered should be terminal")
	}
	if dup.Existing.Owner != existing.Owner || dup.Existing.CID != existing.CID || !dup.Existing.Timestamp.Equal(existing.Timestamp) {
		t.Fatalf("existing record = %+v", dup.Existing)
	}
	if got := h.ctrl.Snapshot().Report(pipeline.StepDedup).Status; got != pipeline.StatusDuplicate {
		t.Fatalf("report status = %s", got)
	}

	_, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrDuplicateContent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("duplicate content must not be retryable")
	}
	if h.embedder.calls != 0 {
		t.Fatal("embedder should not run for registered content")
	}
}

func TestDedupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		h.selectContent(t)
		state := mustAdvance(t, h.ctrl, pipeline.StageChecked)
		if _, ok := state.(pipeline.Checked); !ok {
			t.Fatalf("attempt %d: state = %T", i, state)
		}
	}
	if h.dedup.calls != 2 {
		t.Fatalf("dedup calls = %d", h.dedup.calls)
	}
}

func TestDedupFailureKeepsSelected(t *testing.T) {
	h := newHarness(t)
	h.dedup.err = services.Transport("transform", "check", errors.New("connection refused"))
	h.selectContent(t)
	state, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, ok := state.(pipeline.Selected); !ok {
		t.Fatalf("state = %T", state)
	}
	last := h.ctrl.Snapshot().LastError
	if last == nil || last.Step != pipeline.StepDedup || last.Kind != "transport" {
		t.Fatalf("last error = %+v", last)
	}
}

func TestUploadFailureCachesEmbedding(t *testing.T) {
	h := newHarness(t)
	h.uploader.errs = []error{&services.ServiceError{Service: "pinata", StatusCode: 500, Message: "pin failed"}}
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)

	embedded := mustAdvance(t, h.ctrl, pipeline.StageEmbedded).(pipeline.Embedded)
	if embedded.Embedding.Strength != 775000 || embedded.Embedding.Fingerprint != postFingerprint {
		t.Fatalf("embedding = %+v", embedded.Embedding)
	}

	state, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	checked, ok := state.(pipeline.Checked)
	if !ok {
		t.Fatalf("state = %T", state)
	}
	if checked.Cached == nil || checked.Cached.Fingerprint != postFingerprint || string(checked.Cached.Artifact) != "transformed" {
		t.Fatalf("cached embedding = %+v", checked.Cached)
	}

	mustAdvance(t, h.ctrl, pipeline.StageEmbedded)
	if h.embedder.calls != 1 {
		t.Fatalf("embedder calls = %d, want cached reuse", h.embedder.calls)
	}
	stored := mustAdvance(t, h.ctrl, pipeline.StageStored).(pipeline.Stored)
	if stored.Receipt.CID != "Qm123" {
		t.Fatalf("receipt = %+v", stored.Receipt)
	}
	if string(h.uploader.got.Artifact) != "transformed" {
		t.Fatalf("uploader got artifact %q", h.uploader.got.Artifact)
	}
}

func TestEmbedFailureRevertsToSelected(t *testing.T) {
	h := newHarness(t)
	h.embedder.err = &services.ServiceError{Service: "transform", StatusCode: 422, Message: "unsupported image"}
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)
	state, err := h.ctrl.Advance(context.Background())
	if err == nil {
		t.Fatal("expected embed error")
	}
	if state.Stage() != pipeline.StageSelected {
		t.Fatalf("stage = %s", state.Stage())
	}
	if got := h.ctrl.Snapshot().LastError.Message; got == "" {
		t.Fatal("expected failure message")
	}
}

func TestSigningDeclinedKeepsReceipt(t *testing.T) {
	h := newHarness(t)
	h.registrar.errs = []error{services.Wrap(services.ErrSigningDeclined, "register", "sign transaction", "signing declined; no transaction was sent", nil)}
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)
	mustAdvance(t, h.ctrl, pipeline.StageEmbedded)
	mustAdvance(t, h.ctrl, pipeline.StageStored)

	state, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrSigningDeclined) {
		t.Fatalf("expected declined error, got %v", err)
	}
	stored, ok := state.(pipeline.Stored)
	if !ok || stored.Receipt.CID != "Qm123" {
		t.Fatalf("state = %#v", state)
	}
	if h.ctrl.Snapshot().LastError.SideEffectPossible {
		t.Fatal("declined signing cannot have touched the ledger")
	}

	mustAdvance(t, h.ctrl, pipeline.StageRegistered)
	if h.uploader.calls != 1 {
		t.Fatalf("uploader calls = %d, want 1", h.uploader.calls)
	}
	if h.registrar.got.CID != "Qm123" || h.registrar.got.Fingerprint != postFingerprint || h.registrar.got.Strength != 775000 {
		t.Fatalf("registration request = %+v", h.registrar.got)
	}
}

func TestRegisterFailureSideEffects(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		sideEffect bool
	}{
		{
			name: "reverted",
			err: services.Wrap(services.ErrSigningSubmission, "register", "wait receipt",
				"transaction 0x1 reverted; the ledger was not changed",
				fmt.Errorf("receipt status 0: %w", services.ErrLedgerUnchanged)),
			sideEffect: false,
		},
		{
			name: "cancelled while the wallet held the request",
			err: services.Wrap(services.ErrSigningDeclined, "register", "send transaction",
				"signing cancelled while the wallet held the request; it may still broadcast the transaction",
				fmt.Errorf("%w: %w", services.ErrBroadcastPending, context.Canceled)),
			sideEffect: true,
		},
		{
			name: "receipt timeout",
			err: services.Wrap(services.ErrSigningSubmission, "register", "wait receipt",
				"transaction 0x1 not confirmed; the ledger mutation may still occur", context.DeadlineExceeded),
			sideEffect: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.registrar.errs = []error{tc.err}
			h.selectContent(t)
			mustAdvance(t, h.ctrl, pipeline.StageChecked)
			mustAdvance(t, h.ctrl, pipeline.StageEmbedded)
			mustAdvance(t, h.ctrl, pipeline.StageStored)

			state, err := h.ctrl.Advance(context.Background())
			if err == nil {
				t.Fatal("expected register error")
			}
			if _, ok := state.(pipeline.Stored); !ok {
				t.Fatalf("state = %#v, want Stored", state)
			}
			failure := h.ctrl.Snapshot().LastError
			if failure == nil || failure.SideEffectPossible != tc.sideEffect {
				t.Fatalf("failure = %+v, want side_effect_possible=%v", failure, tc.sideEffect)
			}
		})
	}
}

func TestRegisteredIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	for _, want := range []pipeline.Stage{pipeline.StageChecked, pipeline.StageEmbedded, pipeline.StageStored, pipeline.StageRegistered} {
		mustAdvance(t, h.ctrl, want)
	}
	registered := h.ctrl.State().(pipeline.Registered)
	if registered.Record.Owner == "" || registered.Record.CID != "Qm123" || registered.Record.Fingerprint != postFingerprint || registered.Record.Timestamp.IsZero() {
		t.Fatalf("record = %+v", registered.Record)
	}
	if _, err := h.ctrl.Advance(context.Background()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error after registration, got %v", err)
	}
	if h.registrar.calls != 1 {
		t.Fatalf("registrar calls = %d", h.registrar.calls)
	}
}

func TestRunRejectsSkippedStage(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)

	_, err := h.ctrl.Run(context.Background(), pipeline.StepUpload)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h.uploader.calls != 0 {
		t.Fatal("uploader must not be contacted")
	}
	if _, ok := h.ctrl.State().(pipeline.Checked); !ok {
		t.Fatalf("state = %T", h.ctrl.State())
	}
	if _, err := h.ctrl.Run(context.Background(), pipeline.StepEmbed); err != nil {
		t.Fatalf("Run(embed): %v", err)
	}
}

func TestMissingRegistrarIsConfigurationError(t *testing.T) {
	ctrl := pipeline.Restore(pipeline.Snapshot{State: pipeline.Stored{
		Content: pipeline.ContentItem{Data: []byte("x"), Filename: "x.png"},
		Receipt: pipeline.StorageReceipt{CID: "Qm123"},
	}}, pipeline.Stages{})
	_, err := ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, ok := ctrl.State().(pipeline.Stored); !ok {
		t.Fatalf("state = %T", ctrl.State())
	}
}

func TestSigningUnavailableIsNotRetryable(t *testing.T) {
	h := newHarness(t)
	h.registrar.errs = []error{services.Wrap(services.ErrSigningUnavailable, "register", "connect signer", "cannot proceed: no signing session available", nil)}
	h.selectContent(t)
	for _, want := range []pipeline.Stage{pipeline.StageChecked, pipeline.StageEmbedded, pipeline.StageStored} {
		mustAdvance(t, h.ctrl, want)
	}
	_, err := h.ctrl.Advance(context.Background())
	if !errors.Is(err, services.ErrSigningUnavailable) {
		t.Fatalf("expected signing unavailable, got %v", err)
	}
	last := h.ctrl.Snapshot().LastError
	if last.Retryable || last.Kind != "signing_unavailable" || last.Stage != pipeline.StageStored {
		t.Fatalf("last error = %+v", last)
	}
}

func TestConcurrentAdvanceIsBusy(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)
	mustAdvance(t, h.ctrl, pipeline.StageEmbedded)

	h.uploader.block = make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.ctrl.Advance(context.Background()); err != nil {
			t.Errorf("blocked Advance: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.ctrl.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("upload never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := h.ctrl.Advance(context.Background()); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if err := h.ctrl.Select(pipeline.ContentItem{Data: []byte("other"), Filename: "b.png"}); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected busy select, got %v", err)
	}
	close(h.uploader.block)
	wg.Wait()

	if _, ok := h.ctrl.State().(pipeline.Stored); !ok {
		t.Fatalf("state = %T", h.ctrl.State())
	}
}

func TestCancelledUploadFlagsPossibleOrphan(t *testing.T) {
	h := newHarness(t)
	h.selectContent(t)
	mustAdvance(t, h.ctrl, pipeline.StageChecked)
	mustAdvance(t, h.ctrl, pipeline.StageEmbedded)

	h.uploader.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Advance(ctx)
		done <- err
	}()
	for !h.ctrl.Busy() {
		time.Sleep(time.Millisecond)
	}
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	checked, ok := h.ctrl.State().(pipeline.Checked)
	if !ok || checked.Cached == nil {
		t.Fatalf("state = %#v", h.ctrl.State())
	}
	last := h.ctrl.Snapshot().LastError
	if last == nil || !last.SideEffectPossible {
		t.Fatalf("expected possible side effect, got %+v", last)
	}
}

func TestSubmissionFailureFlagsPossibleOrphan(t *testing.T) {
	h := newHarness(t)
	h.registrar.errs = []error{services.Wrap(services.ErrSigningSubmission, "register", "wait for receipt", "transaction not confirmed in time; the ledger mutation may still occur", context.DeadlineExceeded)}
	h.selectContent(t)
	for _, want := range []pipeline.Stage{pipeline.StageChecked, pipeline.StageEmbedded, pipeline.StageStored} {
		mustAdvance(t, h.ctrl, want)
	}
	if _, err := h.ctrl.Advance(context.Background()); !errors.Is(err, services.ErrSigningSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
	if last := h.ctrl.Snapshot().LastError; !last.SideEffectPossible {
		t.Fatalf("expected side effect flag, got %+v", last)
	}
}

func TestStageNeverDropsByMoreThanOne(t *testing.T) {
	failures := map[pipeline.Stage]bool{}
	h := newHarness(t)
	h.dedup.err = errors.New("flaky")
	h.embedder.err = errors.New("flaky")
	h.uploader.errs = []error{errors.New("flaky")}
	h.registrar.errs = []error{errors.New("flaky")}
	h.selectContent(t)

	prev := h.ctrl.State().Stage()
	for i := 0; i < 20; i++ {
		state, err := h.ctrl.Advance(context.Background())
		cur := state.Stage()
		switch {
		case err != nil:
			if prev-cur > 1 || cur > prev {
				t.Fatalf("failure moved %s -> %s", prev, cur)
			}
			failures[prev] = true
			// clear the fault so the next attempt succeeds
			switch prev {
			case pipeline.StageSelected:
				h.dedup.err = nil
			case pipeline.StageChecked:
				h.embedder.err = nil
			}
		case cur < prev:
			t.Fatalf("success moved backwards %s -> %s", prev, cur)
		}
		prev = cur
		if state.Terminal() {
			break
		}
	}
	if _, ok := h.ctrl.State().(pipeline.Registered); !ok {
		t.Fatalf("final state = %T", h.ctrl.State())
	}
	for _, stage := range []pipeline.Stage{pipeline.StageSelected, pipeline.StageChecked, pipeline.StageEmbedded, pipeline.StageStored} {
		if !failures[stage] {
			t.Fatalf("no failure exercised at %s", stage)
		}
	}
}
