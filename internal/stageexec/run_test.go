package stageexec_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ledgermark/internal/notifications"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/sessions"
	"ledgermark/internal/stageexec"
	"ledgermark/internal/testsupport"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type stubDedup struct {
	existing *pipeline.LedgerRecord
	err      error
}

func (s stubDedup) Check(_ context.Context, c pipeline.ContentItem) (pipeline.DedupOutcome, error) {
	return pipeline.DedupOutcome{Fingerprint: c.Fingerprint, Existing: s.existing}, s.err
}

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(context.Context, pipeline.ContentItem) (pipeline.EmbeddingResult, error) {
	if s.err != nil {
		return pipeline.EmbeddingResult{}, s.err
	}
	return pipeline.EmbeddingResult{Artifact: []byte("transformed"), MediaType: "image/png", Fingerprint: "post", Strength: 775000}, nil
}

type stubUploader struct{}

func (stubUploader) Upload(context.Context, pipeline.ContentItem, pipeline.EmbeddingResult) (pipeline.StorageReceipt, error) {
	return pipeline.StorageReceipt{CID: "Qm123"}, nil
}

type stubRegistrar struct{}

func (stubRegistrar) Register(_ context.Context, req pipeline.RegistrationRequest) (pipeline.LedgerRecord, error) {
	return pipeline.LedgerRecord{Owner: "0x1111", CID: req.CID, Fingerprint: req.Fingerprint, Strength: req.Strength, TxHash: "0xabc"}, nil
}

func newOptions(t *testing.T) (stageexec.Options, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	return stageexec.Options{
		Store:    testsupport.MustOpenStore(t, testsupport.NewConfig(t)),
		Notifier: notifier,
		Stages: pipeline.Stages{
			Dedup:     stubDedup{},
			Embedder:  stubEmbedder{},
			Uploader:  stubUploader{},
			Registrar: stubRegistrar{},
		},
	}, notifier
}

func create(t *testing.T, opts stageexec.Options) string {
	t.Helper()
	sess, err := stageexec.Create(context.Background(), opts, pipeline.ContentItem{
		Data:      testsupport.PNGBytes(32, 9),
		Filename:  "photo.png",
		MediaType: "image/png",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess.ID
}

func TestAdvancePersistsEachStage(t *testing.T) {
	opts, notifier := newOptions(t)
	id := create(t, opts)
	ctx := context.Background()

	want := []pipeline.Stage{pipeline.StageChecked, pipeline.StageEmbedded, pipeline.StageStored, pipeline.StageRegistered}
	for _, stage := range want {
		sess, err := stageexec.Advance(ctx, opts, id, "")
		if err != nil {
			t.Fatalf("Advance to %s: %v", stage, err)
		}
		if sess.Stage != stage {
			t.Fatalf("stage = %s, want %s", sess.Stage, stage)
		}
		reloaded, err := opts.Store.Get(ctx, id)
		if err != nil || reloaded.Stage != stage {
			t.Fatalf("persisted stage = %v, %v", reloaded, err)
		}
	}
	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventRegistered {
		t.Fatalf("events = %v", notifier.events)
	}
	if _, err := stageexec.Advance(ctx, opts, id, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error after registration, got %v", err)
	}
}

func TestAdvanceRecordsFailure(t *testing.T) {
	opts, notifier := newOptions(t)
	opts.Stages.Embedder = stubEmbedder{err: &services.ServiceError{Service: "transform embed", StatusCode: 422, Message: "unsupported"}}
	id := create(t, opts)
	ctx := context.Background()

	if _, err := stageexec.Advance(ctx, opts, id, ""); err != nil {
		t.Fatalf("dedup: %v", err)
	}
	sess, err := stageexec.Advance(ctx, opts, id, "")
	if !errors.Is(err, services.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	if sess == nil || sess.Stage != pipeline.StageSelected || sess.ErrorKind != "service" {
		t.Fatalf("session = %+v", sess)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventStageFailed {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestAdvanceRejectsSkippedStep(t *testing.T) {
	opts, _ := newOptions(t)
	id := create(t, opts)
	sess, err := stageexec.Advance(context.Background(), opts, id, pipeline.StepUpload)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if sess != nil {
		t.Fatal("rejected request should not return a session")
	}
}

func TestAdvanceBusyWhileLocked(t *testing.T) {
	opts, _ := newOptions(t)
	id := create(t, opts)
	lock, err := opts.Store.Lock(id)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lock.Unlock()
	if _, err := stageexec.Advance(context.Background(), opts, id, ""); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestAlreadyRegisteredNotifies(t *testing.T) {
	opts, notifier := newOptions(t)
	opts.Stages.Dedup = stubDedup{existing: &pipeline.LedgerRecord{Owner: "0x2222", CID: "QmOld"}}
	id := create(t, opts)
	sess, err := stageexec.Advance(context.Background(), opts, id, pipeline.StepDedup)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sess.Variant != "already_registered" || sess.Owner != "0x2222" {
		t.Fatalf("session = %+v", sess)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventAlreadyRegistered {
		t.Fatalf("events = %v", notifier.events)
	}
}

func TestReselectResetsSession(t *testing.T) {
	opts, _ := newOptions(t)
	id := create(t, opts)
	ctx := context.Background()
	if _, err := stageexec.Advance(ctx, opts, id, ""); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	sess, err := stageexec.Reselect(ctx, opts, id, pipeline.ContentItem{Data: testsupport.PNGBytes(32, 10), Filename: "other.png"})
	if err != nil {
		t.Fatalf("Reselect: %v", err)
	}
	if sess.Stage != pipeline.StageSelected || sess.Filename != "other.png" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestRemoveDeletesSession(t *testing.T) {
	opts, _ := newOptions(t)
	id := create(t, opts)
	ctx := context.Background()
	if err := stageexec.Remove(ctx, opts, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := opts.Store.Get(ctx, id); !errors.Is(err, sessions.ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestRemoveBusyWhileLocked(t *testing.T) {
	opts, _ := newOptions(t)
	id := create(t, opts)
	lock, err := opts.Store.Lock(id)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lock.Unlock()
	if err := stageexec.Remove(context.Background(), opts, id); !errors.Is(err, services.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}
