package testsupport

import (
	"context"
	"testing"

	"ledgermark/internal/config"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/sessions"
)

// MustOpenStore opens a sessions.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sessions.Store {
	t.Helper()

	store, err := sessions.Open(cfg)
	if err != nil {
		t.Fatalf("sessions.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates a Selected session for data named filename.
func NewSession(t testing.TB, store *sessions.Store, filename string, data []byte) *sessions.Session {
	t.Helper()

	ctrl := pipeline.New(pipeline.Stages{})
	if err := ctrl.Select(pipeline.ContentItem{Data: data, Filename: filename, MediaType: "image/png"}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	sess, err := store.Create(context.Background(), ctrl.Snapshot())
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return sess
}
