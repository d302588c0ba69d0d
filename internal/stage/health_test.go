package stage_test

import (
	"context"
	"testing"

	"ledgermark/internal/stage"
)

type staticChecker stage.Health

func (s staticChecker) HealthCheck(context.Context) stage.Health { return stage.Health(s) }

func TestCheckAllSkipsNil(t *testing.T) {
	records := stage.CheckAll(context.Background(),
		staticChecker(stage.Healthy("dedup")),
		nil,
		staticChecker(stage.Unhealthy("register", "no signing session")),
	)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if stage.AllReady(records) {
		t.Fatal("expected not all ready")
	}
	if records[1].Detail != "no signing session" {
		t.Fatalf("detail = %q", records[1].Detail)
	}
	if !stage.AllReady(records[:1]) {
		t.Fatal("expected first record ready")
	}
}
