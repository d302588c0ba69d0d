package embedding_test

import (
	"context"
	"errors"
	"testing"

	"ledgermark/internal/embedding"
	"ledgermark/internal/pipeline"
	"ledgermark/internal/services"
	"ledgermark/internal/services/transform"
)

type fakeEmbed struct {
	result transform.EmbedResult
	err    error
}

func (f fakeEmbed) Embed(context.Context, []byte, string) (transform.EmbedResult, error) {
	return f.result, f.err
}

func (f fakeEmbed) Ping(context.Context) error { return nil }

var content = pipeline.ContentItem{Data: []byte("img"), Filename: "a.png", Fingerprint: "orig"}

func TestEmbedScalesStrength(t *testing.T) {
	svc := fakeEmbed{result: transform.EmbedResult{
		ImageHash: "post",
		InputHash: "orig",
		Delta:     7.75,
		BER:       0.0125,
		Artifact:  []byte("transformed"),
		MediaType: "image/png",
	}}
	res, err := embedding.NewEmbedder(svc, 100000, nil).Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Strength != 775000 {
		t.Fatalf("strength = %d, want 775000", res.Strength)
	}
	if res.Fingerprint != "post" || res.InputFingerprint != "orig" || res.BER != 0.0125 {
		t.Fatalf("result = %+v", res)
	}
	if string(res.Artifact) != "transformed" || res.MediaType != "image/png" {
		t.Fatalf("artifact = %q %q", res.Artifact, res.MediaType)
	}
}

func TestEmbedDefaultScale(t *testing.T) {
	svc := fakeEmbed{result: transform.EmbedResult{ImageHash: "post", Delta: 0.5, Artifact: []byte("x")}}
	res, err := embedding.NewEmbedder(svc, 0, nil).Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Strength != 50000 {
		t.Fatalf("strength = %d", res.Strength)
	}
	if res.InputFingerprint != "orig" {
		t.Fatalf("input fingerprint should fall back to local digest, got %q", res.InputFingerprint)
	}
}

func TestEmbedRejectsUnchangedFingerprint(t *testing.T) {
	svc := fakeEmbed{result: transform.EmbedResult{ImageHash: "orig", InputHash: "orig", Delta: 7.75, Artifact: []byte("x")}}
	_, err := embedding.NewEmbedder(svc, 100000, nil).Embed(context.Background(), content)
	if !errors.Is(err, services.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestEmbedRejectsNegativeStrength(t *testing.T) {
	svc := fakeEmbed{result: transform.EmbedResult{ImageHash: "post", Delta: -1, Artifact: []byte("x")}}
	if _, err := embedding.NewEmbedder(svc, 100000, nil).Embed(context.Background(), content); !errors.Is(err, services.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
}

func TestEmbedSurfacesServiceReason(t *testing.T) {
	svc := fakeEmbed{err: &services.ServiceError{Service: "transform embed", StatusCode: 409, Message: "image already watermarked (BER 0.0100)"}}
	_, err := embedding.NewEmbedder(svc, 100000, nil).Embed(context.Background(), content)
	if !errors.Is(err, services.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	details := services.Details(err)
	if details.Stage != "embed" || details.Message == "" {
		t.Fatalf("details = %+v", details)
	}
	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 409 {
		t.Fatalf("expected wrapped service error, got %v", err)
	}
}
