package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeCatalog struct {
	ids []string
	err error
}

func (f fakeCatalog) ListModels(context.Context) ([]string, error) { return f.ids, f.err }

func TestCheckModel(t *testing.T) {
	ctx := context.Background()
	if err := CheckModel(ctx, fakeCatalog{ids: []string{"a/b", "google/gemini-2.5-flash"}}, "google/gemini-2.5-flash"); err != nil {
		t.Fatalf("expected listed model to pass, got %v", err)
	}
	if err := CheckModel(ctx, fakeCatalog{ids: []string{"a/b"}}, "missing/model"); !IsFatal(err) {
		t.Fatalf("expected fatal error for unlisted model, got %v", err)
	}
	if err := CheckModel(ctx, fakeCatalog{err: errors.New("offline")}, "x"); err != nil {
		t.Fatalf("expected unreachable catalogue to be skipped, got %v", err)
	}
}
