package reports_test

import (
	"context"
	"testing"

	"sheltercore/internal/adapters/reports"
	"sheltercore/internal/blob"
)

func TestBlobObjectStoreRoundTrip(t *testing.T) {
	store := reports.NewBlobObjectStore(blob.NewMemory(), "exports/")
	ctx := context.Background()

	payload := []byte(`{"rows":[]}`)
	artifact, err := store.Put(ctx, "job-1", payload, "application/json", map[string]any{"rows": 0})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if artifact.ID != "job-1" || artifact.SizeBytes != int64(len(payload)) {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}

	got, data, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: %s", string(data))
	}
	if got.ContentType != "application/json" {
		t.Fatalf("content type lost: %+v", got)
	}

	listed, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != "job-1" {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	if _, err := store.Put(ctx, "job-1", payload, "application/json", nil); err == nil {
		t.Fatalf("expected error overwriting existing artifact")
	}

	existed, err := store.Delete(ctx, "job-1")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
}
