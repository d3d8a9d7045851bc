package memory_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"sheltercore/internal/blob/core"
	"sheltercore/internal/infra/blob/memory"
)

func TestMemoryStoreIsolation(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	md := map[string]string{"origin": "test"}
	if _, err := store.Put(ctx, "k1", bytes.NewReader([]byte("payload")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// mutating the caller's map must not affect stored metadata
	md["origin"] = "changed"

	info, rc, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" {
		t.Fatalf("payload mismatch: %s", string(data))
	}
	if info.Metadata["origin"] != "test" {
		t.Fatalf("stored metadata aliased caller map: %+v", info.Metadata)
	}

	if _, err := store.Put(ctx, "k1", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key rejection")
	}
	if _, err := store.PresignURL(ctx, "k1", core.SignedURLOptions{}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestMemoryStoreListPrefix(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for _, key := range []string{"a/1", "a/2", "b/1"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/1" || infos[1].Key != "a/2" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}
