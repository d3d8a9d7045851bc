package fs_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"sheltercore/internal/blob/core"
	"sheltercore/internal/infra/blob/fs"
)

func TestPutGetHeadListDelete(t *testing.T) {
	store, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	info, err := store.Put(ctx, "reports/a.json", bytes.NewReader([]byte(`{}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"rows": "0"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ETag == "" {
		t.Fatalf("unexpected info: %+v", info)
	}

	if _, err := store.Put(ctx, "reports/a.json", bytes.NewReader([]byte(`{}`)), core.PutOptions{}); err == nil {
		t.Fatalf("expected error on duplicate put")
	}

	head, err := store.Head(ctx, "reports/a.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ContentType != "application/json" || head.Metadata["rows"] != "0" {
		t.Fatalf("metadata lost: %+v", head)
	}

	got, rc, err := store.Get(ctx, "reports/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(payload) != "{}" {
		t.Fatalf("payload mismatch (%v): %s", err, string(payload))
	}
	if got.ETag != info.ETag {
		t.Fatalf("etag changed: %s vs %s", got.ETag, info.ETag)
	}

	infos, err := store.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].Key != "reports/a.json" {
		t.Fatalf("unexpected listing: %+v", infos)
	}

	existed, err := store.Delete(ctx, "reports/a.json")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "reports/a.json")
	if err != nil || existed {
		t.Fatalf("second delete should be a no-op: existed=%v err=%v", existed, err)
	}
}

func TestKeySanitization(t *testing.T) {
	store, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "/absolute"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestPresignURLOnlySupportsGet(t *testing.T) {
	store, err := fs.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for PUT presign, got %v", err)
	}
	url, err := store.PresignURL(ctx, "k", core.SignedURLOptions{})
	if err != nil || url == "" {
		t.Fatalf("expected local url, got %q err %v", url, err)
	}
}
