package reports

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"sheltercore/internal/blob"
)

// BlobObjectStore adapts a blob.Store to the exporter's ObjectStore
// interface so report artifacts land in whichever blob backend the
// deployment configured.
type BlobObjectStore struct {
	store  blob.Store
	prefix string
}

// NewBlobObjectStore wraps store; keys are placed under prefix.
func NewBlobObjectStore(store blob.Store, prefix string) *BlobObjectStore {
	if prefix == "" {
		prefix = "reports/"
	}
	return &BlobObjectStore{store: store, prefix: prefix}
}

func (b *BlobObjectStore) key(id string) string { return b.prefix + id }

func (b *BlobObjectStore) Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]any) (ExportArtifact, error) {
	info, err := b.store.Put(ctx, b.key(key), bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata:    flattenMetadata(metadata),
	})
	if err != nil {
		return ExportArtifact{}, err
	}
	url := info.URL
	if url == "" {
		if signed, err := b.store.PresignURL(ctx, info.Key, blob.SignedURLOptions{}); err == nil {
			url = signed
		}
	}
	return ExportArtifact{
		ID:          key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		Metadata:    cloneMap(metadata),
		CreatedAt:   info.LastModified,
		URL:         url,
	}, nil
}

func (b *BlobObjectStore) Get(ctx context.Context, key string) (ExportArtifact, []byte, error) {
	info, rc, err := b.store.Get(ctx, b.key(key))
	if err != nil {
		return ExportArtifact{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return ExportArtifact{}, nil, err
	}
	return b.artifactFromInfo(key, info), payload, nil
}

func (b *BlobObjectStore) Delete(ctx context.Context, key string) (bool, error) {
	return b.store.Delete(ctx, b.key(key))
}

func (b *BlobObjectStore) List(ctx context.Context, prefix string) ([]ExportArtifact, error) {
	infos, err := b.store.List(ctx, b.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]ExportArtifact, 0, len(infos))
	for _, info := range infos {
		key := info.Key
		if len(key) >= len(b.prefix) {
			key = key[len(b.prefix):]
		}
		out = append(out, b.artifactFromInfo(key, info))
	}
	return out, nil
}

func (b *BlobObjectStore) artifactFromInfo(key string, info blob.Info) ExportArtifact {
	return ExportArtifact{
		ID:          key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		Metadata:    widenMetadata(info.Metadata),
		CreatedAt:   info.LastModified,
		URL:         info.URL,
	}
}

func flattenMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func widenMetadata(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
