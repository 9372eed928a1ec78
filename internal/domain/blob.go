package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader lists archived objects.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves old attestation records to cold storage.
type Archiver interface {
	ArchiveAttestations(ctx context.Context, before time.Time) (int64, error)
}
