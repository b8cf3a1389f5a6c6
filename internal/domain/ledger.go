package domain

import (
	"context"
	"io"
	"time"
)

// Ledger is the external value-transfer capability used by treasury execution
// and fee withdrawal. Transfer moves amount units to destination and reports
// success or failure; the core never retries a failed transfer automatically.
//
// Transfer is the single point where externally controlled code can run
// during an execution; all treasury state is finalized before it is called.
type Ledger interface {
	Transfer(ctx context.Context, destination string, amount int64) error
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
