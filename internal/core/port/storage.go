package port

import (
	"context"
	"io"
	"time"
)

// ObjectStorage stores image bytes under a name and resolves stored names to
// retrievable URLs.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// URLCache memoizes presigned URLs so repeated profile reads do not re-sign
// every object key.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, url string, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}
