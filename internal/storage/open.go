package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendS3     = "s3"
	BackendLocal  = "local"
	BackendHTTP   = "http"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	LocalRoot string
	BaseURL   string
	S3        S3Options
}

// Open builds the Store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendS3:
		return NewS3(ctx, opts.S3)
	case BackendLocal:
		if opts.LocalRoot == "" {
			return nil, fmt.Errorf("local backend requires a root directory")
		}
		return NewLocal(opts.LocalRoot), nil
	case BackendHTTP:
		return NewHTTP(opts.BaseURL, nil)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
