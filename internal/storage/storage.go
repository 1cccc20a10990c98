// Package storage provides the object-store contract the pipeline runs against,
// together with the backends that implement it (S3, local filesystem, HTTP
// directory index and an in-memory store).
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"
)

// Failure classes every backend maps its errors onto. Backends join one of
// these with the underlying cause, so callers test with errors.Is.
var (
	ErrNotFound         = errors.New("object not found")
	ErrTransientIO      = errors.New("transient storage i/o failure")
	ErrPermissionDenied = errors.New("storage permission denied")
)

// Object describes one stored object as returned by a listing.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Name returns the trailing path component of the key.
func (o Object) Name() string {
	return path.Base(o.Key)
}

// Page is one page of a listing. An empty NextToken means the listing is drained.
type Page struct {
	Objects   []Object
	NextToken string
}

// Store is the list/get/put contract against a remote blob namespace.
// Namespaces are called buckets throughout.
type Store interface {
	// ListPage returns one page of objects under prefix, starting after token.
	ListPage(ctx context.Context, bucket, prefix, token string) (Page, error)

	// Get returns the full content of the object.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// Walk drains every page of a listing, calling fn for each object in listing order.
// The first error from the store or from fn stops the walk.
func Walk(ctx context.Context, s Store, bucket, prefix string, fn func(Object) error) error {
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.ListPage(ctx, bucket, prefix, token)
		if err != nil {
			return fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Objects {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// Kind reports which failure class err belongs to, or "" if it is not a storage failure.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	default:
		return ""
	}
}
