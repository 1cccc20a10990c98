package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLocalPageSize is the listing page size of a Local store when none is set.
const DefaultLocalPageSize = 1000

// Local is a Store over a directory tree: <root>/<bucket>/<key>.
// Puts write a temporary file and rename it so readers never see partial objects.
type Local struct {
	Root     string
	PageSize int
}

// NewLocal returns a filesystem store rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root, PageSize: DefaultLocalPageSize}
}

func (l *Local) bucketDir(bucket string) string {
	return filepath.Join(l.Root, filepath.FromSlash(bucket))
}

// objectPath maps key to a file under the bucket directory. Keys that are not
// already clean, relative slash paths are rejected so no key resolves outside
// its own prefix.
func (l *Local) objectPath(bucket, key string) (string, error) {
	if !fs.ValidPath(key) || key == "." || path.Clean(key) != key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.bucketDir(bucket), filepath.FromSlash(key)), nil
}

func (l *Local) ListPage(ctx context.Context, bucket, prefix, token string) (Page, error) {
	base := l.bucketDir(bucket)
	start := base
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = filepath.Join(base, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".zipstage-tmp-") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key > token {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return Page{}, classifyOSError("list", bucket, prefix, err)
	}
	sort.Strings(keys)

	size := l.PageSize
	if size <= 0 {
		size = DefaultLocalPageSize
	}
	var page Page
	if len(keys) > size {
		keys = keys[:size]
		page.NextToken = keys[size-1]
	}
	for _, key := range keys {
		info, err := os.Stat(filepath.Join(base, filepath.FromSlash(key)))
		if err != nil {
			return Page{}, classifyOSError("stat", bucket, key, err)
		}
		page.Objects = append(page.Objects, Object{Key: key, LastModified: info.ModTime().UTC(), Size: info.Size()})
	}
	return page, nil
}

func (l *Local) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.objectPath(bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w: %w", bucket, key, ErrNotFound, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, classifyOSError("get", bucket, key, err)
	}
	return data, nil
}

func (l *Local) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.objectPath(bucket, key)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return classifyOSError("put", bucket, key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".zipstage-tmp-*")
	if err != nil {
		return classifyOSError("put", bucket, key, err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmpName)
		return classifyOSError("put", bucket, key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return classifyOSError("put", bucket, key, err)
	}
	return nil
}

func classifyOSError(op, bucket, key string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrTransientIO, err)
	}
}
