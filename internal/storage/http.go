package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/brensch/zipstage/internal/util"
)

// HTTP is a read-only Store over web server directory listings, laid out as
// <base>/<bucket>/<key>. Directories are discovered through their HTML index
// pages and walked recursively. Listings are returned as a single page.
type HTTP struct {
	BaseURL *url.URL
	Client  *http.Client
}

// NewHTTP returns an HTTP store rooted at baseURL.
func NewHTTP(baseURL string, client *http.Client) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = util.DefaultHTTPClient()
	}
	return &HTTP{BaseURL: u, Client: client}, nil
}

func (h *HTTP) bucketURL(bucket string) *url.URL {
	return h.BaseURL.ResolveReference(&url.URL{Path: strings.Trim(bucket, "/") + "/"})
}

func (h *HTTP) ListPage(ctx context.Context, bucket, prefix, token string) (Page, error) {
	root := h.bucketURL(bucket)
	dir := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir = prefix[:i+1]
	}

	var keys []string
	seen := make(map[string]bool)
	var walk func(dir string) error
	walk = func(dir string) error {
		if seen[dir] {
			return nil
		}
		seen[dir] = true
		dirURL := root.ResolveReference(&url.URL{Path: dir})
		body, err := util.Fetch(ctx, h.Client, dirURL.String())
		if err != nil {
			return err
		}
		links, err := util.ParseLinks(bytes.NewReader(body), dirURL)
		if err != nil {
			return err
		}
		for _, link := range links {
			if link.Host != dirURL.Host || !strings.HasPrefix(link.Path, dirURL.Path) || link.Path == dirURL.Path {
				continue
			}
			key := strings.TrimPrefix(link.Path, root.Path)
			if strings.HasSuffix(key, "/") {
				if strings.HasPrefix(key, prefix) || strings.HasPrefix(prefix, key) {
					if err := walk(key); err != nil {
						return err
					}
				}
				continue
			}
			if strings.HasPrefix(key, prefix) && key > token {
				keys = append(keys, key)
			}
		}
		return nil
	}

	if err := walk(dir); err != nil {
		var status *util.StatusError
		// A missing directory is an empty listing, the same as an object store prefix with no keys.
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return Page{}, nil
		}
		return Page{}, classifyHTTPError("list", bucket, prefix, err)
	}

	sort.Strings(keys)
	var page Page
	for i, key := range keys {
		if i > 0 && keys[i-1] == key {
			continue
		}
		page.Objects = append(page.Objects, Object{Key: key})
	}
	return page, nil
}

func (h *HTTP) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	u := h.bucketURL(bucket).ResolveReference(&url.URL{Path: key})
	data, err := util.Fetch(ctx, h.Client, u.String())
	if err != nil {
		return nil, classifyHTTPError("get", bucket, key, err)
	}
	return data, nil
}

// Put always fails: directory listings are a read-only source.
func (h *HTTP) Put(_ context.Context, bucket, key string, _ []byte) error {
	return fmt.Errorf("put %s/%s: %w: http store is read-only", bucket, key, ErrPermissionDenied)
}

func classifyHTTPError(op, bucket, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var status *util.StatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, ErrTransientIO, err)
}
