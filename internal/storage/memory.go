package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMemoryPageSize is the listing page size of a Memory store when none is set.
const DefaultMemoryPageSize = 1000

// Memory is an in-memory Store. It is safe for concurrent use.
// Failures can be injected per operation to exercise error containment.
type Memory struct {
	PageSize int

	// FailGet and FailPut, when set, are consulted before every Get/Put.
	// A non-nil return is returned to the caller instead of performing the call.
	FailGet  func(bucket, key string) error
	FailPut  func(bucket, key string) error
	FailList func(bucket, prefix string) error

	mu      sync.RWMutex
	objects map[string]map[string]memObject
	puts    int
}

type memObject struct {
	data     []byte
	modified time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{PageSize: DefaultMemoryPageSize, objects: make(map[string]map[string]memObject)}
}

func (m *Memory) ListPage(ctx context.Context, bucket, prefix, token string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if m.FailList != nil {
		if err := m.FailList(bucket, prefix); err != nil {
			return Page{}, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0)
	for k := range m.objects[bucket] {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	size := m.PageSize
	if size <= 0 {
		size = DefaultMemoryPageSize
	}
	var page Page
	if len(keys) > size {
		keys = keys[:size]
		page.NextToken = keys[size-1]
	}
	for _, k := range keys {
		obj := m.objects[bucket][k]
		page.Objects = append(page.Objects, Object{Key: k, LastModified: obj.modified, Size: int64(len(obj.data))})
	}
	return page, nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailGet != nil {
		if err := m.FailGet(bucket, key); err != nil {
			return nil, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Memory) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailPut != nil {
		if err := m.FailPut(bucket, key); err != nil {
			return err
		}
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]map[string]memObject)
	}
	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string]memObject)
	}
	m.objects[bucket][key] = memObject{data: stored, modified: time.Now().UTC()}
	m.puts++
	return nil
}

// Keys returns every key in bucket under prefix, sorted.
func (m *Memory) Keys(bucket, prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Puts returns how many successful Put calls the store has served.
func (m *Memory) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
