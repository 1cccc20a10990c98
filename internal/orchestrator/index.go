package orchestrator

import (
	"context"

	"github.com/brensch/zipstage/internal/storage"
)

// ExistingIndex is the set of entry names already present under a destination prefix.
// It is a snapshot: it is built once per archive and never refreshed.
type ExistingIndex map[string]struct{}

// Has reports whether name was present when the snapshot was taken.
func (idx ExistingIndex) Has(name string) bool {
	_, ok := idx[name]
	return ok
}

// BuildExistingIndex lists everything under prefix and keeps each key's trailing name.
func BuildExistingIndex(ctx context.Context, store storage.Store, bucket, prefix string) (ExistingIndex, error) {
	idx := make(ExistingIndex)
	err := storage.Walk(ctx, store, bucket, prefix, func(obj storage.Object) error {
		idx[obj.Name()] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}
