package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/storage"
)

// Object writes the summary as a JSON document into the object store under
// <prefix>/<YYYY>/<MM>/extract_report_<timestamp>.json.
type Object struct {
	Store  storage.Store
	Bucket string
	Prefix string
}

func (o *Object) Name() string { return "object" }

// Key returns the object key the summary of a run started at t is written to.
func (o *Object) Key(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/extract_report_%s.json",
		strings.TrimSuffix(o.Prefix, "/"), t.Year(), int(t.Month()), t.Format("20060102T150405Z"))
}

func (o *Object) Emit(ctx context.Context, s orchestrator.BatchSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	key := o.Key(s.StartedAt)
	if err := o.Store.Put(ctx, o.Bucket, key, data); err != nil {
		return fmt.Errorf("put report %s: %w", key, err)
	}
	return nil
}
