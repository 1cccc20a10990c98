package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/zipstage/internal/archive"
)

// chunkJob is everything a chunk task reads. All of it is shared read-only.
type chunkJob struct {
	archive *archive.Archive
	index   ExistingIndex
	first   []bool // first[i] is true when entry i is the first with its name
	prefix  string
	// view opens a private read handle. Nil means archive.View.
	view func() (*archive.View, error)
}

func (j chunkJob) openView() (*archive.View, error) {
	if j.view != nil {
		return j.view()
	}
	return j.archive.View()
}

// runChunks extracts every chunk on at most p.Workers goroutines and returns one
// result per chunk, in plan order. Submission stops early when ctx is cancelled;
// chunks never submitted keep a zero result and their entries count as pending.
// Writes already started are not cancelled.
func (p *Pipeline) runChunks(ctx context.Context, job chunkJob, chunks []ChunkBounds, onChunk func(done int)) ([]ChunkResult, bool) {
	results := make([]ChunkResult, len(chunks))
	writeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.workers())

	cancelled := false
	for i, c := range chunks {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			results[i] = p.extractChunk(writeCtx, job, c)
			if onChunk != nil {
				onChunk(c.Len())
			}
			return nil
		})
	}
	// Tasks contain their own failures, so Wait only drains.
	_ = g.Wait()
	return results, cancelled
}

// extractChunk writes each entry of c that is not in the index, through a view
// private to this task. The view is opened on the first write only.
func (p *Pipeline) extractChunk(ctx context.Context, job chunkJob, c ChunkBounds) ChunkResult {
	var res ChunkResult
	entries := job.archive.Entries()

	var (
		view    *archive.View
		viewErr error
	)
	for i := c.Start; i < c.End; i++ {
		e := entries[i]
		if err := e.Validate(); err != nil {
			res.Errors = append(res.Errors, EntryError{Index: i, Name: e.Name, Err: err})
			continue
		}
		if job.index.Has(e.Name) {
			res.Skipped++
			continue
		}
		if !job.first[i] {
			res.Deferred = append(res.Deferred, i)
			continue
		}
		if view == nil && viewErr == nil {
			view, viewErr = job.openView()
		}
		if viewErr != nil {
			res.Errors = append(res.Errors, EntryError{Index: i, Name: e.Name, Err: viewErr})
			continue
		}
		if err := p.writeEntry(ctx, view, job.prefix, e); err != nil {
			res.Errors = append(res.Errors, EntryError{Index: i, Name: e.Name, Err: err})
			continue
		}
		res.Extracted++
	}
	return res
}

func (p *Pipeline) writeEntry(ctx context.Context, view *archive.View, prefix string, e archive.Entry) error {
	data, err := view.Read(e.Index)
	if err != nil {
		return err
	}
	key := prefix + e.Name
	if err := p.Store.Put(ctx, p.Bucket, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// firstOccurrences marks, for each entry, whether no earlier entry shares its name.
// Entries with unusable names are never written, so they take no part.
func firstOccurrences(entries []archive.Entry) ([]bool, int) {
	first := make([]bool, len(entries))
	seen := make(map[string]struct{}, len(entries))
	dups := 0
	for i, e := range entries {
		if e.Validate() != nil {
			continue
		}
		if _, ok := seen[e.Name]; ok {
			dups++
			continue
		}
		seen[e.Name] = struct{}{}
		first[i] = true
	}
	return first, dups
}
