package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipstage/internal/archive"
	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/storage"
)

const testBucket = "raw-data-bronze"

type zipEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func entriesNamed(names ...string) []zipEntry {
	out := make([]zipEntry, len(names))
	for i, n := range names {
		out[i] = zipEntry{name: "nested/" + n, body: "content of " + n}
	}
	return out
}

func destination(logicalType string) string {
	return "logs/extracted/2024/01/" + logicalType + "/"
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(store storage.Store, chunkSize, workers int) *Pipeline {
	return &Pipeline{
		Store:       store,
		Bucket:      testBucket,
		ChunkSize:   chunkSize,
		Workers:     workers,
		Destination: destination,
		Logger:      quietLogger(),
	}
}

func putArchive(t *testing.T, m *storage.Memory, key string, payload []byte) {
	t.Helper()
	require.NoError(t, m.Put(context.Background(), testBucket, key, payload))
}

type captureRecorder struct {
	mu     sync.Mutex
	events []db.ArchiveEvent
}

func (c *captureRecorder) Record(_ context.Context, ev db.ArchiveEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) kinds(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if ev.ArchiveKey == key {
			out = append(out, ev.Event)
		}
	}
	return out
}

type captureReporter struct {
	calls     int
	summaries []BatchSummary
}

func (c *captureReporter) Emit(_ context.Context, s BatchSummary) error {
	c.calls++
	c.summaries = append(c.summaries, s)
	return nil
}

type captureObserver struct {
	results []ArchiveResult
}

func (c *captureObserver) ObserveArchive(r ArchiveResult) {
	c.results = append(c.results, r)
}

func assertBalanced(t *testing.T, r ArchiveResult) {
	t.Helper()
	assert.Equal(t, r.TotalEntries, r.ExtractedCount+r.SkippedCount+r.ErrorCount+r.PendingCount, "counts must balance for %s", r.ArchiveKey)
	if !r.Cancelled {
		assert.Zero(t, r.PendingCount, "only a cancelled archive leaves entries pending")
	}
}

func TestPlanChunks_Scenario(t *testing.T) {
	t.Parallel()

	chunks := PlanChunks(3, 2)
	assert.Equal(t, []ChunkBounds{{Start: 0, End: 2}, {Start: 2, End: 3}}, chunks)
}

func TestPlanChunks_PartitionProperty(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 40; n++ {
		for size := 1; size <= 12; size++ {
			chunks := PlanChunks(n, size)
			next := 0
			for _, c := range chunks {
				assert.Equal(t, next, c.Start, "n=%d size=%d", n, size)
				assert.Greater(t, c.Len(), 0)
				assert.LessOrEqual(t, c.Len(), size)
				next = c.End
			}
			assert.Equal(t, n, next, "n=%d size=%d", n, size)
			if n == 0 {
				assert.Empty(t, chunks)
			}
		}
	}
}

func TestPlanChunks_NonPositiveSizeIsOneChunk(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []ChunkBounds{{Start: 0, End: 5}}, PlanChunks(5, 0))
}

func TestProcessArchive_EmptyIndexExtractsAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	putArchive(t, m, "logs/archives/2024/01/100k/x.zip", buildZip(t, entriesNamed("a", "b", "c")...))

	p := newPipeline(m, 2, 4)
	res := p.ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "logs/archives/2024/01/100k/x.zip", LogicalType: "100k"})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.TotalEntries)
	assert.Equal(t, 3, res.ExtractedCount)
	assert.Equal(t, 0, res.SkippedCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.False(t, res.Cancelled)

	assert.Equal(t, []string{
		"logs/extracted/2024/01/100k/a",
		"logs/extracted/2024/01/100k/b",
		"logs/extracted/2024/01/100k/c",
	}, m.Keys(testBucket, "logs/extracted/"))

	data, err := m.Get(ctx, testBucket, "logs/extracted/2024/01/100k/b")
	require.NoError(t, err)
	assert.Equal(t, "content of b", string(data))
}

func TestProcessArchive_SkipsIndexedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	putArchive(t, m, "in/x.zip", buildZip(t, entriesNamed("a", "b", "c")...))
	require.NoError(t, m.Put(ctx, testBucket, destination("100k")+"a", []byte("old a")))
	require.NoError(t, m.Put(ctx, testBucket, destination("100k")+"b", []byte("old b")))
	putsBefore := m.Puts()

	res := newPipeline(m, 2, 2).ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "in/x.zip", LogicalType: "100k"})

	assert.Equal(t, 3, res.TotalEntries)
	assert.Equal(t, 1, res.ExtractedCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Equal(t, putsBefore+1, m.Puts())

	// Skipped entries are never rewritten.
	data, err := m.Get(ctx, testBucket, destination("100k")+"a")
	require.NoError(t, err)
	assert.Equal(t, "old a", string(data))
}

func TestRunBatch_DownloadFailureIsContained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	putArchive(t, m, "in/x.zip", buildZip(t, entriesNamed("x1", "x2")...))
	putArchive(t, m, "in/y.zip", buildZip(t, entriesNamed("y1")...))
	putArchive(t, m, "in/z.zip", buildZip(t, entriesNamed("z1", "z2", "z3")...))
	m.FailGet = func(_, key string) error {
		if key == "in/y.zip" {
			return fmt.Errorf("get %s: %w", key, storage.ErrTransientIO)
		}
		return nil
	}

	rec := &captureRecorder{}
	rep := &captureReporter{}
	obs := &captureObserver{}
	p := newPipeline(m, 2, 2)
	p.Recorder, p.Reporter, p.Observer = rec, rep, obs

	summary, err := p.RunBatch(ctx, []Source{{LogicalType: "100k", Prefix: "in/"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)

	y := summary.Results[1]
	assert.Equal(t, "in/y.zip", y.ArchiveKey)
	assert.Equal(t, 0, y.TotalEntries)
	assert.Equal(t, 0, y.ExtractedCount)
	require.Error(t, y.Err)
	var acq *AcquisitionError
	require.ErrorAs(t, y.Err, &acq)
	assert.Equal(t, "download", acq.Stage)
	assert.ErrorIs(t, y.Err, storage.ErrTransientIO)
	assert.NotEmpty(t, y.Failure)

	z := summary.Results[2]
	assert.Equal(t, 3, z.ExtractedCount)
	assertBalanced(t, z)

	assert.Equal(t, 3, summary.Totals.Archives)
	assert.Equal(t, 1, summary.Totals.FailedArchives)
	assert.Equal(t, 5, summary.Totals.Extracted)
	assert.Equal(t, 1, rep.calls)
	assert.Len(t, obs.results, 3)
	assert.Contains(t, rec.kinds("in/y.zip"), db.EventError)
	assert.Equal(t, []string{db.EventDownloadStart, db.EventDownloadEnd, db.EventExtractStart, db.EventExtractEnd}, rec.kinds("in/z.zip"))
	assert.NotEmpty(t, summary.RunID)
}

func TestRunBatch_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	putArchive(t, m, "in/100k/a.zip", buildZip(t, entriesNamed("1", "2", "3", "4", "5")...))
	putArchive(t, m, "in/30k/b.zip", buildZip(t, entriesNamed("6", "7")...))
	sources := []Source{{LogicalType: "100k", Prefix: "in/100k/"}, {LogicalType: "30k", Prefix: "in/30k/"}}

	p := newPipeline(m, 2, 3)
	first, err := p.RunBatch(ctx, sources)
	require.NoError(t, err)
	assert.Equal(t, 7, first.Totals.Extracted)
	putsAfterFirst := m.Puts()
	keysAfterFirst := m.Keys(testBucket, "logs/extracted/")

	second, err := p.RunBatch(ctx, sources)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Totals.Extracted)
	assert.Equal(t, 7, second.Totals.Skipped)
	assert.Equal(t, 0, second.Totals.Errors)
	assert.Equal(t, putsAfterFirst, m.Puts())
	assert.Equal(t, keysAfterFirst, m.Keys(testBucket, "logs/extracted/"))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestProcessArchive_DuplicateNamesLastOccurrenceWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	payload := buildZip(t,
		zipEntry{"one/a.log", "first a"},
		zipEntry{"b.log", "b"},
		zipEntry{"two/a.log", "second a"},
		zipEntry{"c.log", "c"},
		zipEntry{"three/a.log", "third a"},
	)
	putArchive(t, m, "in/dup.zip", payload)

	for _, workers := range []int{1, 4} {
		for _, size := range []int{1, 2, 10} {
			dest := storage.NewMemory()
			putArchive(t, dest, "in/dup.zip", payload)
			res := newPipeline(dest, size, workers).ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "in/dup.zip", LogicalType: "30k"})

			assert.Equal(t, 5, res.TotalEntries)
			assert.Equal(t, 5, res.ExtractedCount, "every occurrence counts as extracted")
			assert.Equal(t, 0, res.ErrorCount)
			assert.Equal(t, 2, res.DuplicateCount)
			assertBalanced(t, res)

			data, err := dest.Get(ctx, testBucket, destination("30k")+"a.log")
			require.NoError(t, err)
			assert.Equal(t, "third a", string(data), "workers=%d size=%d", workers, size)
			assert.Len(t, dest.Keys(testBucket, destination("30k")), 3)
		}
	}
}

func TestProcessArchive_OrderIndependentKeySet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	names := make([]string, 0, 37)
	for i := range 37 {
		names = append(names, fmt.Sprintf("file-%02d.txt", i))
	}
	payload := buildZip(t, entriesNamed(names...)...)

	var reference []string
	for _, cfg := range [][2]int{{1, 1}, {3, 2}, {5, 8}, {100, 16}} {
		m := storage.NewMemory()
		putArchive(t, m, "in/x.zip", payload)
		res := newPipeline(m, cfg[0], cfg[1]).ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "in/x.zip", LogicalType: "100k"})
		assert.Equal(t, 37, res.ExtractedCount)

		keys := m.Keys(testBucket, destination("100k"))
		if reference == nil {
			reference = keys
			continue
		}
		assert.Equal(t, reference, keys, "chunk=%d workers=%d", cfg[0], cfg[1])
	}
	require.Len(t, reference, 37)
}

func TestProcessArchive_EntryWriteFailureIsContained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory()
	putArchive(t, m, "in/x.zip", buildZip(t, entriesNamed("a", "b", "c", "d")...))
	m.FailPut = func(_, key string) error {
		if strings.HasSuffix(key, "/c") {
			return fmt.Errorf("put %s: %w", key, storage.ErrPermissionDenied)
		}
		return nil
	}

	res := newPipeline(m, 3, 2).ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "in/x.zip", LogicalType: "100k"})

	assert.NoError(t, res.Err)
	assert.Equal(t, 4, res.TotalEntries)
	assert.Equal(t, 3, res.ExtractedCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, 0, res.SkippedCount)
	require.Len(t, res.EntryErrors, 1)
	assert.Equal(t, "c", res.EntryErrors[0].Name)
	assert.Equal(t, 2, res.EntryErrors[0].Index)
	assert.ErrorIs(t, res.EntryErrors[0].Err, storage.ErrPermissionDenied)
}

func TestProcessArchive_UnusableEntryNamesAreEntryErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := storage.NewLocal(t.TempDir())
	payload := buildZip(t,
		zipEntry{name: "a/..", body: "up"},
		zipEntry{name: "b", body: "bravo"},
		zipEntry{name: "..", body: "up"},
		zipEntry{name: "nested/c", body: "charlie"},
	)
	require.NoError(t, l.Put(ctx, testBucket, "in/x.zip", payload))
	desc := ArchiveDescriptor{Key: "in/x.zip", LogicalType: "100k"}
	p := newPipeline(l, 1, 2)

	res := p.ProcessArchive(ctx, "run", desc)

	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.TotalEntries)
	assert.Equal(t, 2, res.ExtractedCount)
	assert.Equal(t, 2, res.ErrorCount)
	assert.Zero(t, res.DuplicateCount)
	assertBalanced(t, res)
	for _, e := range res.EntryErrors {
		assert.ErrorIs(t, e.Err, archive.ErrInvalidEntryName)
	}

	var keys []string
	require.NoError(t, storage.Walk(ctx, l, testBucket, "logs/", func(o storage.Object) error {
		keys = append(keys, o.Key)
		return nil
	}))
	assert.Equal(t, []string{destination("100k") + "b", destination("100k") + "c"}, keys)

	// The month directory is intact, so a second archive of another type still lands.
	require.NoError(t, l.Put(ctx, testBucket, "in/y.zip", buildZip(t, entriesNamed("d")...)))
	other := p.ProcessArchive(ctx, "run", ArchiveDescriptor{Key: "in/y.zip", LogicalType: "30k"})
	assert.Equal(t, 1, other.ExtractedCount)
	assert.Zero(t, other.ErrorCount)

	again := p.ProcessArchive(ctx, "run2", desc)
	assert.Zero(t, again.ExtractedCount)
	assert.Equal(t, 2, again.SkippedCount)
	assert.Equal(t, 2, again.ErrorCount)
	assertBalanced(t, again)
}

func TestExtractChunk_OpensViewOnlyForWrites(t *testing.T) {
	t.Parallel()

	arc, err := archive.Open("x.zip", buildZip(t, entriesNamed("a", "b", "c")...))
	require.NoError(t, err)
	first, _ := firstOccurrences(arc.Entries())

	opened := 0
	job := chunkJob{
		archive: arc,
		index:   ExistingIndex{"a": {}, "b": {}, "c": {}},
		first:   first,
		prefix:  destination("100k"),
		view: func() (*archive.View, error) {
			opened++
			return arc.View()
		},
	}
	m := storage.NewMemory()
	p := newPipeline(m, 3, 1)

	res := p.extractChunk(context.Background(), job, ChunkBounds{Start: 0, End: 3})
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, opened)
	assert.Zero(t, m.Puts())

	job.index = ExistingIndex{"a": {}}
	res = p.extractChunk(context.Background(), job, ChunkBounds{Start: 0, End: 3})
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Extracted)
	assert.Equal(t, 1, opened)
}

func TestProcessArchive_InvalidContainerIsAcquisitionFailure(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	putArchive(t, m, "in/broken.zip", []byte("definitely not a zip"))
	rec := &captureRecorder{}
	p := newPipeline(m, 2, 2)
	p.Recorder = rec

	res := p.ProcessArchive(context.Background(), "run", ArchiveDescriptor{Key: "in/broken.zip", LogicalType: "100k"})

	var acq *AcquisitionError
	require.ErrorAs(t, res.Err, &acq)
	assert.Equal(t, "open", acq.Stage)
	assert.Equal(t, 0, res.TotalEntries)
	assert.Equal(t, int64(0), res.Bytes)
	assert.Contains(t, rec.kinds("in/broken.zip"), db.EventError)
}

func TestProcessArchive_IndexFailureIsAcquisitionFailure(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	putArchive(t, m, "in/x.zip", buildZip(t, entriesNamed("a")...))
	m.FailList = func(_, prefix string) error {
		if strings.HasPrefix(prefix, "logs/extracted/") {
			return storage.ErrTransientIO
		}
		return nil
	}

	res := newPipeline(m, 2, 2).ProcessArchive(context.Background(), "run", ArchiveDescriptor{Key: "in/x.zip", LogicalType: "100k"})

	var acq *AcquisitionError
	require.ErrorAs(t, res.Err, &acq)
	assert.Equal(t, "index", acq.Stage)
	assert.Empty(t, m.Keys(testBucket, "logs/extracted/"))
}

func TestProcessArchive_EmptyArchive(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	putArchive(t, m, "in/empty.zip", buildZip(t))

	res := newPipeline(m, 2, 2).ProcessArchive(context.Background(), "run", ArchiveDescriptor{Key: "in/empty.zip", LogicalType: "100k"})

	assert.NoError(t, res.Err)
	assert.Equal(t, 0, res.TotalEntries)
	assert.Equal(t, 0, res.ExtractedCount)
	assertBalanced(t, res)
}

func TestRunBatch_CatalogFailureAbortsRun(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	putArchive(t, m, "in/x.zip", buildZip(t, entriesNamed("a")...))
	m.FailList = func(_, prefix string) error {
		if prefix == "missing/" {
			return storage.ErrPermissionDenied
		}
		return nil
	}
	rep := &captureReporter{}
	p := newPipeline(m, 2, 2)
	p.Reporter = rep

	summary, err := p.RunBatch(context.Background(), []Source{{LogicalType: "100k", Prefix: "in/"}, {LogicalType: "30k", Prefix: "missing/"}})

	var catErr *CatalogError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "missing/", catErr.Prefix)
	assert.ErrorIs(t, err, storage.ErrPermissionDenied)
	assert.Empty(t, summary.Results)
	assert.Equal(t, 0, rep.calls)
	assert.Empty(t, m.Keys(testBucket, "logs/extracted/"))
}

func TestListCatalog_FiltersSuffixesAndKeepsDuplicates(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	m.PageSize = 1
	putArchive(t, m, "in/a.zip", nil)
	putArchive(t, m, "in/b.tar.gz", nil)
	putArchive(t, m, "in/readme.txt", nil)

	catalog, err := ListCatalog(context.Background(), m, testBucket,
		[]Source{{LogicalType: "100k", Prefix: "in/"}, {LogicalType: "30k", Prefix: "in/a"}}, quietLogger())
	require.NoError(t, err)

	got := make([]string, len(catalog))
	for i, d := range catalog {
		got[i] = d.LogicalType + ":" + d.Key
	}
	assert.Equal(t, []string{"100k:in/a.zip", "100k:in/b.tar.gz", "30k:in/a.zip"}, got)
}

func TestRunBatch_CancelBetweenArchives(t *testing.T) {
	t.Parallel()

	m := storage.NewMemory()
	putArchive(t, m, "in/1.zip", buildZip(t, entriesNamed("a", "b")...))
	putArchive(t, m, "in/2.zip", buildZip(t, entriesNamed("c")...))
	putArchive(t, m, "in/3.zip", buildZip(t, entriesNamed("d")...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := &captureReporter{}
	p := newPipeline(m, 1, 1)
	p.Reporter = rep
	p.OnProgress = func(ev Progress) {
		if ev.Stage == StageComplete && ev.ArchiveKey == "in/1.zip" {
			cancel()
		}
	}

	summary, err := p.RunBatch(ctx, []Source{{LogicalType: "100k", Prefix: "in/"}})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Cancelled)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 2, summary.Results[0].ExtractedCount)
	assert.Equal(t, 1, rep.calls, "summary is still emitted")

	keys := m.Keys(testBucket, destination("100k"))
	sort.Strings(keys)
	assert.Equal(t, []string{destination("100k") + "a", destination("100k") + "b"}, keys)
}

func TestRunBatch_CancelDuringChunkSubmission(t *testing.T) {
	t.Parallel()

	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("e%02d", i)
	}
	m := storage.NewMemory()
	putArchive(t, m, "in/big.zip", buildZip(t, entriesNamed(names...)...))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	m.FailPut = func(string, string) error {
		once.Do(cancel)
		return nil
	}

	p := newPipeline(m, 1, 1)
	summary, err := p.RunBatch(ctx, []Source{{LogicalType: "100k", Prefix: "in/"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Results, 1)

	res := summary.Results[0]
	assert.True(t, res.Cancelled)
	assert.Equal(t, 20, res.TotalEntries)
	assert.Less(t, res.ExtractedCount, 20)
	assert.GreaterOrEqual(t, res.ExtractedCount, 1, "the in-flight write completes")
	assert.Zero(t, res.SkippedCount, "nothing was present at the destination")
	assert.Zero(t, res.ErrorCount)
	assert.Equal(t, 20-res.ExtractedCount, res.PendingCount)
	assert.Equal(t, res.PendingCount, summary.Totals.Pending)
	assertBalanced(t, res)
}

func TestTotals_Add(t *testing.T) {
	t.Parallel()

	var tot Totals
	tot.Add(ArchiveResult{TotalEntries: 3, ExtractedCount: 1, SkippedCount: 2, Bytes: 10})
	tot.Add(ArchiveResult{Err: errors.New("boom")})
	tot.Add(ArchiveResult{TotalEntries: 4, ExtractedCount: 1, PendingCount: 3, Cancelled: true})
	assert.Equal(t, Totals{Archives: 3, FailedArchives: 1, TotalEntries: 7, Extracted: 2, Skipped: 2, Pending: 3, Bytes: 10}, tot)
}
