// Package uploader stages local archives and side files into the object store
// ahead of an extraction batch. Every failure is contained: it is logged,
// recorded and counted, and the remaining files are still attempted.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brensch/zipstage/internal/archive"
	"github.com/brensch/zipstage/internal/db"
	"github.com/brensch/zipstage/internal/orchestrator"
	"github.com/brensch/zipstage/internal/storage"
)

// Target maps a local directory of archives to the remote prefix of a logical type.
type Target struct {
	LogicalType string
	LocalDir    string
	Prefix      string
}

// File is a single local file and the key it is stored under.
type File struct {
	LocalPath string
	Key       string
}

// Result counts what one staging pass did.
type Result struct {
	Uploaded int
	Failed   int
	Missing  int // missing directories or files
	Bytes    int64
}

func (r *Result) add(o Result) {
	r.Uploaded += o.Uploaded
	r.Failed += o.Failed
	r.Missing += o.Missing
	r.Bytes += o.Bytes
}

// Uploader pushes local files into Store sequentially.
type Uploader struct {
	Store    storage.Store
	Bucket   string
	Recorder orchestrator.Recorder
	Logger   *slog.Logger
}

func (u *Uploader) record(ctx context.Context, logicalType, path, event, msg string, d *time.Duration) {
	if u.Recorder == nil {
		return
	}
	u.Recorder.Record(ctx, db.ArchiveEvent{ArchiveKey: path, LogicalType: logicalType, Event: event, Message: msg, Duration: d})
}

// ArchiveKey is the remote key a local archive file is staged under.
func ArchiveKey(prefix, path string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + filepath.Base(path)
}

// LocalArchives lists the archive files directly inside dir, sorted by name.
func LocalArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !archive.HasArchiveSuffix(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// UploadArchives stages every local archive of each target. A target whose
// directory is missing or empty is a warning.
func (u *Uploader) UploadArchives(ctx context.Context, targets []Target) (Result, error) {
	var total Result
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if t.LocalDir == "" {
			continue
		}
		l := u.Logger.With(slog.String("logical_type", t.LogicalType), slog.String("local_dir", t.LocalDir), slog.String("prefix", t.Prefix))
		l.Info("Uploading local archives.")

		paths, err := LocalArchives(t.LocalDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.Warn("Local directory not found, skipping.")
			} else {
				l.Warn("Cannot read local directory, skipping.", "error", err)
			}
			total.Missing++
			continue
		}
		if len(paths) == 0 {
			l.Warn("No archive files found in local directory.")
			continue
		}

		var res Result
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				total.add(res)
				return total, err
			}
			res.add(u.uploadOne(ctx, l, t.LogicalType, p, ArchiveKey(t.Prefix, p)))
		}
		l.Info("Finished uploading local archives.",
			slog.Int("uploaded", res.Uploaded), slog.Int("failed", res.Failed), slog.String("bytes", humanize.Bytes(uint64(res.Bytes))))
		total.add(res)
	}
	return total, nil
}

// UploadFiles stages single files. A missing file is a warning.
func (u *Uploader) UploadFiles(ctx context.Context, files []File) (Result, error) {
	var total Result
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		l := u.Logger.With(slog.String("local_path", f.LocalPath))
		if _, err := os.Stat(f.LocalPath); err != nil {
			l.Warn("File not found, skipping upload.", "error", err)
			total.Missing++
			continue
		}
		total.add(u.uploadOne(ctx, l, "", f.LocalPath, f.Key))
	}
	return total, nil
}

func (u *Uploader) uploadOne(ctx context.Context, l *slog.Logger, logicalType, path, key string) Result {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err == nil {
		err = u.Store.Put(ctx, u.Bucket, key, data)
	}
	d := time.Since(start)
	if err != nil {
		l.Error("Error uploading file.", slog.String("file", filepath.Base(path)), "error", err)
		u.record(ctx, logicalType, path, db.EventUploadError, fmt.Sprintf("upload to %s failed: %v", key, err), &d)
		return Result{Failed: 1}
	}
	l.Info("Uploaded file.", slog.String("file", filepath.Base(path)), slog.String("key", fmt.Sprintf("%s/%s", u.Bucket, key)),
		slog.String("size", humanize.Bytes(uint64(len(data)))))
	u.record(ctx, logicalType, path, db.EventUploadEnd, key, &d)
	return Result{Uploaded: 1, Bytes: int64(len(data))}
}
