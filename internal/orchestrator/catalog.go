package orchestrator

import (
	"context"
	"log/slog"

	"github.com/brensch/zipstage/internal/archive"
	"github.com/brensch/zipstage/internal/storage"
)

// ListCatalog drains the listing under every source prefix and returns each object
// with an archive suffix, tagged with the source's logical type. Sources are listed
// in the order given and objects keep their listing order. Keys are not deduplicated
// across sources. Any listing failure is returned as a *CatalogError.
func ListCatalog(ctx context.Context, store storage.Store, bucket string, sources []Source, logger *slog.Logger) ([]ArchiveDescriptor, error) {
	logger.Info("Listing archive catalog...", slog.Int("sources", len(sources)))

	var catalog []ArchiveDescriptor
	for _, src := range sources {
		l := logger.With(slog.String("logical_type", src.LogicalType), slog.String("prefix", src.Prefix))
		found := 0
		err := storage.Walk(ctx, store, bucket, src.Prefix, func(obj storage.Object) error {
			if !archive.HasArchiveSuffix(obj.Key) {
				return nil
			}
			catalog = append(catalog, ArchiveDescriptor{Key: obj.Key, LogicalType: src.LogicalType, Size: obj.Size})
			found++
			return nil
		})
		if err != nil {
			l.Error("Catalog listing failed.", "error", err)
			return nil, &CatalogError{Bucket: bucket, Prefix: src.Prefix, Err: err}
		}
		if found == 0 {
			l.Warn("No archives found under prefix.")
			continue
		}
		l.Info("Found archives.", slog.Int("count", found))
	}

	logger.Info("Catalog listing complete.", slog.Int("total_archives", len(catalog)))
	return catalog, nil
}
