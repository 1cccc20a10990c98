// Package report emits the batch summary to its sinks.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brensch/zipstage/internal/orchestrator"
)

// Sink receives one summary per run.
type Sink interface {
	Name() string
	Emit(ctx context.Context, s orchestrator.BatchSummary) error
}

// Multi fans a summary out to every sink. A failing sink is logged and does not
// stop the others; the joined errors are returned.
type Multi struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func (m *Multi) Emit(ctx context.Context, s orchestrator.BatchSummary) error {
	var errs []error
	for _, sink := range m.Sinks {
		if err := sink.Emit(ctx, s); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("Report sink failed.", slog.String("sink", sink.Name()), "error", err)
			}
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
