package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipstage/internal/orchestrator"
)

func send(m *Model, msgs ...tea.Msg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func TestModel_TracksArchiveLifecycle(t *testing.T) {
	t.Parallel()

	m := New("zipstage", nil, nil)
	done := orchestrator.ArchiveResult{ArchiveKey: "in/a.zip", TotalEntries: 4, ExtractedCount: 3, SkippedCount: 1, Duration: time.Second}

	send(m,
		ProgressMsg{Stage: orchestrator.StageCatalog, Total: 2},
		ProgressMsg{Stage: orchestrator.StageDownloading, ArchiveKey: "in/a.zip"},
		ProgressMsg{Stage: orchestrator.StageExtracting, ArchiveKey: "in/a.zip", Entries: 4},
		ProgressMsg{Stage: orchestrator.StageChunkDone, ArchiveKey: "in/a.zip", Done: 2, Entries: 4},
	)
	a := m.Archive("in/a.zip")
	require.NotNil(t, a)
	assert.Equal(t, StatusExtracting, a.Status)
	assert.Equal(t, 2, a.Done)
	assert.Zero(t, m.Percent())

	send(m, ProgressMsg{Stage: orchestrator.StageComplete, ArchiveKey: "in/a.zip", Result: &done})
	assert.Equal(t, StatusComplete, a.Status)
	assert.Equal(t, 4, a.Done)
	assert.Equal(t, time.Second, a.Elapsed)
	assert.InDelta(t, 0.5, m.Percent(), 1e-9)

	view := m.View()
	assert.Contains(t, view, "in/a.zip")
	assert.Contains(t, view, "3 new, 1 skipped, 0 errors")
	assert.Contains(t, view, "(1/2)")
}

func TestModel_FailedAndPartialArchives(t *testing.T) {
	t.Parallel()

	m := New("zipstage", nil, nil)
	partial := orchestrator.ArchiveResult{TotalEntries: 2, ExtractedCount: 1, ErrorCount: 1}
	boom := errors.New("download in/b.zip: boom")

	send(m,
		ProgressMsg{Stage: orchestrator.StageCatalog, Total: 2},
		ProgressMsg{Stage: orchestrator.StageComplete, ArchiveKey: "in/a.zip", Result: &partial},
		ProgressMsg{Stage: orchestrator.StageFailed, ArchiveKey: "in/b.zip", Err: boom},
	)

	assert.Equal(t, StatusPartial, m.Archive("in/a.zip").Status)
	assert.Equal(t, StatusError, m.Archive("in/b.zip").Status)
	assert.Equal(t, 1.0, m.Percent())
	assert.Contains(t, m.View(), "boom")
}

func TestModel_QuitCancelsThenExits(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	m := New("zipstage", nil, cancel)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, Cancelling, m.State)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Nil(t, cmd)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, Exiting, m.State)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_InitRunsBatch(t *testing.T) {
	t.Parallel()

	summary := orchestrator.BatchSummary{RunID: "r1"}
	summary.Totals.Add(orchestrator.ArchiveResult{TotalEntries: 1, ExtractedCount: 1})
	m := New("zipstage", func() (orchestrator.BatchSummary, error) { return summary, nil }, nil)

	msg := m.startBatch()()
	finished, ok := msg.(BatchFinishedMsg)
	require.True(t, ok)
	assert.Equal(t, "r1", finished.Summary.RunID)

	_, cmd := m.Update(finished)
	assert.Equal(t, Finished, m.State)
	require.NotNil(t, m.Summary)
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Batch finished: 1 archives, 1 extracted")
}

func TestTruncateLeft(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateLeft("short", 10))
	assert.Equal(t, "...2024/01/x.zip", truncateLeft("logs/archives/2024/01/x.zip", 16))
}
