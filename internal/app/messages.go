package app

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/zipstage/internal/orchestrator"
)

// ProgressMsg carries one pipeline progress event into the model.
type ProgressMsg orchestrator.Progress

// BatchFinishedMsg signals that the batch returned.
type BatchFinishedMsg struct {
	Summary orchestrator.BatchSummary
	Err     error
}

func (p ProgressMsg) String() string {
	return fmt.Sprintf("Progress %s: %s", p.Stage, p.ArchiveKey)
}

func (b BatchFinishedMsg) Error() string {
	if b.Err != nil {
		return b.Err.Error()
	}
	return ""
}

// Forward returns an orchestrator progress callback that feeds events into p.
// tea.Program.Send is safe for concurrent use, so the callback can be handed to
// pool workers directly.
func Forward(p *tea.Program) func(orchestrator.Progress) {
	return func(ev orchestrator.Progress) {
		p.Send(ProgressMsg(ev))
	}
}
