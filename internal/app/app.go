// Package app renders extraction batch progress in the terminal.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/brensch/zipstage/internal/orchestrator"
)

var (
	titleStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle   = lipgloss.NewStyle().Padding(0, 1)
	archiveHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	archiveStatusStyle = map[string]lipgloss.Style{
		StatusDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		StatusExtracting:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		StatusComplete:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		StatusPartial:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		StatusError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		StatusCancelled:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

// Per-archive status labels.
const (
	StatusDownloading = "Downloading"
	StatusExtracting  = "Extracting"
	StatusComplete    = "Complete"
	StatusPartial     = "Partial"
	StatusError       = "Error"
	StatusCancelled   = "Cancelled"
)

const maxKeyWidth = 48

// ArchiveStatus is the view of one archive's progress.
type ArchiveStatus struct {
	Key     string
	Status  string
	Done    int
	Entries int
	Start   time.Time
	Elapsed time.Duration
	Detail  string
	ErrMsg  string
}

// Model is a bubbletea model that runs one extraction batch and tracks it.
type Model struct {
	Title string
	State AppState

	run    func() (orchestrator.BatchSummary, error)
	cancel context.CancelFunc

	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int

	archives map[string]*ArchiveStatus
	order    []string
	total    int
	finished int

	Summary *orchestrator.BatchSummary
	Err     error

	termWidth  int
	termHeight int
}

// New builds a model. run executes the batch and is started by Init; cancel is
// called on the first quit key so the batch can stop between chunks and still
// report what it did.
func New(title string, run func() (orchestrator.BatchSummary, error), cancel context.CancelFunc) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		Title:           title,
		State:           Running,
		run:             run,
		cancel:          cancel,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		archives:        make(map[string]*ArchiveStatus),
		termWidth:       100,
		termHeight:      30,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startBatch())
}

func (m *Model) startBatch() tea.Cmd {
	if m.run == nil {
		return nil
	}
	return func() tea.Msg {
		summary, err := m.run()
		return BatchFinishedMsg{Summary: summary, Err: err}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			switch m.State {
			case Running:
				m.State = Cancelling
				if m.cancel != nil {
					m.cancel()
				}
			case Cancelling, Finished:
				m.State = Exiting
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-16)
		m.overallProgress.Width = m.progressBarWidth
	case ProgressMsg:
		m.apply(orchestrator.Progress(msg))
	case BatchFinishedMsg:
		m.Summary = &msg.Summary
		m.Err = msg.Err
		m.State = Finished
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running || m.State == Cancelling {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// apply folds one progress event into the model.
func (m *Model) apply(ev orchestrator.Progress) {
	switch ev.Stage {
	case orchestrator.StageCatalog:
		m.total = ev.Total
		return
	case orchestrator.StageBatchDone:
		if ev.Err != nil && m.total == 0 {
			m.Err = ev.Err
		}
		return
	}

	a := m.archive(ev.ArchiveKey)
	switch ev.Stage {
	case orchestrator.StageDownloading:
		a.Status = StatusDownloading
	case orchestrator.StageExtracting:
		a.Status = StatusExtracting
		a.Entries = ev.Entries
	case orchestrator.StageChunkDone:
		a.Status = StatusExtracting
		a.Entries = ev.Entries
		if ev.Done > a.Done {
			a.Done = ev.Done
		}
	case orchestrator.StageComplete, orchestrator.StageFailed, orchestrator.StageCancelled:
		a.Elapsed = time.Since(a.Start)
		a.Status = terminalStatus(ev)
		if r := ev.Result; r != nil {
			a.Done, a.Entries = r.TotalEntries, r.TotalEntries
			a.Elapsed = r.Duration
			a.Detail = fmt.Sprintf("%d new, %d skipped, %d errors, %s", r.ExtractedCount, r.SkippedCount, r.ErrorCount, humanize.Bytes(uint64(r.Bytes)))
			if r.PendingCount > 0 {
				a.Detail += fmt.Sprintf(", %d pending", r.PendingCount)
			}
		}
		if ev.Err != nil {
			a.ErrMsg = ev.Err.Error()
		}
		m.finished++
	}
}

func terminalStatus(ev orchestrator.Progress) string {
	switch {
	case ev.Stage == orchestrator.StageCancelled:
		return StatusCancelled
	case ev.Stage == orchestrator.StageFailed:
		return StatusError
	case ev.Result != nil && ev.Result.ErrorCount > 0:
		return StatusPartial
	}
	return StatusComplete
}

func (m *Model) archive(key string) *ArchiveStatus {
	a, ok := m.archives[key]
	if !ok {
		a = &ArchiveStatus{Key: key, Start: time.Now()}
		m.archives[key] = a
		m.order = append(m.order, key)
	}
	return a
}

// Percent is the fraction of listed archives that have finished.
func (m *Model) Percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.finished) / float64(m.total)
}

// Archive returns the tracked status of key, or nil.
func (m *Model) Archive(key string) *ArchiveStatus {
	return m.archives[key]
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("--- %s ---", m.Title)))
	b.WriteString("\n\n")

	switch m.State {
	case Running, Cancelling:
		activity := "Extracting archives"
		if m.State == Cancelling {
			activity = "Cancelling after in-flight chunks"
		}
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), activity))
	case Finished:
		b.WriteString(m.viewOutcome())
	}
	b.WriteString(progressBarStyle.Render(m.overallProgress.ViewAs(m.Percent())))
	b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", m.finished, m.total))
	b.WriteString(m.viewArchives())

	b.WriteString("\n")
	switch m.State {
	case Running:
		b.WriteString(infoStyle.Render("'q' or Ctrl+C to cancel the batch."))
	case Cancelling:
		b.WriteString(infoStyle.Render("Cancelling... press 'q' again to force quit."))
	}
	return b.String()
}

func (m *Model) viewOutcome() string {
	if m.Err != nil {
		return errorStyle.Render(wrapText("Batch ended: "+m.Err.Error(), m.termWidth-4)) + "\n"
	}
	if m.Summary == nil {
		return ""
	}
	t := m.Summary.Totals
	return fmt.Sprintf("Batch finished: %d archives, %d extracted, %d skipped, %d errors.\n", t.Archives, t.Extracted, t.Skipped, t.Errors)
}

func (m *Model) viewArchives() string {
	if len(m.order) == 0 {
		return ""
	}
	var b strings.Builder
	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.order) > maxLines {
		startIdx = len(m.order) - maxLines
	}

	b.WriteString(archiveHeaderStyle.Render(fmt.Sprintf("%-*s | %-11s | %-13s | %s", maxKeyWidth, "Archive", "Status", "Entries", "Elapsed")))
	b.WriteString("\n")
	for _, key := range m.order[startIdx:] {
		a := m.archives[key]
		style, ok := archiveStatusStyle[a.Status]
		if !ok {
			style = infoStyle
		}
		elapsed := ""
		if a.Elapsed > 0 {
			elapsed = a.Elapsed.Round(time.Millisecond).String()
		} else if !a.Start.IsZero() {
			elapsed = time.Since(a.Start).Round(time.Second).String() + "..."
		}
		entries := ""
		if a.Entries > 0 || a.Status == StatusComplete {
			entries = fmt.Sprintf("%d/%d", a.Done, a.Entries)
		}
		b.WriteString(fmt.Sprintf("%-*s | %s | %-13s | %s", maxKeyWidth, truncateLeft(key, maxKeyWidth), style.Render(fmt.Sprintf("%-11s", a.Status)), entries, elapsed))
		if a.Detail != "" {
			b.WriteString(infoStyle.Render("  " + a.Detail))
		}
		b.WriteString("\n")
		if a.ErrMsg != "" {
			b.WriteString(errorStyle.Render(truncateRight("  -> Error: "+a.ErrMsg, m.termWidth-1)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// truncateLeft keeps the tail of long keys, which holds the file name.
func truncateLeft(s string, width int) string {
	if len(s) <= width || width < 4 {
		return s
	}
	return "..." + s[len(s)-width+3:]
}

func truncateRight(s string, width int) string {
	if len(s) <= width || width < 4 {
		return s
	}
	return s[:width-3] + "..."
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
