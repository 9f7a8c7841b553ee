// Package ui renders flash write/read/erase progress: an interactive
// bubbletea progress bar when stdout is a terminal, falling back to a
// plain-text percentage line otherwise. It follows a standard
// Model/Update/View progress-rendering shape, narrowed to the one thing
// this tool's core actually reports: done/total byte counts, not a full
// multi-pane TUI.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Padding(0, 1).
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#9CA3AF"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// Reporter receives Done/Total ticks and a final Finish call;
// cmd/esp32tool creates one per long-running operation and passes its
// Report method to the flasher as that operation's Progress callback.
type Reporter interface {
	Report(done, total int)
	Finish(err error)
}

// NewReporter picks an interactive bar when out is a terminal, or a
// plain-text fallback otherwise (e.g. piped output, CI logs).
func NewReporter(label string, out *os.File) Reporter {
	if out != nil && term.IsTerminal(int(out.Fd())) {
		return newProgramReporter(label, out)
	}
	return newPlainReporter(label, out)
}

// plainReporter writes one updated line per Report call, with no cursor
// control, for non-interactive stdout.
type plainReporter struct {
	label string
	out   io.Writer
	start time.Time
}

func newPlainReporter(label string, out io.Writer) *plainReporter {
	if out == nil {
		out = os.Stdout
	}
	return &plainReporter{label: label, out: out, start: time.Now()}
}

func (r *plainReporter) Report(done, total int) {
	percent := percentOf(done, total)
	fmt.Fprintf(r.out, "%s: %d/%d bytes (%.1f%%)\n", r.label, done, total, percent)
}

func (r *plainReporter) Finish(err error) {
	if err != nil {
		fmt.Fprintf(r.out, "%s: failed: %v\n", r.label, err)
		return
	}
	fmt.Fprintf(r.out, "%s: done in %s\n", r.label, time.Since(r.start).Round(time.Millisecond))
}

func percentOf(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * float64(done) / float64(total)
}

// progressMsg carries a Report call into the running tea.Program.
type progressMsg struct{ done, total int }

type finishMsg struct{ err error }

// model is the bubbletea Model backing the interactive reporter.
type model struct {
	label       string
	bar         progress.Model
	done, total int
	start       time.Time
	err         error
	finished    bool
}

func newModel(label string) model {
	return model{
		label: label,
		bar:   progress.New(progress.WithDefaultGradient()),
		start: time.Now(),
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 4
		return m, nil
	case progressMsg:
		m.done, m.total = msg.done, msg.total
		return m, nil
	case finishMsg:
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.finished {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("%s: failed: %v\n", m.label, m.err))
		}
		return footerStyle.Render(fmt.Sprintf("%s: done in %s\n", m.label, time.Since(m.start).Round(time.Millisecond)))
	}

	percent := percentOf(m.done, m.total) / 100
	bar := m.bar.ViewAs(percent)
	elapsed := time.Since(m.start).Seconds()
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(m.done) / elapsed / 1024
	}
	eta := estimateETA(m.done, m.total, throughput)

	header := headerStyle.Render(" " + m.label + " ")
	status := fmt.Sprintf("%s  %d/%d bytes  %.1f KB/s  ETA %s", bar, m.done, m.total, throughput, eta)
	return header + "\n" + status + "\n"
}

func estimateETA(done, total int, kbPerSec float64) time.Duration {
	if kbPerSec <= 0 || total <= done {
		return 0
	}
	remainingKB := float64(total-done) / 1024
	return time.Duration(remainingKB/kbPerSec*float64(time.Second)).Round(time.Second)
}

// programReporter drives the bubbletea Model over a live program.
type programReporter struct {
	program *tea.Program
	done    chan struct{}
}

func newProgramReporter(label string, out *os.File) *programReporter {
	p := tea.NewProgram(newModel(label), tea.WithOutput(out))
	r := &programReporter{program: p, done: make(chan struct{})}
	go func() {
		_, _ = p.Run()
		close(r.done)
	}()
	return r
}

func (r *programReporter) Report(done, total int) {
	r.program.Send(progressMsg{done: done, total: total})
}

func (r *programReporter) Finish(err error) {
	r.program.Send(finishMsg{err: err})
	<-r.done
}
