// Package tui renders live run progress in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steam-sessions/internal/stats"
)

const (
	tickInterval = 700 * time.Millisecond
	maxEvents    = 8
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type Header struct {
	RunID       string
	Accounts    int
	Sessions    int
	Proxies     int
	Concurrency int
}

type Options struct {
	Header  Header
	Tracker *stats.Tracker
	// Running reports in-flight jobs; optional.
	Running func() int
	// OnQuit runs once when the user presses q or ctrl+c.
	OnQuit func()
	Now    func() time.Time
}

type tickMsg time.Time

type eventMsg stats.Record

type doneMsg struct{}

type Model struct {
	header  Header
	tracker *stats.Tracker
	running func() int
	onQuit  func()
	now     func() time.Time
	events  chan stats.Record

	bar      progress.Model
	started  time.Time
	snap     stats.Snapshot
	recent   []string
	width    int
	stopping bool
	finished bool
}

func NewModel(opts Options) Model {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = stats.NewTracker(0)
	}
	return Model{
		header:  opts.Header,
		tracker: tracker,
		running: opts.Running,
		onQuit:  opts.OnQuit,
		now:     now,
		events:  make(chan stats.Record, 64),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		started: now(),
		snap:    tracker.Snapshot(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(ch <-chan stats.Record) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(rec)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := msg.Width - 4
		if w > 80 {
			w = 80
		}
		if w < 20 {
			w = 20
		}
		m.bar.Width = w
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.stopping {
				return m, tea.Quit
			}
			m.stopping = true
			if m.onQuit == nil {
				return m, tea.Quit
			}
			quit := m.onQuit
			return m, func() tea.Msg {
				quit()
				return nil
			}
		}
		return m, nil
	case tickMsg:
		m.snap = m.tracker.Snapshot()
		return m, tick()
	case eventMsg:
		m.recent = append([]string{formatEvent(stats.Record(msg))}, m.recent...)
		if len(m.recent) > maxEvents {
			m.recent = m.recent[:maxEvents]
		}
		return m, waitEvent(m.events)
	case doneMsg:
		m.snap = m.tracker.Snapshot()
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	s := m.snap
	h := m.header

	var b strings.Builder
	b.WriteString(titleStyle.Render("steam-sessions live"))
	if h.RunID != "" {
		b.WriteString(mutedStyle.Render("  run " + h.RunID))
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("accounts %d | sessions %d | proxies %d | concurrency %d",
		h.Accounts, h.Sessions, h.Proxies, h.Concurrency)))
	b.WriteString("\n\n")

	b.WriteString(m.bar.ViewAs(s.ProgressPercent() / 100))
	b.WriteString("\n")

	done := s.Success + s.Fail + s.Skip
	status := fmt.Sprintf("done %d/%d", done, s.Total)
	if m.running != nil {
		status += fmt.Sprintf(" | active %d/%d", m.running(), h.Concurrency)
	}
	if eta := estimateETA(s.Success+s.Fail, s.Remaining, m.now().Sub(m.started)); eta != "" {
		status += " | eta ~ " + eta
	}
	b.WriteString(status + "\n")

	line := summaryLine(s)
	if s.Fail > 0 {
		b.WriteString(errorStyle.Render(line))
	} else {
		b.WriteString(okStyle.Render(line))
	}
	b.WriteString("\n")

	if len(m.recent) > 0 {
		b.WriteString(panelStyle.Render(strings.Join(m.recent, "\n")))
		b.WriteString("\n")
	}

	switch {
	case m.finished:
		b.WriteString(mutedStyle.Render("finished"))
	case m.stopping:
		b.WriteString(errorStyle.Render("stopping: waiting for running jobs (q again to hide)"))
	default:
		b.WriteString(mutedStyle.Render("q: stop after running jobs"))
	}
	b.WriteString("\n")
	return b.String()
}

// UI owns a running bubbletea program.
type UI struct {
	program *tea.Program
	done    chan struct{}
	err     error
}

// Start runs the dashboard in the alternate screen until Stop. Signals are
// left to the caller.
func Start(opts Options) *UI {
	m := NewModel(opts)
	m.tracker.Subscribe(func(rec stats.Record) {
		select {
		case m.events <- rec:
		default:
		}
	})

	u := &UI{
		program: tea.NewProgram(m, tea.WithAltScreen(), tea.WithoutSignalHandler()),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(u.done)
		_, u.err = u.program.Run()
	}()
	return u
}

// Stop renders the final state, leaves the alternate screen and waits for the
// program to exit.
func (u *UI) Stop() error {
	u.program.Send(doneMsg{})
	select {
	case <-u.done:
	case <-time.After(2 * time.Second):
		u.program.Quit()
		<-u.done
	}
	return u.err
}
