// Package viewer is the terminal front end: pick an image, send it for
// segmentation and inspect the class breakdown and quality metrics.
package viewer

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/geosegment/internal/classes"
	"github.com/fyrsmithlabs/geosegment/internal/notify"
	"github.com/fyrsmithlabs/geosegment/internal/segment"
	"github.com/fyrsmithlabs/geosegment/internal/session"
	"github.com/fyrsmithlabs/geosegment/internal/upload"
)

const (
	historySize = 30
	maxNotices  = 3
	barWidth    = 30
)

// Model is the bubbletea model driving one session.
type Model struct {
	sess    *session.Session
	catalog *classes.Catalog
	notices <-chan notify.Notification

	snap      session.Snapshot
	recent    []notify.Notification
	latencies []float64
	lastCheck time.Time
	quitting  bool

	input   textinput.Model
	spinner spinner.Model
	bar     progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a viewer for sess. notices may be nil. Health is probed
// once on start and again only when the user asks for it.
func NewModel(sess *session.Session, catalog *classes.Catalog, notices <-chan notify.Notification) Model {
	if catalog == nil {
		catalog = classes.Default()
	}

	in := textinput.New()
	in.Placeholder = "path/to/scene.tif"
	in.Prompt = "file: "
	in.CharLimit = 4096
	in.Width = 48

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sparklineStyle

	return Model{
		sess:      sess,
		catalog:   catalog,
		notices:   notices,
		snap:      sess.Snapshot(),
		latencies: make([]float64, 0, historySize),
		input:     in,
		spinner:   sp,
		bar: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(barWidth),
		),
	}
}

// WithPath pre-fills the file prompt and selects path on start.
func (m Model) WithPath(path string) Model {
	m.input.SetValue(path)
	return m
}

type healthMsg segment.HealthState
type selectedMsg struct{ err error }
type resultMsg struct {
	err     error
	elapsed time.Duration
}
type noticeMsg notify.Notification

// Init probes the backend and listens for notifications.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		checkHealth(m.sess),
		waitForNotice(m.notices),
	}
	if path := strings.TrimSpace(m.input.Value()); path != "" {
		cmds = append(cmds, selectFile(m.sess, path))
	}
	return tea.Batch(cmds...)
}

func checkHealth(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		return healthMsg(sess.CheckHealth(context.Background()))
	}
}

func selectFile(sess *session.Session, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := upload.Open(path)
		if err != nil {
			return noticeMsg(notify.Error("could not open file", err))
		}
		return selectedMsg{err: sess.Select(context.Background(), f)}
	}
}

func process(sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		_, err := sess.Process(context.Background())
		return resultMsg{err: err, elapsed: time.Since(start)}
	}
}

func waitForNotice(ch <-chan notify.Notification) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case healthMsg:
		m.snap = m.sess.Snapshot()
		m.lastCheck = time.Now()
		return m, nil

	case selectedMsg:
		m.snap = m.sess.Snapshot()
		if msg.err == nil {
			m.input.SetValue("")
		}
		return m, nil

	case resultMsg:
		m.snap = m.sess.Snapshot()
		if msg.err == nil {
			m.latencies = appendToHistory(m.latencies, msg.elapsed.Seconds()*1000)
		}
		return m, nil

	case noticeMsg:
		m.recent = append(m.recent, notify.Notification(msg))
		if len(m.recent) > maxNotices {
			m.recent = m.recent[len(m.recent)-maxNotices:]
		}
		return m, waitForNotice(m.notices)

	case spinner.TickMsg:
		if m.snap.State != session.Processing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch msg.String() {
		case "enter":
			path := strings.TrimSpace(m.input.Value())
			m.input.Blur()
			if path == "" {
				return m, nil
			}
			return m, selectFile(m.sess, path)
		case "esc":
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "o", "/":
		cmd := m.input.Focus()
		return m, cmd
	case "p", "enter":
		if !m.sess.CanProcess() {
			return m, nil
		}
		m.snap.State = session.Processing
		return m, tea.Batch(process(m.sess), m.spinner.Tick)
	case "c":
		m.sess.Clear()
		m.snap = m.sess.Snapshot()
		return m, nil
	case "r":
		return m, checkHealth(m.sess)
	}
	return m, nil
}
