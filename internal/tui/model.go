package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"biblechat/internal/domain"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	SubmitQuery(ctx context.Context, text string) (<-chan domain.Fragment, error)
	GetHistory() []domain.Turn
	ClearHistory()
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	service  ChatPort
	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model
	status   string
	partial  string
	busy     bool
	ready    bool
	cancel   context.CancelFunc
	stream   <-chan domain.Fragment
	now      func() time.Time
}

// New creates a new TUI model instance.
func New(service ChatPort) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the Bible..."
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		input:    ti,
		viewport: vp,
		spin:     sp,
		status:   "Enter a question. Ctrl+N starts a new chat, Ctrl+C quits.",
		now:      time.Now,
	}
}

type streamMsg struct {
	ch     <-chan domain.Fragment
	cancel context.CancelFunc
}

type fragmentMsg struct{ text string }

type doneMsg struct{}

type failMsg struct{ err error }

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and stream events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ch := chatBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + greeting, status, input frame, spacer
		vh := msg.Height - reserved - ch
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = vh
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.partial = ""
			m.status = "Finding answer..."
			m.refresh()
			return m, tea.Batch(m.spin.Tick, submit(m.service, q))
		case "ctrl+n":
			if m.cancel != nil {
				m.cancel()
				m.cancel = nil
			}
			m.service.ClearHistory()
			m.busy = false
			m.partial = ""
			m.status = "New chat started."
			m.refresh()
			return m, nil
		case "esc":
			if m.busy && m.cancel != nil {
				m.cancel()
				m.cancel = nil
				m.busy = false
				m.partial = ""
				m.status = "Answer cancelled."
				m.refresh()
				return m, nil
			}
		case "up":
			m.viewport.LineUp(1)
			return m, nil
		case "down":
			m.viewport.LineDown(1)
			return m, nil
		}

	case streamMsg:
		// The query was cancelled before the stream arrived.
		if !m.busy {
			msg.cancel()
			return m, nil
		}
		m.stream = msg.ch
		m.cancel = msg.cancel
		return m, waitFragment(msg.ch)

	case fragmentMsg:
		if !m.busy {
			return m, nil
		}
		m.partial += msg.text
		m.refresh()
		m.viewport.GotoBottom()
		return m, waitFragment(m.stream)

	case doneMsg:
		// A cancelled stream still closes and delivers a final doneMsg;
		// ignore it so the cancel status stays put.
		if !m.busy {
			return m, nil
		}
		m.busy = false
		m.partial = ""
		m.cancel = nil
		m.status = "Ready for the next question."
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case failMsg:
		if !m.busy {
			return m, nil
		}
		m.busy = false
		m.cancel = nil
		if m.partial != "" {
			m.status = "The answer above is incomplete: " + msg.err.Error()
		} else {
			m.status = "I could not answer that: " + msg.err.Error() + " Please try again."
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Bible Assistant")
	greet := greetStyle.Render(greeting(m.now()) + "! How can I help you today?")
	chat := chatBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spin.View() + " " + status
	}
	return header + "\n" + greet + "\n" + chat + "\n" + input + "\n" + statusStyle.Render(status)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
}

func (m Model) renderTranscript() string {
	turns := m.service.GetHistory()
	if len(turns) == 0 && m.partial == "" {
		return welcomeText
	}
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case domain.RoleUser:
			b.WriteString(userStyle.Render("You") + "\n" + t.Text + "\n\n")
		case domain.RoleAssistant:
			b.WriteString(assistantStyle.Render("Assistant") + "\n" + t.Text + "\n\n")
		}
	}
	if m.partial != "" || m.busy {
		b.WriteString(assistantStyle.Render("Assistant") + "\n" + m.partial)
	}
	return b.String()
}

func submit(service ChatPort, query string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := service.SubmitQuery(ctx, query)
		if err != nil {
			cancel()
			return failMsg{err}
		}
		return streamMsg{ch: ch, cancel: cancel}
	}
}

func waitFragment(ch <-chan domain.Fragment) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		if f.Err != nil {
			return failMsg{f.Err}
		}
		return fragmentMsg{f.Text}
	}
}

// greeting picks a salutation for the current time of day.
func greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good Morning"
	case h < 17:
		return "Good Afternoon"
	default:
		return "Good Evening"
	}
}

const welcomeText = `Talk with the Holy Bible!

Tips for better results:
  - Be specific in your questions
  - Include verse references if known
  - Ask one question at a time

Example questions:
  - What does John 3:16 mean?
  - Who was Moses?
  - What is the story of creation?
  - Explain the Lord's Prayer`

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	greetStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
