package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const prompt = ">> "

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444"))
)

type evaluator interface {
	Evaluate(ctx context.Context, input string) (string, error)
}

// termSink collects guest terminal output between runs
type termSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *termSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Drain returns everything written since the last Drain
func (s *termSink) Drain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buf.String()
	s.buf.Reset()
	return out
}

type interactiveModel struct {
	ctx     context.Context
	eval    evaluator
	sink    *termSink
	name    string
	editor  textarea.Model
	output  viewport.Model
	lines   []string
	running bool
	width   int
}

type evalMsg struct {
	err    error
	term   string
	result string
}

func newInteractiveModel(ctx context.Context, eval evaluator, sink *termSink, name string) *interactiveModel {
	editor := textarea.New()
	editor.Placeholder = "print 1 + 1;"
	editor.ShowLineNumbers = true
	editor.SetWidth(80)
	editor.SetHeight(10)
	editor.Focus()

	if sink == nil {
		sink = &termSink{}
	}
	return &interactiveModel{
		ctx:    ctx,
		eval:   eval,
		sink:   sink,
		name:   name,
		editor: editor,
		output: viewport.New(80, 10),
		width:  80,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			if m.running {
				return m, nil
			}
			m.running = true
			return m, m.evaluate(m.editor.Value())
		case "ctrl+l":
			m.lines = nil
			m.output.SetContent("")
			return m, nil
		}

	case evalMsg:
		m.running = false
		m.appendResult(msg)
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	cmds = append(cmds, cmd)
	m.output, cmd = m.output.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *interactiveModel) resize(width, height int) {
	m.width = width
	// title, help line and two pane borders each
	avail := height - 6
	if avail < 4 {
		avail = 4
	}
	edit := avail / 2
	m.editor.SetWidth(width - 2)
	m.editor.SetHeight(edit)
	m.output.Width = width - 2
	m.output.Height = avail - edit
}

func (m *interactiveModel) evaluate(src string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.eval.Evaluate(m.ctx, src)
		return evalMsg{err: err, term: m.sink.Drain(), result: out}
	}
}

func (m *interactiveModel) appendResult(msg evalMsg) {
	for _, line := range splitLines(msg.term) {
		m.lines = append(m.lines, promptStyle.Render(prompt)+line)
	}
	for _, line := range splitLines(msg.result) {
		m.lines = append(m.lines, promptStyle.Render(prompt)+resultStyle.Render(line))
	}
	if msg.err != nil {
		m.lines = append(m.lines, promptStyle.Render(prompt)+errorStyle.Render(fmt.Sprintf("Error: %v", msg.err)))
	}
	m.output.SetContent(strings.Join(m.lines, "\n"))
	m.output.GotoBottom()
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("bessy"))
	b.WriteString(" ")
	b.WriteString(m.name)
	if m.running {
		b.WriteString(helpStyle.Render("  running..."))
	}
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.editor.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("ctrl+r run • ctrl+l clear • esc quit"))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.output.View()))

	return b.String()
}

func runInteractive(ctx context.Context, eval evaluator, sink *termSink, name string) error {
	p := tea.NewProgram(newInteractiveModel(ctx, eval, sink, name), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
