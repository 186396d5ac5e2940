package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// repl runs the loop in the background while the terminal UI is up.
type repl struct {
	eng  engine
	lang string
	prog *tea.Program
}

func newREPL(eng engine, lang string) *repl {
	return &repl{eng: eng, lang: lang}
}

type evalMsg struct {
	input string
	out   []string
	err   error
}

type outputMsg string

type scriptErrMsg struct{ err error }

func (r *repl) run() error {
	loop := r.eng.Bridge().Loop()
	r.prog = tea.NewProgram(newReplModel(r.lang, r.eval), tea.WithAltScreen())
	r.eng.SetPrint(func(s string) { r.prog.Send(outputMsg(s)) })

	loop.Hold()
	errc := make(chan error, 1)
	go func() { errc <- loop.Run(context.Background()) }()

	_, err := r.prog.Run()
	loop.Release()
	if lerr := <-errc; err == nil {
		err = lerr
	}
	return err
}

// report receives errors of callbacks and queued chunks.
func (r *repl) report(err error) {
	if r.prog != nil {
		r.prog.Send(scriptErrMsg{err})
	}
}

// eval returns a command that evaluates src on the loop.
func (r *repl) eval(src string) tea.Cmd {
	return func() tea.Msg {
		res := make(chan evalMsg, 1)
		if err := r.eng.Bridge().Loop().Submit(func() error {
			out, err := r.eng.Eval(src)
			res <- evalMsg{input: src, out: out, err: err}
			return nil
		}); err != nil {
			return evalMsg{input: src, err: err}
		}
		return <-res
	}
}

type replModel struct {
	lang    string
	eval    func(string) tea.Cmd
	input   textinput.Model
	view    viewport.Model
	lines   []string
	history []string
	histPos int
}

func newReplModel(lang string, eval func(string) tea.Cmd) *replModel {
	ti := textinput.New()
	ti.Prompt = lang + "> "
	ti.Placeholder = "expression or statement"
	ti.Focus()
	return &replModel{
		lang:  lang,
		eval:  eval,
		input: ti,
		view:  viewport.New(80, 20),
	}
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" {
				return m, nil
			}
			m.history = append(m.history, src)
			m.histPos = len(m.history)
			m.input.SetValue("")
			m.append(inputStyle.Render(m.input.Prompt + src))
			return m, m.eval(src)
		case "up":
			if m.histPos > 0 {
				m.histPos--
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			}
			return m, nil
		case "down":
			if m.histPos < len(m.history)-1 {
				m.histPos++
				m.input.SetValue(m.history[m.histPos])
				m.input.CursorEnd()
			} else {
				m.histPos = len(m.history)
				m.input.SetValue("")
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 10)
		m.refresh()

	case evalMsg:
		if msg.err != nil {
			m.append(errorStyle.Render(msg.err.Error()))
		}
		for _, line := range msg.out {
			m.append(resultStyle.Render(line))
		}
		return m, nil

	case outputMsg:
		m.append(string(msg))
		return m, nil

	case scriptErrMsg:
		m.append(errorStyle.Render("uncaught: " + msg.err.Error()))
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) append(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *replModel) refresh() {
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m *replModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("odbxuv " + m.lang))
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("enter run • ↑/↓ history • ctrl+d quit • %d lines", len(m.lines))))
	return b.String()
}
