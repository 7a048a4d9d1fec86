package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ffi-runtime/codec"
	"github.com/wippyai/ffi-runtime/internal/simnative"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D6B")).
			Padding(0, 1)

	funcStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	typeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	asyncStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0C674")).Italic(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E7D6B"))

	resultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateCalling
	stateShowResult
)

type interactiveModel struct {
	s        *session
	timeout  time.Duration
	funcs    []simnative.Function
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
	result   string
	elapsed  time.Duration
	err      error
}

type callResultMsg struct {
	result  string
	elapsed time.Duration
	err     error
}

func newInteractiveModel(s *session, timeout time.Duration) *interactiveModel {
	return &interactiveModel{
		s:       s,
		timeout: timeout,
		funcs:   s.functions(),
		state:   stateSelectFunc,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				m.prepareInputs()
				if len(m.inputs) == 0 {
					m.state = stateCalling
					return m, m.callFunction
				}
				m.state = stateInputArgs
				return m, nil

			case stateInputArgs:
				m.state = stateCalling
				return m, m.callFunction

			case stateShowResult:
				m.reset()
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "esc":
			switch m.state {
			case stateInputArgs, stateShowResult:
				m.reset()
				return m, nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.elapsed = msg.elapsed
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.inputs = nil
	m.result = ""
	m.err = nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.Params))
	for i, p := range f.Params {
		ti := textinput.New()
		ti.Placeholder = placeholder(p)
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func placeholder(p simnative.Param) string {
	if p.Name == "op" {
		return strings.Join(opNames(), "|")
	}
	return codec.TypeName(p.Type)
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	f := m.funcs[m.selected]
	args := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}

	start := time.Now()
	result, err := m.s.call(ctx, f, args)
	return callResultMsg{result: result, elapsed: time.Since(start), err: err}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("FFI Runtime Demo"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%s v%d", m.s.lib.Name(), m.s.lib.ContractVersion()))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + f.Symbol))
				b.WriteString(" " + m.formatSignature(f))
			} else {
				b.WriteString("  " + funcStyle.Render(f.Symbol) + " " + m.formatSignature(f))
			}
			b.WriteString("\n")
		}
		if doc := m.funcs[m.selected].Doc; doc != "" {
			b.WriteString("\n")
			b.WriteString(helpStyle.Render(doc))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Symbol)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(codec.TypeName(f.Params[i].Type)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateCalling:
		b.WriteString(fmt.Sprintf("Calling %s...\n", funcStyle.Render(m.funcs[m.selected].Symbol)))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s ", funcStyle.Render(f.Symbol)))
		b.WriteString(helpStyle.Render(fmt.Sprintf("(%s)", m.elapsed.Round(time.Microsecond))))
		b.WriteString(":\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatSignature(f simnative.Function) string {
	params := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		params = append(params, p.Name+": "+typeStyle.Render(codec.TypeName(p.Type)))
	}
	out := "(" + strings.Join(params, ", ") + ")"
	if f.Result != nil {
		out += " -> " + typeStyle.Render(codec.TypeName(f.Result))
	}
	if f.Error != nil {
		out += " throws " + typeStyle.Render(codec.TypeName(f.Error))
	}
	if f.Async {
		out += " " + asyncStyle.Render("async")
	}
	return out
}

func runInteractive(s *session, timeout time.Duration) error {
	p := tea.NewProgram(newInteractiveModel(s, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
