package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	metaStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

type agentReply struct {
	Answer  string `json:"answer"`
	Steps   int    `json:"steps"`
	Tools   []struct {
		Kind string `json:"kind"`
	} `json:"tools_used"`
	Sources []struct {
		Kind string `json:"kind"`
		Path string `json:"path,omitempty"`
		URL  string `json:"url,omitempty"`
	} `json:"sources"`
	Error string `json:"error,omitempty"`
}

type replyMsg struct {
	reply agentReply
	err   error
}

// Model is a minimal chat front-end for the agent endpoint.
type Model struct {
	baseURL string
	model   string
	session string

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	http     *http.Client

	lines   []string
	waiting bool
	ready   bool
	width   int
	height  int
}

func New(baseURL, model, session string) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask Nova anything…"
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		session: session,
		input:   ti,
		spin:    sp,
		http:    &http.Client{Timeout: 180 * time.Second},
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) submit(message string) tea.Cmd {
	return func() tea.Msg {
		payload, _ := json.Marshal(map[string]interface{}{
			"model":   m.model,
			"message": message,
			"chat_id": m.session,
		})
		resp, err := m.http.Post(m.baseURL+"/agent", "application/json", bytes.NewReader(payload))
		if err != nil {
			return replyMsg{err: err}
		}
		defer resp.Body.Close()
		var reply agentReply
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return replyMsg{err: err}
		}
		if reply.Error != "" {
			return replyMsg{err: fmt.Errorf("%s", reply.Error)}
		}
		return replyMsg{reply: reply}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-3)
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 3
		}
		m.input.Width = msg.Width - 4

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				break
			}
			m.appendLine(userStyle.Render("you: ") + text)
			m.input.Reset()
			m.waiting = true
			cmds = append(cmds, m.submit(text), m.spin.Tick)
		}

	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
			break
		}
		m.appendLine(agentStyle.Render("nova: ") + msg.reply.Answer)
		var kinds []string
		for _, t := range msg.reply.Tools {
			kinds = append(kinds, t.Kind)
		}
		if len(kinds) > 0 {
			m.appendLine(metaStyle.Render(fmt.Sprintf("  [%d steps, tools: %s]",
				msg.reply.Steps, strings.Join(kinds, ", "))))
		}
		for _, src := range msg.reply.Sources {
			ref := src.URL
			if src.Kind == "file" {
				ref = src.Path
			}
			if ref != "" {
				m.appendLine(sourceStyle.Render("  • " + ref))
			}
		}

	case spinner.TickMsg:
		if m.waiting {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "starting…"
	}
	status := ""
	if m.waiting {
		status = " " + m.spin.View() + " thinking"
	}
	return m.viewport.View() + "\n" + m.input.View() + status
}
