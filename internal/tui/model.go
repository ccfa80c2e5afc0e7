package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"smsrag/internal/domain"
	"smsrag/internal/service"
)

const searchPrefix = "/search "

// Port is the console-facing subset of the query service.
type Port interface {
	Process(ctx context.Context, message string) (string, error)
	Search(ctx context.Context, req service.SearchRequest) (domain.QueryOutcome, error)
}

type replyMsg struct {
	message string
	reply   string
	err     error
}

type searchMsg struct {
	query   string
	outcome domain.QueryOutcome
	err     error
}

// Model is the Bubble Tea model of the console. Plain input is handled like
// an inbound SMS; "/search <query>" browses the raw hits.
type Model struct {
	ctx       context.Context
	port      Port
	input     textinput.Model
	viewport  viewport.Model
	header    string
	reply     string
	results   []domain.Hit
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new console model. header is shown under the title.
func New(ctx context.Context, port Port, header string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message, or /search <query>, and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, port: port, input: ti, viewport: vp, header: header, status: "Ready."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) processCmd(message string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.port.Process(m.ctx, message)
		return replyMsg{message: message, reply: reply, err: err}
	}
}

func (m Model) searchCmd(query string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.port.Search(m.ctx, service.SearchRequest{Query: query, TopK: 10})
		return searchMsg{query: query, outcome: out, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header lines, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case replyMsg:
		m.busy = false
		m.results = nil
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.reply = ""
		} else {
			m.status = fmt.Sprintf("Reply to %q (%d chars)", msg.message, utf8.RuneCountInString(msg.reply))
			m.reply = msg.reply
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case searchMsg:
		m.busy = false
		m.reply = ""
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.results = msg.outcome.Hits
			m.cursor = 0
			m.lastQuery = msg.query
			if msg.outcome.NoEvidence {
				m.status = fmt.Sprintf("No relevant documents for %q", msg.query)
			} else {
				m.status = fmt.Sprintf("Results for %q", msg.query)
			}
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			if q, ok := strings.CutPrefix(text, searchPrefix); ok {
				m.status = "Searching..."
				return m, m.searchCmd(strings.TrimSpace(q))
			}
			m.status = "Thinking..."
			return m, m.processCmd(text)
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderContent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the console layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("SMS RAG Console")
	header := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	content := resultBoxStyle.Render(m.viewport.View())
	return title + "\n" + header + "\n" + content + "\n" + input + "\n" + status
}

func (m Model) renderContent() string {
	if m.reply != "" {
		return m.reply
	}
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  %s  distance=%.3f", m.cursor+1, len(m.results), r.ID, r.Distance)
	return title + "\n\n" + highlightBestSentence(r.Content, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordRe         = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence marks the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range wordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
