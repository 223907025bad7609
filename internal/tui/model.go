package tui

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"rag-corpus/internal/models"
)

// Searcher is the part of the query engine the shell needs
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]models.Result, error)
}

var (
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true)
	summaryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// Model is the Bubble Tea model for the interactive shell.
type Model struct {
	engine  Searcher
	topK    int
	summary string

	input    textinput.Model
	viewport viewport.Model
	ready    bool

	query   string
	results []Result
	current int
	status  string
}

// Result is one search hit with its best matching sentence precomputed
type Result struct {
	models.Result
	Sentences []string
	Best      int
}

func New(engine Searcher, topK int, summary string) Model {
	in := textinput.New()
	in.Prompt = "> "
	in.Placeholder = "Ask the document and press Enter"
	in.Focus()
	return Model{
		engine:   engine,
		topK:     topK,
		summary:  summary,
		input:    in,
		viewport: viewport.New(0, 0),
		status:   "Index loaded. Type to search.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// resize gives the viewport whatever the chrome around it leaves over
func (m *Model) resize(width, height int) {
	_, frame := boxStyle.GetFrameSize()
	chrome := lipgloss.Height(m.header()) + lipgloss.Height(m.footer()) + 2*frame
	m.viewport.Width = max(20, width)
	m.viewport.Height = max(3, height-chrome)
	m.ready = true
	m.refresh()
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlD:
		return m, tea.Quit, true
	case tea.KeyEnter:
		m.search(strings.TrimSpace(m.input.Value()))
		return m, nil, true
	case tea.KeyDown:
		m.step(1)
		return m, nil, true
	case tea.KeyUp:
		m.step(-1)
		return m, nil, true
	case tea.KeyPgDown, tea.KeyPgUp:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd, true
	}
	return m, nil, false
}

func (m *Model) search(q string) {
	if q == "" {
		return
	}
	hits, err := m.engine.Query(context.Background(), q, m.topK)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.results = nil
		m.refresh()
		return
	}
	terms := words(q)
	m.results = make([]Result, len(hits))
	for i, h := range hits {
		sentences := splitSentences(h.Chunk.Text)
		m.results[i] = Result{Result: h, Sentences: sentences, Best: bestSentence(sentences, terms)}
	}
	m.query = q
	m.current = 0
	m.status = fmt.Sprintf("%d results for %q", len(hits), q)
	m.refresh()
	m.viewport.GotoTop()
}

// step moves the cursor by delta, wrapping at both ends
func (m *Model) step(delta int) {
	n := len(m.results)
	if n == 0 {
		return
	}
	m.current = ((m.current+delta)%n + n) % n
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderResult())
}

func (m Model) header() string {
	return headerStyle.Render("RAG Corpus") + "\n" + summaryStyle.Render(m.summary)
}

func (m Model) footer() string {
	return statusStyle.Render(m.status)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		boxStyle.Render(m.viewport.View()),
		boxStyle.Render(m.input.View()),
		m.footer(),
	)
}

func (m Model) renderResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.current]
	title := fmt.Sprintf("Result %d/%d  page=%d  chunk=%d  score=%.4f",
		m.current+1, len(m.results), r.Chunk.Page, r.Chunk.ChunkID, r.Score)

	parts := make([]string, len(r.Sentences))
	for i, s := range r.Sentences {
		if i == r.Best {
			s = highlightStyle.Render(s)
		}
		parts[i] = s
	}
	return titleStyle.Render(title) + "\n\n" + strings.Join(parts, " ")
}

// splitSentences cuts after '.', '!' or '?' when followed by a space or the end
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// bestSentence returns the sentence sharing the most distinct terms with the
// query, the first one on ties, or -1 when nothing overlaps
func bestSentence(sentences, terms []string) int {
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	best, bestHits := -1, 0
	for i, s := range sentences {
		hits := 0
		seen := make(map[string]bool)
		for _, w := range words(s) {
			if want[w] && !seen[w] {
				seen[w] = true
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	return best
}
