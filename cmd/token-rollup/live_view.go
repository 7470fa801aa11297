package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/0xmhha/token-rollup/pkg/display"
	"github.com/0xmhha/token-rollup/pkg/monitor"
	"github.com/0xmhha/token-rollup/pkg/query"
)

var (
	colorAccent = lipgloss.Color("#CBA6F7")
	colorGreen  = lipgloss.Color("#A6E3A1")
	colorYellow = lipgloss.Color("#F9E2AF")
	colorDim    = lipgloss.Color("#585B70")

	titleStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	deltaStyle = lipgloss.NewStyle().Foreground(colorGreen)
	staleStyle = lipgloss.NewStyle().Foreground(colorYellow)
	hintStyle  = lipgloss.NewStyle().Foreground(colorDim)
)

// updateMsg carries a monitor update into the program.
type updateMsg monitor.Update

// liveModel renders the most recent monitor update grouped by one
// dimension.
type liveModel struct {
	dim       query.Dimension
	formatter display.Formatter
	update    *monitor.Update
	width     int
}

func newLiveModel(dim query.Dimension) liveModel {
	return liveModel{
		dim:       dim,
		formatter: display.New(display.Config{Format: display.FormatTable}),
	}
}

func (m liveModel) Init() tea.Cmd { return nil }

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		u := monitor.Update(msg)
		m.update = &u
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m liveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("token-rollup live"))
	b.WriteString("\n")
	if m.width > 0 {
		b.WriteString(hintStyle.Render(strings.Repeat("─", m.width)))
	}
	b.WriteString("\n")

	if m.update == nil {
		b.WriteString("Waiting for the first refresh...\n")
		b.WriteString(hintStyle.Render("q to quit"))
		return b.String()
	}

	u := m.update
	fmt.Fprintf(&b, "Updated %s  %d tokens  ", u.Timestamp.Format("15:04:05"), u.Totals.Total())
	b.WriteString(deltaStyle.Render(fmt.Sprintf("+%d (%.0f tokens/min)", u.Delta.TotalTokens, u.BurnRate)))
	fmt.Fprintf(&b, "  +%d this session\n", u.Cumulative.TotalTokens)
	if u.Result.Stale {
		b.WriteString(staleStyle.Render("stale, as of " + u.Result.AsOf.Format(time.RFC3339)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if err := m.formatter.FormatGroups(&b, m.dim, query.GroupBy(u.Result.Rows, m.dim)); err != nil {
		fmt.Fprintf(&b, "render failed: %v\n", err)
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("q to quit"))
	return b.String()
}
