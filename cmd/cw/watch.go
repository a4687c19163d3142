package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "colonywars/internal/cli"
	"colonywars/internal/game"
	"colonywars/internal/ledger"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const watchFeedSize = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	threatTint = map[game.ThreatLevel]lipgloss.Style{
		game.ThreatSafe:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		game.ThreatLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		game.ThreatMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		game.ThreatHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true),
		game.ThreatCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch [colony]",
		Short: "Live view of a colony's threat level and the event feed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prof, client, err := session(cmd, apiBase)
			if err != nil {
				return err
			}
			id, err := colonyArg(args, 0, prof)
			if err != nil {
				return err
			}
			if every < time.Second {
				every = time.Second
			}
			m := newWatchModel(cmd.Context(), client, id, every)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 5*time.Second, "refresh interval")
	return cmd
}

// watchSource is the slice of the API client the watch view polls.
type watchSource interface {
	Overview(ctx context.Context, colony ledger.ID) (game.StrategicOverview, error)
	Events(ctx context.Context, after uint64, limit int) (cl.EventPage, error)
}

type refreshMsg struct {
	overview game.StrategicOverview
	events   []ledger.Event
	lastSeq  uint64
	err      error
}

type pollMsg struct{}

type watchModel struct {
	ctx     context.Context
	src     watchSource
	colony  ledger.ID
	every   time.Duration
	spinner spinner.Model

	loading  bool
	overview game.StrategicOverview
	feed     []ledger.Event
	lastSeq  uint64
	err      error
	updated  time.Time
	width    int
}

func newWatchModel(ctx context.Context, src watchSource, colony ledger.ID, every time.Duration) watchModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = titleStyle
	return watchModel{ctx: ctx, src: src, colony: colony, every: every, spinner: sp, loading: true, width: 100}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh())
}

func (m watchModel) refresh() tea.Cmd {
	src, colony, after, ctx := m.src, m.colony, m.lastSeq, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ov, err := src.Overview(ctx, colony)
		if err != nil {
			return refreshMsg{err: err}
		}
		page, err := src.Events(ctx, after, 100)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{overview: ov, events: page.Events, lastSeq: page.LastSeq}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.refresh()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case refreshMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.overview = msg.overview
			m.feed = appendFeed(m.feed, msg.events, watchFeedSize)
			if msg.lastSeq > m.lastSeq {
				m.lastSeq = msg.lastSeq
			}
			m.updated = time.Now()
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return pollMsg{} })
	case pollMsg:
		m.loading = true
		return m, m.refresh()
	}
	return m, nil
}

// appendFeed keeps the newest n events.
func appendFeed(feed, events []ledger.Event, n int) []ledger.Event {
	feed = append(feed, events...)
	if len(feed) > n {
		feed = append([]ledger.Event(nil), feed[len(feed)-n:]...)
	}
	return feed
}

func (m watchModel) View() string {
	header := titleStyle.Render("Colony " + m.colony.Short())
	if m.loading {
		header += " " + m.spinner.View()
	}

	ov := m.overview
	var status strings.Builder
	tint, ok := threatTint[ov.Threat]
	if !ok {
		tint = dimStyle
	}
	fmt.Fprintf(&status, "Season %d  %s\n", ov.Season, strings.ToUpper(string(ov.Phase)))
	fmt.Fprintf(&status, "Threat     %s\n", tint.Render(string(ov.Threat)))
	fmt.Fprintf(&status, "Readiness  %d/100  Overall %d/100\n", ov.Readiness.Score, ov.OverallScore)
	fmt.Fprintf(&status, "Battles    %d in (%d sieges) / %d out\n", ov.IncomingAttacks, ov.ActiveSieges, ov.OutgoingAttacks)
	fmt.Fprintf(&status, "Land       %d held, %d vulnerable", ov.Territories, len(ov.VulnerableTerritories))
	if ov.Alliance != nil {
		fmt.Fprintf(&status, "\nAlliance   %s  stability %d  bonus +%d%%", ov.Alliance.Name, ov.Alliance.StabilityIndex, ov.Alliance.Bonus.Total)
	}

	lineWidth := m.width - 4
	var feed strings.Builder
	if len(m.feed) == 0 {
		feed.WriteString(dimStyle.Render("waiting for events"))
	}
	for i, ev := range m.feed {
		if i > 0 {
			feed.WriteByte('\n')
		}
		feed.WriteString(truncate(eventLine(ev), lineWidth))
	}

	footer := dimStyle.Render("r refresh  q quit")
	if !m.updated.IsZero() {
		footer = dimStyle.Render("updated "+m.updated.Format(time.Kitchen)+"  ") + footer
	}
	parts := []string{header, panelStyle.Render(status.String()), panelStyle.Render(feed.String())}
	if m.err != nil {
		parts = append(parts, errStyle.Render(m.err.Error()))
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
