package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	syncapp "github.com/sentinelmarket/sentinel-sync/internal/app"
	"github.com/sentinelmarket/sentinel-sync/internal/service"
	"github.com/sentinelmarket/sentinel-sync/internal/status"
	"github.com/sentinelmarket/sentinel-sync/internal/view"
)

// redrawInterval is how often the watch screen re-reads the session
const redrawInterval = time.Second

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <view> [--param name=value]",
		Short: "Watch one view refresh in the terminal",
		Long: `Mount a view in-process and render its state as it refreshes.

Parameterised views take their values with --param, e.g.
  sentinel-sync watch stock --param ticker=TCS

Keys: r refresh now, p toggle polling, d dismiss the newest notification, q quit.
When stdout is not a terminal the state is logged on every change instead.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
	cmd.Flags().Duration("interval", 0, "Polling interval (defaults to the view interval)")
	cmd.Flags().StringToString("param", nil, "View params as name=value pairs")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval, err := cmd.Flags().GetDuration("interval")
	if err != nil {
		return err
	}
	params, err := cmd.Flags().GetStringToString("param")
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	syncApp, err := syncapp.NewSyncApp(ctx, syncapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build sync app: %w", err)
	}
	svc := syncApp.GetComponents().Service
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close dashboard service", "error", err)
		}
	}()

	sess, err := svc.Mount(ctx, args[0],
		service.WithInterval[service.MountOptions](interval),
		service.WithParams(params),
	)
	if err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return logSession(ctx, svc, sess.ID)
	}

	p := tea.NewProgram(newWatchModel(svc, sess), tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}

// logSession logs the session whenever its phase, label or notifications change
func logSession(ctx context.Context, svc service.DashboardService, sessionID string) error {
	ticker := time.NewTicker(redrawInterval)
	defer ticker.Stop()

	var last string
	for {
		sess, err := svc.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		st := sess.State
		key := fmt.Sprintf("%s/%s/%d/%v", st.Phase, st.Label, len(st.Notifications), st.LastRefresh)
		if key != last {
			last = key
			slog.Info("View state",
				"view", st.View,
				"params", sess.Params,
				"phase", st.Phase,
				"label", st.Label,
				"last_error", st.LastError,
				"notifications", len(st.Notifications),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type sessionMsg struct {
	session *service.Session
	err     error
}

type tickMsg time.Time

type watchStyles struct {
	title   lipgloss.Style
	live    lipgloss.Style
	demo    lipgloss.Style
	muted   lipgloss.Style
	failure lipgloss.Style
	notice  lipgloss.Style
}

func defaultWatchStyles() watchStyles {
	return watchStyles{
		title:   lipgloss.NewStyle().Bold(true),
		live:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		demo:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		notice:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1),
	}
}

// watchModel renders one mounted session
type watchModel struct {
	svc     service.DashboardService
	session *service.Session
	status  string
	styles  watchStyles
}

func newWatchModel(svc service.DashboardService, sess *service.Session) watchModel {
	return watchModel{
		svc:     svc,
		session: sess,
		styles:  defaultWatchStyles(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(redrawInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.status = "refreshing..."
			return m, m.refresh()
		case "p":
			return m, m.togglePolling()
		case "d":
			return m, m.dismissNewest()
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case sessionMsg:
		switch {
		case errors.Is(msg.err, view.ErrCycleInFlight):
			m.status = "a refresh is already running"
		case msg.err != nil:
			m.status = msg.err.Error()
		default:
			m.session = msg.session
			if m.status == "refreshing..." {
				m.status = ""
			}
		}
	}
	return m, nil
}

func (m watchModel) fetch() tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		sess, err := m.svc.Session(context.Background(), id)
		return sessionMsg{session: sess, err: err}
	}
}

func (m watchModel) refresh() tea.Cmd {
	id := m.session.ID
	return func() tea.Msg {
		sess, err := m.svc.Refresh(context.Background(), id)
		return sessionMsg{session: sess, err: err}
	}
}

func (m watchModel) togglePolling() tea.Cmd {
	id, enable := m.session.ID, !m.session.Polling
	return func() tea.Msg {
		sess, err := m.svc.SetPolling(context.Background(), id, service.WithPolling[service.PollingOptions](enable))
		return sessionMsg{session: sess, err: err}
	}
}

func (m watchModel) dismissNewest() tea.Cmd {
	notes := m.session.State.Notifications
	if len(notes) == 0 {
		return nil
	}
	id, noteID := m.session.ID, notes[len(notes)-1].ID
	return func() tea.Msg {
		if err := m.svc.Dismiss(context.Background(), id, noteID); err != nil {
			return sessionMsg{err: err}
		}
		sess, err := m.svc.Session(context.Background(), id)
		return sessionMsg{session: sess, err: err}
	}
}

func (m watchModel) View() string {
	st := m.session.State
	var b strings.Builder

	label := m.styles.demo.Render(st.Label)
	if st.IsLive {
		label = m.styles.live.Render(st.Label)
	}
	title := st.View
	if len(m.session.Params) > 0 {
		names := make([]string, 0, len(m.session.Params))
		for name := range m.session.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			title += " " + m.session.Params[name]
		}
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", m.styles.title.Render(title), label, m.styles.muted.Render(string(st.Phase)))

	polling := "polling off"
	if m.session.Polling {
		polling = "polling every " + m.session.Interval
	}
	refreshed := "never"
	if st.LastRefresh != nil {
		refreshed = st.LastRefresh.Local().Format(time.TimeOnly)
	}
	fmt.Fprintf(&b, "%s\n\n", m.styles.muted.Render(polling+" | last refresh "+refreshed))

	ids := make([]string, 0, len(st.Sources))
	for id := range st.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString(m.sourceLine(id, st.Sources[id]))
		b.WriteByte('\n')
	}

	if len(st.Notifications) > 0 {
		lines := make([]string, 0, len(st.Notifications))
		for _, n := range st.Notifications {
			lines = append(lines, n.Message)
		}
		b.WriteByte('\n')
		b.WriteString(m.styles.notice.Render(strings.Join(lines, "\n")))
		b.WriteByte('\n')
	}

	if m.status != "" {
		fmt.Fprintf(&b, "\n%s\n", m.status)
	}
	b.WriteString(m.styles.muted.Render("\nr refresh  p polling  d dismiss  q quit"))
	b.WriteByte('\n')
	return b.String()
}

func (m watchModel) sourceLine(id string, src status.SourceStatus) string {
	name := id
	if src.Required {
		name += "*"
	}
	switch {
	case src.ConsecutiveFailures > 0:
		return fmt.Sprintf("  %-24s %s", name,
			m.styles.failure.Render(fmt.Sprintf("failing (%dx) %s", src.ConsecutiveFailures, src.LastError)))
	case src.LastSuccess != nil:
		return fmt.Sprintf("  %-24s ok at %s", name, src.LastSuccess.Local().Format(time.TimeOnly))
	default:
		return fmt.Sprintf("  %-24s %s", name, m.styles.muted.Render("seed"))
	}
}
