// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
	"github.com/feedfuse/feedfuse/pkg/health"
)

// watchPollInterval is how often the dashboard refreshes.
const watchPollInterval = 2 * time.Second

// --- lipgloss styles ---

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	watchHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchHealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	watchDegradeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	watchBadStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	watchDimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	watchBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// --- bubbletea messages ---

// watchSnapshot is one full poll of the ops API.
type watchSnapshot struct {
	ServiceStatus  string
	MonitorRunning bool
	Providers      map[string]health.ProviderHealth
	Rankings       []health.RankedProvider
	Alerts         []health.Alert
}

type (
	watchSnapshotMsg struct {
		snap watchSnapshot
		err  error
	}
	watchTickMsg time.Time
)

// watchModel is the bubbletea model for the live dashboard.
type watchModel struct {
	address     string
	spinner     spinner.Model
	snap        watchSnapshot
	err         error
	gotFirst    bool
	lastUpdated time.Time
}

func newWatchModel(address string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return watchModel{
		address: address,
		spinner: sp,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchSnapshotCmd(m.address))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, fetchSnapshotCmd(m.address)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case watchSnapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.gotFirst = true
		}
		m.lastUpdated = time.Now()
		return m, watchTickCmd()

	case watchTickMsg:
		return m, fetchSnapshotCmd(m.address)
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchTitleStyle.Render("  Feedfuse Dashboard  ") + "\n\n")

	if !m.gotFirst {
		if m.err != nil {
			b.WriteString(watchBadStyle.Render("cannot reach daemon: "+m.err.Error()) + "\n")
			b.WriteString(watchDimStyle.Render("retrying every " + watchPollInterval.String()))
		} else {
			b.WriteString(m.spinner.View() + " Connecting to " + m.address + "…")
		}
		b.WriteString("\n\n" + watchDimStyle.Render("r to refresh  q to quit"))
		return watchBoxStyle.Render(b.String())
	}

	status := watchHealthyStyle.Render(m.snap.ServiceStatus)
	if !m.snap.MonitorRunning {
		status = watchDegradeStyle.Render(m.snap.ServiceStatus + " (monitor stopped)")
	}
	b.WriteString(fmt.Sprintf("Daemon %s at %s\n\n", status, m.address))

	b.WriteString(m.renderProviders())
	b.WriteString(m.renderRankings())
	b.WriteString(m.renderAlerts())

	if m.err != nil {
		b.WriteString("\n" + watchBadStyle.Render("last poll failed: "+m.err.Error()) + "\n")
	}
	b.WriteString("\n" + watchDimStyle.Render(fmt.Sprintf("updated %s  r to refresh  q to quit",
		m.lastUpdated.Format("15:04:05"))))

	return watchBoxStyle.Render(b.String())
}

func (m watchModel) renderProviders() string {
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Providers") + "\n")
	if len(m.snap.Providers) == 0 {
		b.WriteString(watchDimStyle.Render("  none registered") + "\n\n")
		return b.String()
	}

	names := make([]string, 0, len(m.snap.Providers))
	for name := range m.snap.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString(watchDimStyle.Render(fmt.Sprintf("  %-18s %-9s %-9s %-10s %s",
		"NAME", "STATE", "BREAKER", "FAIL RATE", "LATENCY")) + "\n")
	for _, name := range names {
		h := m.snap.Providers[name]
		state, style := "healthy", watchHealthyStyle
		if !h.IsHealthy {
			state, style = "unhealthy", watchBadStyle
		}
		line := fmt.Sprintf("  %-18s %s %-9s %-10.2f %.1fms",
			name, style.Render(fmt.Sprintf("%-9s", state)), h.Breaker.State, h.FailureRate, h.AvgResponseTimeMS)
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) renderRankings() string {
	if len(m.snap.Rankings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Rankings") + "\n")
	for i, r := range m.snap.Rankings {
		b.WriteString(fmt.Sprintf("  %d. %-18s score %.2f\n", i+1, r.Provider, r.Score))
	}
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) renderAlerts() string {
	var b strings.Builder
	b.WriteString(watchHeaderStyle.Render("Active Alerts") + "\n")
	if len(m.snap.Alerts) == 0 {
		b.WriteString(watchHealthyStyle.Render("  none") + "\n")
		return b.String()
	}
	for _, a := range m.snap.Alerts {
		style := watchDimStyle
		switch a.Level {
		case health.AlertWarning:
			style = watchDegradeStyle
		case health.AlertCritical, health.AlertEmergency:
			style = watchBadStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  [%s] %s: %s (x%d)",
			a.Level, a.Source, a.Message, a.OccurrenceCount)) + "\n")
	}
	return b.String()
}

// --- tea.Cmd factories ---

func watchTickCmd() tea.Cmd {
	return tea.Tick(watchPollInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func fetchSnapshotCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		client := newOpsClient(addr)
		var snap watchSnapshot

		var svc struct {
			Status         string `json:"status"`
			MonitorRunning bool   `json:"monitor_running"`
		}
		if err := client.getJSON("/api/v1/health", &svc); err != nil {
			return watchSnapshotMsg{err: err}
		}
		snap.ServiceStatus = svc.Status
		snap.MonitorRunning = svc.MonitorRunning

		var ph struct {
			Providers map[string]health.ProviderHealth `json:"providers"`
		}
		if err := client.getJSON("/api/v1/providers/health", &ph); err != nil {
			return watchSnapshotMsg{err: err}
		}
		snap.Providers = ph.Providers

		var rk struct {
			Rankings []health.RankedProvider `json:"rankings"`
		}
		if err := client.getJSON("/api/v1/providers/rankings", &rk); err != nil {
			return watchSnapshotMsg{err: err}
		}
		snap.Rankings = rk.Rankings

		var al struct {
			Alerts []health.Alert `json:"alerts"`
		}
		if err := client.getJSON("/api/v1/alerts", &al); err != nil {
			return watchSnapshotMsg{err: err}
		}
		snap.Alerts = al.Alerts

		return watchSnapshotMsg{snap: snap}
	}
}

// --- Cobra command ---

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard of provider health and alerts",
		Long:  "Poll the running daemon's ops API and render provider health, rankings, and active alerts in a terminal dashboard.",
		RunE:  runWatch,
	}

	cmd.Flags().String("address", defaultOpsAddr, "ops API address to poll")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")

	p := tea.NewProgram(newWatchModel(addr), tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return fferr.Wrap(err, fferr.CodeCLISetupFailure, "watch dashboard error")
	}

	if fm, ok := finalModel.(watchModel); ok && fm.err != nil && !fm.gotFirst {
		return fm.err
	}
	return nil
}
