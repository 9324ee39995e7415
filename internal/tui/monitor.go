// Package tui implements the hearth watch monitor: a terminal view of the
// running board fed by the ops API's event stream and snapshot endpoints.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hearthboard/hearth/internal/events"
	"github.com/hearthboard/hearth/internal/runtime"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

type Model struct {
	apiURL string

	width  int
	height int

	instances []runtime.Info
	eventLog  []events.Event
	hubEvents chan events.Event

	health struct {
		Status        string
		UptimeSeconds int64
		Instances     int
		WidgetsLoaded int
	}

	instanceTable table.Model
}

type eventMsg events.Event
type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Instances     int    `json:"instances"`
	WidgetsLoaded int    `json:"widgets_loaded"`
}
type instancesMsg []runtime.Info
type errMsg error

// --- Init ---

func NewMonitor(apiURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Instance", Width: 18},
			{Title: "Widget", Width: 14},
			{Title: "Mode", Width: 10},
			{Title: "Last Update", Width: 12},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:        apiURL,
		eventLog:      make([]events.Event, 0),
		hubEvents:     make(chan events.Event, 100),
		instanceTable: t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.pollHealth(),
		m.pollInstances(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.pollInstances()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.instanceTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, tea.Batch(m.receiveNextEvent(), m.pollInstances())

	case instancesMsg:
		m.instances = msg
		m.updateTable()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Instances = msg.Instances
		m.health.WidgetsLoaded = msg.WidgetsLoaded
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})
	}

	m.instanceTable, cmd = m.instanceTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}
}

func (m *Model) updateTable() {
	rows := make([]table.Row, 0, len(m.instances))
	for _, inst := range m.instances {
		statusSym := statusIdle.Render("○")
		switch inst.State {
		case "started":
			statusSym = statusRunning.Render("◉")
		case "initialized", "stopped":
			statusSym = statusOK.Render("●")
		case "error", "disposed":
			statusSym = statusFailed.Render("∅")
		}

		last := "-"
		if !inst.LastUpdate.IsZero() {
			last = inst.LastUpdate.Format("15:04:05")
		}

		id := inst.ID
		if len(id) > 18 {
			id = id[:18]
		}

		rows = append(rows, table.Row{
			statusSym,
			id,
			inst.WidgetID,
			string(inst.Execution),
			last,
		})
	}
	m.instanceTable.SetRows(rows)
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	instancesView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Instances"),
			m.instanceTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [r] Refresh • [↑/↓] Scroll")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			instancesView,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Instances: %d", m.health.Instances),
		fmt.Sprintf("Widgets: %d", m.health.WidgetsLoaded),
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[0]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[1]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[2]),
			lipgloss.NewStyle().Width((m.width-4)/4).Render(items[3]),
		),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-25s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, _ := http.NewRequest("GET", m.apiURL+"/events", nil)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if current.data != "" {
					m.hubEvents <- events.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current.id, current.typ, current.data = 0, "", ""
				}
				continue
			}
			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			case strings.HasPrefix(line, "event: "):
				current.typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.data = line[6:]
			}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(m.apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

func (m Model) pollInstances() tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(m.apiURL + "/instances")
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		var list []runtime.Info
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return errMsg(err)
		}
		return instancesMsg(list)
	}
}
