package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"posecam-go/internal/types"
	"posecam-go/internal/wireframe"
)

// Messages delivered from the websocket reader.
type (
	configMsg  types.ConfigMessage
	overlayMsg types.OverlayMessage
	linkMsg    struct {
		connected bool
		err       error
	}
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
)

type model struct {
	url    string
	events <-chan tea.Msg

	width, height int
	connected     bool
	lastErr       error

	config   types.ConfigMessage
	overlay  types.OverlayMessage
	received uint64

	lineStyle  lipgloss.Style
	pointStyle lipgloss.Style
}

func newModel(url string, events <-chan tea.Msg) model {
	m := model{url: url, events: events, width: 80, height: 24}
	m.applyStyle(wireframe.DefaultStyle())
	return m
}

func (m *model) applyStyle(style wireframe.Style) {
	m.lineStyle = lipgloss.NewStyle().Foreground(termColor(style.LineColor))
	m.pointStyle = lipgloss.NewStyle().Foreground(termColor(style.PointColor)).Bold(true)
}

// termColor drops the alpha byte of #RRGGBBAA colors.
func termColor(value string) lipgloss.Color {
	value = strings.TrimSpace(value)
	if len(value) == 9 && strings.HasPrefix(value, "#") {
		value = value[:7]
	}
	return lipgloss.Color(value)
}

func (m model) Init() tea.Cmd {
	return listen(m.events)
}

func listen(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case configMsg:
		m.config = types.ConfigMessage(msg)
		m.applyStyle(m.config.Style)
		return m, listen(m.events)
	case overlayMsg:
		m.overlay = types.OverlayMessage(msg)
		m.received++
		return m, listen(m.events)
	case linkMsg:
		m.connected = msg.connected
		m.lastErr = msg.err
		return m, listen(m.events)
	}
	return m, nil
}

func (m model) View() string {
	var status string
	switch {
	case m.connected:
		status = "connected"
	case m.lastErr != nil:
		status = badStyle.Render("disconnected: " + m.lastErr.Error())
	default:
		status = "connecting"
	}
	header := headerStyle.Render("posecam") + " " + faintStyle.Render(m.url) + "  " + status
	info := fmt.Sprintf("frame v%d  score %.2f  valid %v  points %d  segments %d  updates %d",
		m.overlay.Version, m.overlay.Score, m.overlay.Valid,
		len(m.overlay.Points), len(m.overlay.Segments), m.received)

	g := newGrid(m.width, m.height-3)
	list := m.overlay.DrawList
	g.plot(&list)
	footer := faintStyle.Render("q to quit")
	return header + "\n" + info + "\n" + g.render(m.lineStyle, m.pointStyle) + "\n" + footer
}
