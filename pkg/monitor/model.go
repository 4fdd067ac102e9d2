package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"brainlink/pkg/protocol"
	"brainlink/pkg/transport"
)

const (
	barWidth            = 30
	defaultStatsRefresh = time.Second
)

// ReadingMsg delivers one hub reading to the model.
type ReadingMsg protocol.Reading

// LinkMsg reports a transport state change.
type LinkMsg transport.ConnectionState

type statsTickMsg time.Time

// Model is the terminal dashboard. It keeps the newest value of every reading
// kind and redraws on each message.
type Model struct {
	name  string
	stats func() protocol.Stats
	every time.Duration
	now   func() time.Time

	link      transport.ConnectionState
	cognitive *protocol.CognitiveState
	telemetry *protocol.ExtendedTelemetry
	gyro      *protocol.Gyro
	rr        *protocol.RR
	raw       int16
	rawCount  uint64
	counters  protocol.Stats
	updated   time.Time
	width     int
	quitting  bool
}

type Option func(*Model)

// WithStats polls fn every interval for the decoder counters line.
func WithStats(fn func() protocol.Stats, interval time.Duration) Option {
	return func(m *Model) {
		m.stats = fn
		if interval > 0 {
			m.every = interval
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

func NewModel(name string, opts ...Option) Model {
	m := Model{
		name:  name,
		every: defaultStatsRefresh,
		now:   time.Now,
		link:  transport.StateDisconnected,
		width: 80,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.stats == nil {
		return nil
	}
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg {
		return statsTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case LinkMsg:
		m.link = transport.ConnectionState(msg)
	case ReadingMsg:
		m.apply(protocol.Reading(msg))
	case statsTickMsg:
		if m.stats != nil {
			m.counters = m.stats()
			return m, m.tick()
		}
	}
	return m, nil
}

func (m *Model) apply(r protocol.Reading) {
	m.updated = r.Timestamp
	if m.updated.IsZero() {
		m.updated = m.now()
	}
	switch data := r.Data.(type) {
	case protocol.CognitiveState:
		m.cognitive = &data
	case protocol.ExtendedTelemetry:
		m.telemetry = &data
	case protocol.Gyro:
		m.gyro = &data
	case protocol.RR:
		m.rr = &data
	case protocol.RawSample:
		m.raw = int16(data)
		m.rawCount++
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	fmt.Fprintf(&b, "%s  link: %s", m.name, m.link)
	if !m.updated.IsZero() {
		fmt.Fprintf(&b, "  last: %s", m.updated.Format("15:04:05"))
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", min(m.width, 60)))
	b.WriteString("\n")

	m.viewCognitive(&b)
	b.WriteString("\n")
	m.viewTelemetry(&b)

	if m.stats != nil {
		c := m.counters
		fmt.Fprintf(&b, "\nframes %d  bytes %d  checksum %d  discarded %d  unknown %d\n",
			c.Frames, c.BytesIn, c.ChecksumErrors, c.Discarded, c.UnknownFields)
	}
	b.WriteString("\nq to quit\n")
	return b.String()
}

func (m Model) viewCognitive(b *strings.Builder) {
	if m.cognitive == nil {
		b.WriteString("waiting for headset state...\n")
		return
	}
	s := m.cognitive
	fmt.Fprintf(b, "signal      %3d %s\n", s.Signal, signalLabel(s.Signal))
	fmt.Fprintf(b, "attention   %3d %s\n", s.Attention, bar(int(s.Attention), 100, barWidth))
	fmt.Fprintf(b, "meditation  %3d %s\n", s.Meditation, bar(int(s.Meditation), 100, barWidth))

	bands := []struct {
		name  string
		value uint32
	}{
		{"delta", s.Delta},
		{"theta", s.Theta},
		{"low alpha", s.LowAlpha},
		{"high alpha", s.HighAlpha},
		{"low beta", s.LowBeta},
		{"high beta", s.HighBeta},
		{"low gamma", s.LowGamma},
		{"high gamma", s.HighGamma},
	}
	var peak uint32
	for _, band := range bands {
		peak = max(peak, band.value)
	}
	b.WriteString("\n")
	for _, band := range bands {
		fmt.Fprintf(b, "%-11s %8d %s\n", band.name, band.value, bar(int(band.value), int(peak), barWidth))
	}
}

func (m Model) viewTelemetry(b *strings.Builder) {
	var fields []string
	if t := m.telemetry; t != nil {
		if t.Battery != nil {
			fields = append(fields, fmt.Sprintf("battery %d%%", *t.Battery))
		}
		if t.Temperature != nil {
			fields = append(fields, fmt.Sprintf("temp %.1fC", *t.Temperature))
		}
		if t.Heart != nil {
			fields = append(fields, fmt.Sprintf("heart %dbpm", *t.Heart))
		}
		if t.Version != nil {
			fields = append(fields, "version "+*t.Version)
		}
		if len(t.Unknown) > 0 {
			codes := make([]string, 0, len(t.Unknown))
			for code := range t.Unknown {
				codes = append(codes, fmt.Sprintf("0x%02X", code))
			}
			sort.Strings(codes)
			fields = append(fields, "unknown "+strings.Join(codes, ","))
		}
	}
	if m.gyro != nil {
		fields = append(fields, fmt.Sprintf("gyro %d/%d/%d", m.gyro.X, m.gyro.Y, m.gyro.Z))
	}
	if m.rr != nil {
		fields = append(fields, fmt.Sprintf("rr %d/%d/%d", m.rr[0], m.rr[1], m.rr[2]))
	}
	if m.rawCount > 0 {
		fields = append(fields, fmt.Sprintf("raw %d (%d samples)", m.raw, m.rawCount))
	}
	if len(fields) == 0 {
		b.WriteString("no telemetry\n")
		return
	}
	b.WriteString(strings.Join(fields, "  "))
	b.WriteString("\n")
}

func bar(value, total, width int) string {
	filled := 0
	if total > 0 && value > 0 {
		filled = value * width / total
		filled = min(max(filled, 1), width)
	}
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

// signalLabel follows the headset convention: 0 is good contact, 200 is off head.
func signalLabel(v uint8) string {
	switch {
	case v == 0:
		return "good"
	case v >= 200:
		return "no contact"
	default:
		return "poor"
	}
}
