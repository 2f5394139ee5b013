// Package tui shows the progress of a running solve in the terminal.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/relicsim/internal/sim"
	"github.com/san-kum/relicsim/internal/viz"
)

const (
	barWidth   = 40
	sparkWidth = 40
	maxEvents  = 8
)

// SegmentMsg carries one finished integration segment.
type SegmentMsg sim.SegmentReport

// DoneMsg ends the run; Err is nil on success.
type DoneMsg struct{ Err error }

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the bubbletea model of the progress view.
type Model struct {
	title  string
	T0, TF float64
	cancel context.CancelFunc

	styles   viz.Styles
	theme    viz.Theme
	start    time.Time
	now      time.Time
	segments int
	T        float64
	steps    []float64
	events   []string
	done     bool
	err      error
	width    int
}

func NewModel(title string, T0, TF float64, theme viz.Theme, cancel context.CancelFunc) Model {
	now := time.Now()
	return Model{
		title:  title,
		T0:     T0,
		TF:     TF,
		cancel: cancel,
		styles: viz.NewStyles(theme),
		theme:  theme,
		start:  now,
		now:    now,
		T:      T0,
		width:  80,
	}
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.now = time.Time(msg)
		return m, tick()
	case SegmentMsg:
		m.segments++
		m.T = msg.TEnd
		m.steps = append(m.steps, float64(msg.Stats.Steps))
		if msg.Event != "" {
			m.events = append(m.events, fmt.Sprintf("%-12s %-10s T = %.3e GeV", msg.Event, msg.Species, msg.TEnd))
			if len(m.events) > maxEvents {
				m.events = m.events[len(m.events)-maxEvents:]
			}
		}
	case DoneMsg:
		m.done, m.err = true, msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// Fraction is the progress in e-folds of temperature, 0 at T0 and 1 at TF.
func (m Model) Fraction() float64 {
	if !(m.T > 0) || m.T0 <= m.TF {
		return 0
	}
	f := math.Log(m.T0/m.T) / math.Log(m.T0/m.TF)
	return math.Min(math.Max(f, 0), 1)
}

func (m Model) View() string {
	st := m.styles
	var b strings.Builder
	b.WriteString(viz.GradientText(m.title, m.theme.Primary, m.theme.Secondary))
	b.WriteString("\n")
	b.WriteString(st.Separator(min(m.width, 60)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "  %s %s %5.1f%%\n",
		st.MetricLabel.Render("progress"), st.ProgressBar(m.Fraction(), barWidth), 100*m.Fraction())
	fmt.Fprintf(&b, "  %s %s\n", st.MetricLabel.Render("T (GeV) "), st.MetricValue.Render(fmt.Sprintf("%.4e", m.T)))
	fmt.Fprintf(&b, "  %s %s\n", st.MetricLabel.Render("segments"), st.MetricValue.Render(fmt.Sprint(m.segments)))
	fmt.Fprintf(&b, "  %s %s\n", st.MetricLabel.Render("elapsed "), st.MetricValue.Render(m.now.Sub(m.start).Round(time.Millisecond).String()))
	fmt.Fprintf(&b, "  %s %s\n\n", st.MetricLabel.Render("steps   "), st.Sparkline(m.steps, sparkWidth))

	if len(m.events) > 0 {
		b.WriteString(st.Header.Render("events"))
		b.WriteString("\n")
		for _, e := range m.events {
			b.WriteString("  " + e + "\n")
		}
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString(st.Bad.Render("  failed: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString(st.Good.Render("  done") + "\n")
	default:
		b.WriteString(st.Subtle.Render("  q to abort") + "\n")
	}
	return b.String()
}

// Err returns the error the run finished with.
func (m Model) Err() error { return m.err }

// Run executes solve while showing the progress view. solve receives an
// observer to register with the simulator; quitting the view cancels ctx.
func Run(ctx context.Context, title string, T0, TF float64, theme viz.Theme, solve func(context.Context, sim.Observer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(title, T0, TF, theme, cancel))
	errc := make(chan error, 1)
	go func() {
		err := solve(ctx, sim.ObserverFunc(func(r sim.SegmentReport) { p.Send(SegmentMsg(r)) }))
		errc <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("progress view: %w", err)
	}
	cancel()
	return <-errc
}
