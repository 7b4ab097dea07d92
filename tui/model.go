package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-stepseq/sequencer"
	"go-stepseq/theme"
	"go-stepseq/transport"
	"go-stepseq/widgets"
)

const tempoStep = 1.0

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	PrevBank  key.Binding
	NextBank  key.Binding
	Toggle    key.Binding
	Mode      key.Binding
	StopAll   key.Binding
	Transport key.Binding
	Faster    key.Binding
	Slower    key.Binding
	Metronome key.Binding
	Clock     key.Binding
	Learn     key.Binding
	Overview  key.Binding
	Save      key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Transport, k.StopAll, k.Learn, k.Save, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PrevBank, k.NextBank},
		{k.Toggle, k.Mode, k.StopAll, k.Learn},
		{k.Transport, k.Faster, k.Slower, k.Metronome, k.Clock},
		{k.Overview, k.Save, k.Help, k.Quit},
	}
}

func defaultKeys() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		PrevBank:  key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev bank")),
		NextBank:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next bank")),
		Toggle:    key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "play/stop")),
		Mode:      key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "play mode")),
		StopAll:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop all")),
		Transport: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "transport")),
		Faster:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "tempo up")),
		Slower:    key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "tempo down")),
		Metronome: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "metronome")),
		Clock:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clock source")),
		Learn:     key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "learn trigger")),
		Overview:  key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "all banks")),
		Save:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type Model struct {
	Engine  *sequencer.Engine
	Manager *sequencer.Manager // nil when nothing drives the clock
	Theme   *theme.Theme
	Project string

	keys     keyMap
	help     help.Model
	bank     uint8
	cursor   int
	status   string
	learned  chan LearnedMsg
	overview bool
	quitting bool
}

type UpdateMsg struct{}

// LearnedMsg reports a trigger note bound by MIDI learn.
type LearnedMsg struct {
	Bank, Sequence, Note uint8
}

func NewModel(e *sequencer.Engine, manager *sequencer.Manager, th *theme.Theme, project string) Model {
	bank := uint8(1)
	if banks := e.Banks(); len(banks) > 0 {
		bank = banks[0]
	}
	return Model{
		Engine:  e,
		Manager: manager,
		Theme:   th,
		Project: project,
		keys:    defaultKeys(),
		help:    help.New(),
		bank:    bank,
		learned: make(chan LearnedMsg, 1),
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

func listenForLearn(ch <-chan LearnedMsg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForLearn(m.learned)}
	if m.Manager != nil {
		cmds = append(cmds, ListenForUpdates(m.Manager))
	}
	return tea.Batch(cmds...)
}

// Bank and Cursor return the selected slot.
func (m Model) Bank() uint8 { return m.bank }

func (m Model) Cursor() int { return m.cursor }

func (m Model) Status() string { return m.status }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case UpdateMsg:
		if m.Manager != nil {
			return m, ListenForUpdates(m.Manager)
		}

	case LearnedMsg:
		m.status = fmt.Sprintf("bank %d seq %d triggered by note %d", msg.Bank, msg.Sequence+1, msg.Note)
		return m, listenForLearn(m.learned)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	e := m.Engine
	tr := e.Transport()
	n := e.SequencesInBank(m.bank)

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < n-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.PrevBank):
		m.moveBank(-1)

	case key.Matches(msg, m.keys.NextBank):
		m.moveBank(1)

	case key.Matches(msg, m.keys.Toggle):
		e.TogglePlayState(m.bank, m.cursor)

	case key.Matches(msg, m.keys.Mode):
		if s := e.Sequence(m.bank, m.cursor); s != nil {
			s.SetPlayMode((s.PlayMode() + 1) % (sequencer.LoopAll + 1))
		}

	case key.Matches(msg, m.keys.StopAll):
		e.StopAll()

	case key.Matches(msg, m.keys.Transport):
		tr.Toggle(e.Options().Client)

	case key.Matches(msg, m.keys.Faster):
		tr.SetTempo(tr.Tempo() + tempoStep)

	case key.Matches(msg, m.keys.Slower):
		tr.SetTempo(tr.Tempo() - tempoStep)

	case key.Matches(msg, m.keys.Metronome):
		tr.EnableMetronome(!tr.MetronomeEnabled())

	case key.Matches(msg, m.keys.Clock):
		next := transport.ClockInternal
		if tr.ClockSource() == transport.ClockInternal {
			next = transport.ClockMIDI
		}
		tr.SetClockSource(next)
		m.status = "clock: " + next.String()

	case key.Matches(msg, m.keys.Learn):
		ch := m.learned
		ok := e.EnableMidiLearn(m.bank, uint8(m.cursor), sequencer.LearnFunc(func(bank, seq, note uint8) {
			select {
			case ch <- LearnedMsg{bank, seq, note}:
			default:
			}
		}))
		if ok {
			m.status = fmt.Sprintf("learn: play a note on channel %d", e.TriggerChannel()+1)
		}

	case key.Matches(msg, m.keys.Overview):
		m.overview = !m.overview

	case key.Matches(msg, m.keys.Save):
		name, err := sequencer.SaveProject(e, m.Project, "")
		if err != nil {
			m.status = "save failed: " + err.Error()
		} else {
			m.status = "saved " + name
		}

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) moveBank(delta int) {
	banks := m.Engine.Banks()
	for i, b := range banks {
		if b != m.bank {
			continue
		}
		if j := i + delta; j >= 0 && j < len(banks) {
			m.bank = banks[j]
			m.cursor = 0
		}
		return
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	e := m.Engine
	tr := e.Transport()

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	cursorStyle := lipgloss.NewStyle().Foreground(m.Theme.Cursor())

	roll := "STOP"
	if tr.IsRolling() {
		roll = "PLAY"
	}
	pos := tr.Position()
	flags := ""
	if e.IsModified() {
		flags += " *"
	}
	if tr.MetronomeEnabled() {
		flags += " click"
	}
	header := headerStyle.Render(fmt.Sprintf("go-stepseq  %s  %5.1fbpm  %d/4  %3d.%d.%02d  bank %d  %s%s",
		roll, tr.Tempo(), tr.BeatsPerBar(), pos.Bar, pos.Beat, pos.Tick, m.bank, tr.ClockSource(), flags))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")

	b := e.Bank(m.bank)
	if b == nil || b.Len() == 0 {
		out.WriteString(dimStyle.Render("  empty bank"))
		out.WriteString("\n")
	} else {
		for i, s := range b.Sequences() {
			out.WriteString(m.row(i, s, cursorStyle, dimStyle))
			out.WriteString("\n")
		}
	}

	if m.overview {
		out.WriteString("\n")
		out.WriteString(m.overviewView())
		out.WriteString("\n")
	}

	out.WriteString("\n")
	if m.status != "" {
		out.WriteString(dimStyle.Render(m.status))
		out.WriteString("\n")
	}
	out.WriteString(m.help.View(m.keys))
	return out.String()
}

const barWidth = 16

func (m Model) row(i int, s *sequencer.Sequence, cursorStyle, dimStyle lipgloss.Style) string {
	st := s.PlayState()
	glyph := string(m.Theme.Symbols.Empty)
	if !s.IsEmpty() || st != sequencer.Stopped {
		glyph = string(m.Theme.StateGlyph(st))
	}
	state := lipgloss.NewStyle().Foreground(m.Theme.StateColor(st)).Render(glyph)

	cur := " "
	if i == m.cursor {
		cur = cursorStyle.Render(string(m.Theme.Symbols.Cursor))
	}

	name := s.Name()
	if name == "" {
		name = fmt.Sprintf("seq %d", i+1)
	}

	bar := strings.Repeat("-", barWidth)
	if length := s.Length(); length > 0 && st != sequencer.Stopped {
		filled := int(uint64(s.Position()) * barWidth / uint64(length))
		if filled > barWidth {
			filled = barWidth
		}
		bar = strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
	}

	trigger := "   "
	if note := s.TriggerNote(); note != sequencer.NoTrigger {
		trigger = fmt.Sprintf("%3d", note)
	}
	group := " "
	if g := s.Group(); g != sequencer.NoGroup {
		group = fmt.Sprintf("%d", g)
	}

	return fmt.Sprintf("%s %2d %s %-16s %s %-11s %s %s",
		cur, i+1, state, truncate(name, 16), dimStyle.Render(group), s.PlayMode(), bar, dimStyle.Render(trigger))
}

// overviewView shows every bank as a column of state glyphs.
func (m Model) overviewView() string {
	e := m.Engine
	banks := e.Banks()
	labels := make([]string, len(banks))
	depth := 0
	for i, b := range banks {
		labels[i] = fmt.Sprintf("%d", b)
		if n := e.SequencesInBank(b); n > depth {
			depth = n
		}
	}
	rows := make([][]widgets.Cell, depth)
	for r := range rows {
		rows[r] = make([]widgets.Cell, len(banks))
		for c, b := range banks {
			s := e.Sequence(b, r)
			switch {
			case s == nil:
			case s.IsEmpty() && s.PlayState() == sequencer.Stopped:
				rows[r][c] = widgets.Cell{Color: m.Theme.Muted(), Glyph: m.Theme.Symbols.Empty}
			default:
				st := s.PlayState()
				rows[r][c] = widgets.Cell{Color: m.Theme.StateColor(st), Glyph: m.Theme.StateGlyph(st)}
			}
		}
	}

	var legend []string
	for _, st := range []sequencer.PlayState{sequencer.Stopped, sequencer.Starting, sequencer.Playing, sequencer.Stopping} {
		legend = append(legend, widgets.RenderLegendItem(widgets.Cell{Color: m.Theme.StateColor(st), Glyph: m.Theme.StateGlyph(st)}, st.String()))
	}
	return widgets.RenderPadGrid(labels, rows) + "\n\n" + strings.Join(legend, "  ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
