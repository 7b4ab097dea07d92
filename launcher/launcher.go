// Package launcher turns a pad grid into a clip launcher: columns are banks,
// rows are sequences, the side column launches scenes and the top row holds
// paging and transport buttons.
package launcher

import (
	"context"
	"time"

	"go-stepseq/debug"
	"go-stepseq/midi"
	"go-stepseq/sequencer"
	"go-stepseq/theme"
)

const refreshRate = time.Second / 30

// top row buttons
const (
	buttonPageLeft  = 0
	buttonPageRight = 1
	buttonTransport = 6
	buttonStopAll   = 7
)

type pad struct{ row, col int }

type Launcher struct {
	engine *sequencer.Engine
	grid   midi.Grid
	theme  *theme.Theme
	page   int

	last map[pad]midi.LEDUpdate
}

func New(e *sequencer.Engine, grid midi.Grid, th *theme.Theme) *Launcher {
	return &Launcher{
		engine: e,
		grid:   grid,
		theme:  th,
		last:   make(map[pad]midi.LEDUpdate),
	}
}

// Page is the index into Engine.Banks of the leftmost column.
func (l *Launcher) Page() int { return l.page }

// slot maps a grid pad to a bank and sequence. The top grid row is
// sequence 0.
func (l *Launcher) slot(banks []uint8, row, col int) (uint8, int, bool) {
	i := l.page + col
	if i >= len(banks) || row < 0 || row >= midi.GridRows || col < 0 || col >= midi.GridCols {
		return 0, 0, false
	}
	return banks[i], midi.GridRows - 1 - row, true
}

// HandlePad applies one press.
func (l *Launcher) HandlePad(ev midi.PadEvent) {
	e := l.engine
	banks := e.Banks()
	switch {
	case ev.Row == midi.GridRows:
		switch ev.Col {
		case buttonPageLeft:
			if l.page > 0 {
				l.page--
			}
		case buttonPageRight:
			if l.page+midi.GridCols < len(banks) {
				l.page++
			}
		case buttonTransport:
			e.Transport().Toggle(e.Options().Client)
		case buttonStopAll:
			e.StopAll()
		}

	case ev.Col == midi.GridCols:
		// scene: start this row in every visible bank
		for col := 0; col < midi.GridCols; col++ {
			if bank, seq, ok := l.slot(banks, ev.Row, col); ok && e.Sequence(bank, seq) != nil {
				e.SetPlayState(bank, seq, sequencer.Playing)
			}
		}

	default:
		if bank, seq, ok := l.slot(banks, ev.Row, ev.Col); ok {
			e.TogglePlayState(bank, seq)
		}
	}
	debug.Log("launcher", "pad %d,%d page=%d", ev.Row, ev.Col, l.page)
}

// frame computes the wanted light of every pad.
func (l *Launcher) frame() map[pad]midi.LEDUpdate {
	e := l.engine
	banks := e.Banks()
	out := make(map[pad]midi.LEDUpdate, (midi.GridRows+1)*(midi.GridCols+1))
	set := func(row, col int, color theme.RGB, channel uint8) {
		out[pad{row, col}] = midi.LEDUpdate{Row: row, Col: col, Color: color, Channel: channel}
	}

	rowActive := make([]bool, midi.GridRows)
	for row := 0; row < midi.GridRows; row++ {
		for col := 0; col < midi.GridCols; col++ {
			bank, seq, ok := l.slot(banks, row, col)
			var s *sequencer.Sequence
			if ok {
				s = e.Sequence(bank, seq)
			}
			switch {
			case s == nil:
				set(row, col, theme.RGB{}, midi.ChannelStatic)
			case s.IsEmpty() && s.PlayState() == sequencer.Stopped:
				set(row, col, l.theme.Palette.Lookup(theme.RoleBG), midi.ChannelStatic)
				rowActive[row] = true
			default:
				st := s.PlayState()
				channel := midi.ChannelStatic
				switch st {
				case sequencer.Playing:
					channel = midi.ChannelPulse
				case sequencer.Starting, sequencer.Stopping:
					channel = midi.ChannelFlash
				}
				set(row, col, l.theme.StateRGB(st), channel)
				rowActive[row] = true
			}
		}
		scene := theme.RGB{}
		if rowActive[row] {
			scene = l.theme.Palette.Lookup(theme.RoleAccent)
		}
		set(row, midi.GridCols, scene, midi.ChannelStatic)
	}

	for col := 0; col < midi.GridCols; col++ {
		set(midi.GridRows, col, theme.RGB{}, midi.ChannelStatic)
	}
	if l.page > 0 {
		set(midi.GridRows, buttonPageLeft, l.theme.Palette.Lookup(theme.RoleCursor), midi.ChannelStatic)
	}
	if l.page+midi.GridCols < len(banks) {
		set(midi.GridRows, buttonPageRight, l.theme.Palette.Lookup(theme.RoleCursor), midi.ChannelStatic)
	}
	if e.Transport().IsRolling() {
		set(midi.GridRows, buttonTransport, l.theme.Palette.Lookup(theme.RoleSuccess), midi.ChannelStatic)
	} else {
		set(midi.GridRows, buttonTransport, l.theme.Palette.Lookup(theme.RoleMuted), midi.ChannelStatic)
	}
	set(midi.GridRows, buttonStopAll, l.theme.Palette.Lookup(theme.RoleWarning), midi.ChannelStatic)
	return out
}

// Refresh sends the pads whose light changed since the last call.
func (l *Launcher) Refresh() error {
	var updates []midi.LEDUpdate
	for p, u := range l.frame() {
		if prev, ok := l.last[p]; ok && prev == u {
			continue
		}
		updates = append(updates, u)
	}
	if len(updates) == 0 {
		return nil
	}
	if err := l.grid.SetLEDBatch(updates); err != nil {
		// resend everything next time
		l.last = make(map[pad]midi.LEDUpdate)
		return err
	}
	for _, u := range updates {
		l.last[pad{u.Row, u.Col}] = u
	}
	return nil
}

// Run handles presses and refreshes lights until ctx is done or the grid
// closes its event channel.
func (l *Launcher) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.grid.PadEvents():
			if !ok {
				return
			}
			l.HandlePad(ev)
			if err := l.Refresh(); err != nil {
				debug.LogEvery(100, "launcher", "refresh: %v", err)
			}
		case <-ticker.C:
			if err := l.Refresh(); err != nil {
				debug.LogEvery(100, "launcher", "refresh: %v", err)
			}
		}
	}
}
