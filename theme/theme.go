package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"go-stepseq/sequencer"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

// Symbols are the glyphs of the session grid.
type Symbols struct {
	Stopped  rune // ○ stopped
	Starting rune // ◔ waiting for the bar
	Playing  rune // ● playing
	Stopping rune // ◕ waiting for the step
	Empty    rune // · no notes
	Cursor   rune // ▸ selected slot
	Muted    rune // m muted track
	Solo     rune // s soloed track
}

// New builds a theme on palette. A nil palette uses DefaultPalette.
func New(palette *Palette) *Theme {
	if palette == nil {
		palette = DefaultPalette()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Stopped:  '○',
			Starting: '◔',
			Playing:  '●',
			Stopping: '◕',
			Empty:    '·',
			Cursor:   '▸',
			Muted:    'm',
			Solo:     's',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleMuted   = 0.2
	RoleFG      = 0.4
	RoleAccent  = 0.5
	RoleCursor  = 0.6
	RoleActive  = 0.7
	RoleWarning = 0.8
	RoleSuccess = 1.0
)

func (t *Theme) BG() lipgloss.Color { return t.Color(RoleBG) }

func (t *Theme) FG() lipgloss.Color { return t.Color(RoleFG) }

func (t *Theme) Accent() lipgloss.Color { return t.Color(RoleAccent) }

func (t *Theme) Muted() lipgloss.Color { return t.Color(RoleMuted) }

func (t *Theme) Active() lipgloss.Color { return t.Color(RoleActive) }

func (t *Theme) Cursor() lipgloss.Color { return t.Color(RoleCursor) }

func (t *Theme) Warning() lipgloss.Color { return t.Color(RoleWarning) }

func (t *Theme) Success() lipgloss.Color { return t.Color(RoleSuccess) }

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	c := t.Palette.Lookup(norm)
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}

func stateRole(st sequencer.PlayState) float64 {
	switch st {
	case sequencer.Playing:
		return RoleSuccess
	case sequencer.Starting:
		return RoleActive
	case sequencer.Stopping:
		return RoleWarning
	}
	return RoleMuted
}

// StateColor is the color of a sequence in play state st.
func (t *Theme) StateColor(st sequencer.PlayState) lipgloss.Color {
	return t.Color(stateRole(st))
}

// StateRGB is StateColor for pad lights.
func (t *Theme) StateRGB(st sequencer.PlayState) RGB {
	return t.Palette.Lookup(stateRole(st))
}

// StateGlyph is the grid glyph of a sequence in play state st.
func (t *Theme) StateGlyph(st sequencer.PlayState) rune {
	switch st {
	case sequencer.Playing:
		return t.Symbols.Playing
	case sequencer.Starting:
		return t.Symbols.Starting
	case sequencer.Stopping:
		return t.Symbols.Stopping
	}
	return t.Symbols.Stopped
}
