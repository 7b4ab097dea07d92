// Package tracker holds the song model read from tracker projects: groups
// (instruments) of phrases, each phrase a grid of lines by note columns.
package tracker

import (
	"fmt"
	"strconv"
	"strings"
)

// Off is the pitch of a note-off cell.
const Off = -1

// DefaultVelocity is used for cells without a volume.
const DefaultVelocity = 80

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Cell is one note column entry. Duration is in lines and is derived from
// the next cell of the same column.
type Cell struct {
	Pitch    int
	Velocity int
	Duration int
}

// Note is a sounding cell placed on its line.
type Note struct {
	Line     int
	Pitch    int
	Velocity int
	Duration int
}

type Phrase struct {
	Name         string
	LinesPerBeat int
	Lines        int
	// Rows is indexed by line then column; nil cells are empty.
	Rows [][]*Cell
}

// NewPhrase lays cells out over lines rows, padding every row to the widest
// one, and derives the durations. Cells on lines outside the phrase are
// dropped.
func NewPhrase(name string, lines, linesPerBeat int, cells map[int][]*Cell) *Phrase {
	p := &Phrase{Name: name, LinesPerBeat: linesPerBeat, Lines: lines}
	if lines <= 0 {
		return p
	}
	columns := 0
	for line, row := range cells {
		if line >= 0 && line < lines && len(row) > columns {
			columns = len(row)
		}
	}
	p.Rows = make([][]*Cell, lines)
	for line := range p.Rows {
		p.Rows[line] = make([]*Cell, columns)
		copy(p.Rows[line], cells[line])
	}
	p.calculateDurations()
	return p
}

// calculateDurations lets every cell last until the next cell of its
// column, the last one until the end of the phrase.
func (p *Phrase) calculateDurations() {
	if len(p.Rows) == 0 {
		return
	}
	for col := range p.Rows[0] {
		var last *Cell
		lastLine := 0
		for line, row := range p.Rows {
			cell := row[col]
			if cell == nil {
				continue
			}
			if last != nil {
				last.Duration = line - lastLine
			}
			last, lastLine = cell, line
		}
		if last != nil {
			last.Duration = p.Lines - lastLine
		}
	}
}

// Notes lists the sounding cells in line order, columns left to right.
// Note-offs only shorten the note before them and are not listed.
func (p *Phrase) Notes() []Note {
	var out []Note
	for line, row := range p.Rows {
		for _, c := range row {
			if c == nil || c.Pitch == Off {
				continue
			}
			out = append(out, Note{Line: line, Pitch: c.Pitch, Velocity: c.Velocity, Duration: c.Duration})
		}
	}
	return out
}

// Group is a tracker instrument and its phrases. A name starting with '*'
// marks a phrase meant to be played transposed from a keyboard.
type Group struct {
	Name    string
	Phrases []*Phrase
}

func (g *Group) Transposable() bool { return strings.HasPrefix(g.Name, "*") }

type Project struct {
	Title        string
	Artist       string
	Tempo        float64
	LinesPerBeat int
	Groups       []*Group
}

// Sequences counts the phrases of the groups that are not transposable.
func (p *Project) Sequences() int {
	n := 0
	for _, g := range p.Groups {
		if !g.Transposable() {
			n += len(g.Phrases)
		}
	}
	return n
}

// HasTransposable reports whether any group is transposable.
func (p *Project) HasTransposable() bool {
	for _, g := range p.Groups {
		if g.Transposable() {
			return true
		}
	}
	return false
}

// NoteName formats a pitch the way trackers do: "C-4", "F#2", "OFF".
// Pitches below 12 read as empty.
func NoteName(pitch int) string {
	switch {
	case pitch == Off:
		return "OFF"
	case pitch < 12:
		return "---"
	}
	name := noteNames[pitch%12]
	sep := "-"
	if strings.HasSuffix(name, "#") {
		sep = ""
	}
	return fmt.Sprintf("%s%s%d", name, sep, pitch/12)
}

// ParseNote reads a note written by NoteName. "C-4" is 48.
func ParseNote(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "OFF" {
		return Off, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("note %q", s)
	}
	octave, err := strconv.Atoi(s[len(s)-1:])
	if err != nil {
		return 0, fmt.Errorf("note %q: octave", s)
	}
	name := strings.TrimRight(s[:len(s)-1], "-")
	for i, n := range noteNames {
		if n == name {
			return octave*12 + i, nil
		}
	}
	return 0, fmt.Errorf("note %q: name", s)
}
