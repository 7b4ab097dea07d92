package tracker

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go-stepseq/debug"
)

// ErrNoSong is returned for archives without a Song.xml.
var ErrNoSong = errors.New("xrns: no Song.xml")

type xrnsSong struct {
	XMLName xml.Name `xml:"RenoiseSong"`
	Global  struct {
		BeatsPerMin  string `xml:"BeatsPerMin"`
		LinesPerBeat string `xml:"LinesPerBeat"`
		SongName     string `xml:"SongName"`
		Artist       string `xml:"Artist"`
	} `xml:"GlobalSongData"`
	Instruments []xrnsInstrument `xml:"Instruments>Instrument"`
}

type xrnsInstrument struct {
	Name    string       `xml:"Name"`
	Phrases []xrnsPhrase `xml:"PhraseGenerator>Phrases>Phrase"`
}

type xrnsPhrase struct {
	Name          string     `xml:"Name"`
	LinesPerBeat  string     `xml:"LinesPerBeat"`
	NumberOfLines string     `xml:"NumberOfLines"`
	Lines         []xrnsLine `xml:"Lines>Line"`
}

type xrnsLine struct {
	Index   string           `xml:"index,attr"`
	Columns []xrnsNoteColumn `xml:"NoteColumns>NoteColumn"`
}

type xrnsNoteColumn struct {
	Note   string `xml:"Note"`
	Volume string `xml:"Volume"`
}

// Open reads the song of a Renoise .xrns archive.
func Open(path string) (*Project, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "Song.xml" {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer r.Close()
		p, err := Parse(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if p.Title == "" {
			p.Title = strings.TrimSuffix(baseName(path), ".xrns")
		}
		return p, nil
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNoSong)
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Parse decodes a Song.xml document. Instruments without a name are
// skipped.
func Parse(r io.Reader) (*Project, error) {
	var song xrnsSong
	if err := xml.NewDecoder(r).Decode(&song); err != nil {
		return nil, fmt.Errorf("xrns: %w", err)
	}
	p := &Project{
		Title:        song.Global.SongName,
		Artist:       song.Global.Artist,
		LinesPerBeat: atoi(song.Global.LinesPerBeat, 4),
	}
	if bpm, err := strconv.ParseFloat(strings.TrimSpace(song.Global.BeatsPerMin), 64); err == nil {
		p.Tempo = bpm
	}
	for _, inst := range song.Instruments {
		if inst.Name == "" {
			continue
		}
		g := &Group{Name: inst.Name}
		for _, ph := range inst.Phrases {
			phrase, err := parsePhrase(ph, p.LinesPerBeat)
			if err != nil {
				return nil, fmt.Errorf("xrns: %s/%s: %w", inst.Name, ph.Name, err)
			}
			g.Phrases = append(g.Phrases, phrase)
		}
		p.Groups = append(p.Groups, g)
	}
	debug.Log("tracker", "parsed %q: %d groups, %d sequences", p.Title, len(p.Groups), p.Sequences())
	return p, nil
}

func parsePhrase(ph xrnsPhrase, lpb int) (*Phrase, error) {
	lines := atoi(ph.NumberOfLines, 0)
	if lines <= 0 {
		return nil, fmt.Errorf("number of lines %q", ph.NumberOfLines)
	}
	cells := make(map[int][]*Cell, len(ph.Lines))
	for _, l := range ph.Lines {
		line, err := strconv.Atoi(l.Index)
		if err != nil {
			return nil, fmt.Errorf("line index %q", l.Index)
		}
		row := make([]*Cell, len(l.Columns))
		for i, col := range l.Columns {
			if col.Note == "" || col.Note == "---" {
				continue
			}
			pitch, err := ParseNote(col.Note)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vel := DefaultVelocity
			if col.Volume != "" {
				v, err := strconv.ParseInt(col.Volume, 16, 32)
				if err != nil {
					return nil, fmt.Errorf("line %d: volume %q", line, col.Volume)
				}
				vel = int(v)
			}
			row[i] = &Cell{Pitch: pitch, Velocity: vel}
		}
		cells[line] = row
	}
	return NewPhrase(ph.Name, lines, atoi(ph.LinesPerBeat, lpb), cells), nil
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
