package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"go-stepseq/transport"
)

// projectVersion is bumped when the document layout changes incompatibly.
const projectVersion = 1

// ErrBadProject wraps every validation failure while decoding a project.
var ErrBadProject = errors.New("invalid project")

// projectFile is the saved form of an Engine.
type projectFile struct {
	Version        int            `json:"version"`
	Tempo          float64        `json:"tempo"`
	BeatsPerBar    uint32         `json:"beatsPerBar"`
	TriggerChannel uint8          `json:"triggerChannel"`
	Patterns       []patternState `json:"patterns"`
	Banks          []bankState    `json:"banks"`
}

type patternState struct {
	ID           uint32         `json:"id"`
	StepsPerBeat uint32         `json:"stepsPerBeat"`
	Beats        uint32         `json:"beats"`
	Scale        uint8          `json:"scale,omitempty"`
	Tonic        uint8          `json:"tonic,omitempty"`
	RefNote      uint8          `json:"refNote"`
	Notes        []noteState    `json:"notes,omitempty"`
	Programs     []programState `json:"programs,omitempty"`
}

type noteState struct {
	Step            uint32  `json:"step"`
	Pitch           uint8   `json:"pitch"`
	Velocity        uint8   `json:"velocity"`
	Duration        float64 `json:"duration"`
	StutterCount    uint8   `json:"stutterCount,omitempty"`
	StutterDuration float64 `json:"stutterDuration,omitempty"`
}

type programState struct {
	Step    uint32 `json:"step"`
	Program uint8  `json:"program"`
}

type bankState struct {
	Index     uint8           `json:"index"`
	Sequences []sequenceState `json:"sequences"`
}

type sequenceState struct {
	Name        string         `json:"name,omitempty"`
	Group       uint8          `json:"group,omitempty"`
	Mode        string         `json:"mode"`
	TriggerNote uint8          `json:"triggerNote"`
	Tracks      []trackState   `json:"tracks"`
	Tempo       []TempoEvent   `json:"tempo,omitempty"`
	TimeSig     []TimeSigEvent `json:"timeSig,omitempty"`
}

type trackState struct {
	Channel    uint8            `json:"channel"`
	Muted      bool             `json:"muted,omitempty"`
	Solo       bool             `json:"solo,omitempty"`
	Placements []placementState `json:"placements"`
}

type placementState struct {
	Position uint32 `json:"position"`
	Pattern  uint32 `json:"pattern"`
}

// encode captures the engine. Requires e.mu.
func (e *Engine) encode() *projectFile {
	doc := &projectFile{
		Version:        projectVersion,
		Tempo:          savedTempo(e.transport),
		BeatsPerBar:    e.transport.BeatsPerBar(),
		TriggerChannel: e.TriggerChannel(),
	}

	lib := e.Patterns()
	for _, id := range lib.IDs() {
		p := lib.Get(id)
		d := p.snapshot()
		ps := patternState{
			ID:           id,
			StepsPerBeat: d.stepsPerBeat,
			Beats:        d.beats,
			Scale:        p.scale,
			Tonic:        p.tonic,
			RefNote:      p.refNote,
		}
		for _, n := range d.notes {
			ps.Notes = append(ps.Notes, noteState(n))
		}
		for _, pc := range d.programs {
			ps.Programs = append(ps.Programs, programState(pc))
		}
		doc.Patterns = append(doc.Patterns, ps)
	}

	for _, b := range e.bankList() {
		bs := bankState{Index: b.index}
		for _, s := range b.list() {
			ss := sequenceState{
				Name:        s.name,
				Group:       s.Group(),
				Mode:        s.PlayMode().String(),
				TriggerNote: s.TriggerNote(),
				Tempo:       s.TempoEvents(),
				TimeSig:     s.TimeSigEvents(),
			}
			for _, t := range s.trackList() {
				ts := trackState{Channel: t.Channel(), Muted: t.Muted(), Solo: t.Solo(), Placements: []placementState{}}
				for _, pl := range t.list() {
					ts.Placements = append(ts.Placements, placementState(pl))
				}
				ss.Tracks = append(ss.Tracks, ts)
			}
			bs.Sequences = append(bs.Sequences, ss)
		}
		doc.Banks = append(doc.Banks, bs)
	}
	return doc
}

// savedTempo is the local tempo, never one measured from an external clock.
func savedTempo(tr *transport.Transport) float64 {
	if tr.ClockSource() == transport.ClockMIDI {
		return transport.DefaultTempo
	}
	return tr.Tempo()
}

func badProject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadProject, fmt.Sprintf(format, args...))
}

// decoded is a validated project ready to be swapped into an engine.
type decoded struct {
	lib            *Library
	banks          []*Bank
	tempo          float64
	beatsPerBar    uint32
	triggerChannel uint8
}

// decode validates doc and builds a fresh hierarchy bound to mu. Nothing
// it builds is shared until the caller publishes it.
func decode(doc *projectFile, mu *sync.Mutex, tr *transport.Transport, maxSequences int) (*decoded, error) {
	if doc.Version != projectVersion {
		return nil, badProject("version %d", doc.Version)
	}
	if doc.Tempo < transport.MinTempo || doc.Tempo > transport.MaxTempo {
		return nil, badProject("tempo %v", doc.Tempo)
	}
	if doc.BeatsPerBar == 0 || doc.BeatsPerBar > transport.MaxBeatsPerBar {
		return nil, badProject("beats per bar %d", doc.BeatsPerBar)
	}
	if doc.TriggerChannel > 15 && doc.TriggerChannel != NoTrigger {
		return nil, badProject("trigger channel %d", doc.TriggerChannel)
	}

	lib := newLibrary(mu)
	for _, ps := range doc.Patterns {
		if ps.ID == 0 || lib.Get(ps.ID) != nil {
			return nil, badProject("pattern id %d", ps.ID)
		}
		if err := decodePattern(lib.insert(ps.ID), ps); err != nil {
			return nil, err
		}
	}

	out := &decoded{
		lib:            lib,
		tempo:          doc.Tempo,
		beatsPerBar:    doc.BeatsPerBar,
		triggerChannel: doc.TriggerChannel,
	}
	seen := make(map[uint8]bool)
	for _, bs := range doc.Banks {
		if bs.Index == 0 || seen[bs.Index] {
			return nil, badProject("bank %d", bs.Index)
		}
		seen[bs.Index] = true
		if len(bs.Sequences) > maxSequences {
			return nil, badProject("bank %d: %d sequences", bs.Index, len(bs.Sequences))
		}
		b := newBank(bs.Index)
		seqs := make([]*Sequence, 0, len(bs.Sequences))
		for i, ss := range bs.Sequences {
			s, err := decodeSequence(lib, tr, ss)
			if err != nil {
				return nil, fmt.Errorf("bank %d sequence %d: %w", bs.Index, i, err)
			}
			seqs = append(seqs, s)
		}
		b.sequences.Store(&seqs)
		out.banks = append(out.banks, b)
	}
	sortBanks(out.banks)
	return out, nil
}

func decodePattern(p *Pattern, ps patternState) error {
	if !validStepsPerBeat(ps.StepsPerBeat) {
		return badProject("pattern %d: steps per beat %d", ps.ID, ps.StepsPerBeat)
	}
	if ps.Beats == 0 || ps.Beats > MaxBeatsInPattern {
		return badProject("pattern %d: beats %d", ps.ID, ps.Beats)
	}
	if ps.Tonic > 11 || ps.RefNote > 127 {
		return badProject("pattern %d: tonic %d ref %d", ps.ID, ps.Tonic, ps.RefNote)
	}
	d := newPatternData(ps.StepsPerBeat, ps.Beats)
	steps := d.steps()
	for _, n := range ps.Notes {
		if n.Step >= steps || n.Pitch > 127 || n.Velocity == 0 || n.Velocity > 127 || !(n.Duration > 0) {
			return badProject("pattern %d: note %d/%d", ps.ID, n.Step, n.Pitch)
		}
		if n.StutterCount == 0 {
			n.StutterCount = 1
		}
		if n.StutterDuration == 0 {
			n.StutterDuration = DefaultStutterDuration
		}
		if n.StutterCount > MaxStutterCount || n.StutterDuration < MinStutterDuration || n.StutterDuration > MaxStutterDuration {
			return badProject("pattern %d: stutter at %d/%d", ps.ID, n.Step, n.Pitch)
		}
		d.putNote(NoteEvent(n))
	}
	for _, pc := range ps.Programs {
		if pc.Step >= steps || pc.Program > 127 {
			return badProject("pattern %d: program at %d", ps.ID, pc.Step)
		}
		d.putProgram(ProgramChange(pc))
	}
	p.data.Store(d)
	p.scale, p.tonic, p.refNote = ps.Scale, ps.Tonic, ps.RefNote
	return nil
}

func decodeSequence(lib *Library, tr *transport.Transport, ss sequenceState) (*Sequence, error) {
	mode, ok := ParsePlayMode(ss.Mode)
	if !ok {
		return nil, badProject("play mode %q", ss.Mode)
	}
	if len(ss.Tracks) == 0 {
		return nil, badProject("no tracks")
	}
	if ss.TriggerNote > 127 && ss.TriggerNote != NoTrigger {
		return nil, badProject("trigger note %d", ss.TriggerNote)
	}

	s := bareSequence(lib, tr)
	s.name = ss.Name
	s.group.Store(uint32(ss.Group))
	s.mode.Store(uint32(mode))
	s.triggerNote.Store(uint32(ss.TriggerNote))

	tracks := make([]*Track, 0, len(ss.Tracks))
	for i, ts := range ss.Tracks {
		if ts.Channel > 15 {
			return nil, badProject("track %d: channel %d", i, ts.Channel)
		}
		t := newTrack(lib, s)
		t.channel.Store(uint32(ts.Channel))
		t.muted.Store(ts.Muted)
		t.solo.Store(ts.Solo)
		for _, pl := range ts.Placements {
			if !t.addPattern(pl.Position, pl.Pattern, RejectOverlap) {
				return nil, badProject("track %d: placement of pattern %d at %d", i, pl.Pattern, pl.Position)
			}
		}
		tracks = append(tracks, t)
	}
	s.tracks.Store(&tracks)

	var tempo []TempoEvent
	for _, ev := range ss.Tempo {
		if !(ev.Tempo > 0) || ev.Bar == 0 {
			return nil, badProject("tempo event at bar %d", ev.Bar)
		}
		i, found := findTempo(tempo, ev.Bar, ev.Tick)
		if found {
			tempo[i] = ev
			continue
		}
		tempo = append(tempo, TempoEvent{})
		copy(tempo[i+1:], tempo[i:])
		tempo[i] = ev
	}
	s.tempo.Store(&tempo)

	timeSig := make([]TimeSigEvent, 0, len(ss.TimeSig))
	for _, ev := range ss.TimeSig {
		if ev.Bar == 0 || ev.Beats == 0 || ev.NoteType == 0 {
			return nil, badProject("time signature at bar %d", ev.Bar)
		}
		if n := len(timeSig); n > 0 && timeSig[n-1].Bar >= ev.Bar {
			return nil, badProject("time signature at bar %d out of order", ev.Bar)
		}
		timeSig = append(timeSig, ev)
	}
	s.timeSig.Store(&timeSig)
	return s, nil
}
