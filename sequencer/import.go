package sequencer

import (
	"errors"
	"fmt"
	"math"

	"go-stepseq/debug"
	"go-stepseq/tracker"
)

// ImportOptions lays a tracker song out over banks.
type ImportOptions struct {
	// MinRows and MaxRows bound the launcher grid side; a bank holds
	// rows×rows sequences.
	MinRows int
	MaxRows int
	// AutoBank receives the transposed copies of transposable groups.
	AutoBank         uint8
	TriggerStartNote uint8
	TriggerChannel   uint8
	Transpositions   int
}

func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		MinRows:          5,
		MaxRows:          5,
		AutoBank:         10,
		TriggerStartNote: 24,
		TriggerChannel:   DefaultTriggerChannel,
		Transpositions:   16,
	}
}

var errNoSong = errors.New("import: no song")

// Import replaces the session with a tracker song. Every phrase of a plain
// group becomes a one-track sequence, filling banks from 1 and spilling into
// the next bank when one is full. The first phrase of each transposable
// group is copied Transpositions times into AutoBank, each copy a semitone
// up and bound to a trigger note. On error the session is unchanged.
func (e *Engine) Import(song *tracker.Project, opts ImportOptions) error {
	if song == nil {
		return errNoSong
	}
	def := DefaultImportOptions()
	if opts.MinRows <= 0 {
		opts.MinRows = def.MinRows
	}
	if opts.MaxRows < opts.MinRows {
		opts.MaxRows = opts.MinRows
	}
	if opts.AutoBank == 0 {
		opts.AutoBank = def.AutoBank
	}

	scratch := New(Options{
		SampleRate:         e.opts.SampleRate,
		MaxSequencesInBank: e.opts.MaxSequencesInBank,
		TriggerChannel:     e.TriggerChannel(),
		Client:             e.opts.Client,
	})
	if song.Tempo > 0 {
		scratch.Transport().SetTempo(song.Tempo)
	}

	im := importer{e: scratch, opts: opts, skipAuto: song.HasTransposable(), bank: 1, left: song.Sequences()}
	if im.skipAuto && opts.AutoBank == 1 {
		im.bank = 2
	}
	im.expand(im.left)
	for gi, g := range song.Groups {
		if g.Transposable() {
			continue
		}
		for pi, ph := range g.Phrases {
			if err := im.place(fmt.Sprintf("%s %d", g.Name, pi), ph, gi, 0); err != nil {
				return err
			}
		}
	}
	for gi, g := range song.Groups {
		if !g.Transposable() || len(g.Phrases) == 0 {
			continue
		}
		if err := im.auto(g, gi); err != nil {
			return err
		}
	}

	data, err := scratch.Marshal()
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if err := e.Unmarshal(data); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	e.Patterns().markModified()
	debug.Log("import", "%q: %d groups into %d banks", song.Title, len(song.Groups), len(e.bankList()))
	return nil
}

type importer struct {
	e        *Engine
	opts     ImportOptions
	skipAuto bool
	bank     uint8
	next     int // next free slot of bank
	left     int // sequences still to place
}

// bankSize is the grid for n sequences: one row past the square root,
// clamped to the row bounds and the bank capacity.
func (im *importer) bankSize(n int) int {
	rows := int(math.Sqrt(float64(n))) + 1
	if rows < im.opts.MinRows {
		rows = im.opts.MinRows
	}
	if rows > im.opts.MaxRows {
		rows = im.opts.MaxRows
	}
	return min(rows*rows, im.e.opts.MaxSequencesInBank)
}

// expand grows bank to hold n sequences. Banks never shrink.
func (im *importer) expand(n int) {
	size := im.bankSize(n)
	if size > im.e.SequencesInBank(im.bank) {
		im.e.SetSequencesInBank(im.bank, size)
	}
}

// slot returns the next free sequence, moving to the following bank when
// the current one is full.
func (im *importer) slot() (*Sequence, error) {
	if im.next >= im.e.SequencesInBank(im.bank) {
		b := int(im.bank) + 1
		if im.skipAuto && b == int(im.opts.AutoBank) {
			b++
		}
		if b > math.MaxUint8 {
			return nil, fmt.Errorf("import: out of banks")
		}
		im.bank, im.next = uint8(b), 0
		im.expand(im.left)
	}
	s := im.e.Sequence(im.bank, im.next)
	im.next++
	return s, nil
}

func (im *importer) place(name string, ph *tracker.Phrase, group, transpose int) error {
	s, err := im.slot()
	if err != nil {
		return err
	}
	im.left--
	fill(s, name, ph, group, transpose)
	return nil
}

func (im *importer) auto(g *tracker.Group, group int) error {
	bank := im.opts.AutoBank
	n := im.opts.Transpositions
	if n > im.e.opts.MaxSequencesInBank {
		n = im.e.opts.MaxSequencesInBank
	}
	if n > im.e.SequencesInBank(bank) {
		im.e.SetSequencesInBank(bank, n)
	}
	for i := 0; i < n; i++ {
		note := int(im.opts.TriggerStartNote) + i
		s := im.e.Sequence(bank, i)
		fill(s, fmt.Sprintf("%s %s", g.Name, tracker.NoteName(note)), g.Phrases[0], group, i)
		if note <= 127 {
			s.SetTriggerNote(uint8(note))
		}
	}
	im.e.SetTriggerChannel(im.opts.TriggerChannel)
	return nil
}

// fill writes a phrase into the single pattern of a fresh sequence. Lines
// map to steps; the pattern grows to cover the phrase.
func fill(s *Sequence, name string, ph *tracker.Phrase, group, transpose int) {
	s.SetName(name)
	s.SetGroup(uint8(group%math.MaxUint8) + 1)
	t := s.Track(0)
	t.SetChannel(uint8(group % 16))
	p := s.lib.Get(t.PatternIDAt(0))
	if p == nil {
		return
	}

	spb := uint32(ph.LinesPerBeat)
	if !p.SetStepsPerBeat(spb) {
		spb = p.StepsPerBeat()
	}
	beats := (uint32(max(ph.Lines, 1)) + spb - 1) / spb
	p.SetBeatsInPattern(min(beats, MaxBeatsInPattern))
	steps := p.Steps()

	for _, n := range ph.Notes() {
		pitch := n.Pitch + transpose
		if pitch < 0 || pitch > 127 || uint32(n.Line) >= steps {
			continue
		}
		vel := uint8(clampInt(n.Velocity, 1, 127))
		dur := math.Min(float64(max(n.Duration, 1)), float64(steps-uint32(n.Line)))
		p.AddNote(uint32(n.Line), uint8(pitch), vel, dur)
	}
}
