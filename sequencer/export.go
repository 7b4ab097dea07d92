package sequencer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go-stepseq/midi"

	"gitlab.com/gomidi/midi/v2/smf"
)

// ErrNoSequence is returned when a bank and slot name no sequence.
var ErrNoSequence = errors.New("no such sequence")

// Render plays one pass of a sequence offline and returns its events with
// absolute ticks, one slice per track. Muted tracks, and unsoloed tracks
// when any track is soloed, come back empty.
func (e *Engine) Render(bank uint8, seq int) ([][]midi.Event, error) {
	s := e.Sequence(bank, seq)
	if s == nil {
		return nil, fmt.Errorf("bank %d sequence %d: %w", bank, seq, ErrNoSequence)
	}

	tracks := s.trackList()
	solo := false
	for _, t := range tracks {
		solo = solo || t.Solo()
	}
	mode := s.PlayMode()
	length := s.Length()

	out := make([][]midi.Event, len(tracks))
	for i, t := range tracks {
		if t.Muted() || (solo && !t.Solo()) {
			continue
		}
		sc := newScheduler(e)
		sc.render = true
		var evs []midi.Event
		collect := func() {
			evs = append(evs, sc.programs...)
			evs = append(evs, sc.offs...)
			evs = append(evs, sc.ons...)
		}
		for pos := uint32(0); pos < length; pos++ {
			sc.now = uint64(pos)
			sc.reset()
			sc.flushDue(sc.now)
			sc.emitTrack(s, t, mode, pos, length, sc.now)
			collect()
		}
		for now := uint64(length); sc.npend > 0; now++ {
			sc.now = now
			sc.reset()
			sc.flushDue(now)
			collect()
		}
		out[i] = evs
	}
	return out, nil
}

// ExportSMF writes one pass of a sequence as a Standard MIDI File: a
// conductor track with tempo and meter, then one track per sequence track.
func (e *Engine) ExportSMF(bank uint8, seq int, w io.Writer) error {
	s := e.Sequence(bank, seq)
	if s == nil {
		return fmt.Errorf("bank %d sequence %d: %w", bank, seq, ErrNoSequence)
	}
	rendered, err := e.Render(bank, seq)
	if err != nil {
		return err
	}

	f := smf.New()
	f.TimeFormat = smf.MetricTicks(PPQN)

	if err := f.Add(e.conductorTrack(s)); err != nil {
		return fmt.Errorf("add conductor track: %w", err)
	}
	for i, evs := range rendered {
		var track smf.Track
		track.Add(0, smf.MetaTrackSequenceName(fmt.Sprintf("Track %d", i+1)))
		var last int64
		for _, ev := range evs {
			track.Add(uint32(ev.Tick-last), ev.Message())
			last = ev.Tick
		}
		track.Close(0)
		if err := f.Add(track); err != nil {
			return fmt.Errorf("add track %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write MIDI: %w", err)
	}
	return nil
}

// ExportSMFFile is ExportSMF into a file.
func (e *Engine) ExportSMFFile(bank uint8, seq int, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := e.ExportSMF(bank, seq, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

type metaEvent struct {
	tick uint64
	msg  smf.Message
}

func (e *Engine) conductorTrack(s *Sequence) smf.Track {
	at := func(bar, tick uint32) uint64 { return uint64(s.tickAt(bar, tick)) }

	name := s.Name()
	if name == "" {
		name = "stepseq"
	}
	metas := []metaEvent{
		{0, smf.MetaTrackSequenceName(name)},
		{0, smf.MetaTempo(s.TempoAt(1, 0))},
		{0, meter(s.TimeSigAt(1))},
	}
	for _, ev := range s.TempoEvents() {
		metas = append(metas, metaEvent{at(ev.Bar, ev.Tick), smf.MetaTempo(ev.Tempo)})
	}
	for _, ev := range s.TimeSigEvents() {
		metas = append(metas, metaEvent{at(ev.Bar, 0), meter(ev.TimeSig)})
	}
	// both timelines are sorted; merge by tick keeping insertion order
	sortMetas(metas)

	var track smf.Track
	var last uint64
	for _, m := range metas {
		track.Add(uint32(m.tick-last), m.msg)
		last = m.tick
	}
	track.Close(0)
	return track
}

func sortMetas(metas []metaEvent) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].tick < metas[j-1].tick; j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}

func meter(ts TimeSig) smf.Message { return smf.MetaMeter(ts.Beats, ts.NoteType) }
