package sequencer

import (
	"sync/atomic"

	"go-stepseq/transport"
)

// PlayMode governs what a sequence does at its end and when asked to stop.
type PlayMode uint8

const (
	// OneShot plays once. Shorter tracks play once.
	OneShot PlayMode = iota
	// Loop repeats. Tracks shorter than the sequence repeat on their own.
	Loop
	// OneShotAll plays once with every track in lockstep.
	OneShotAll
	// LoopAll repeats with every track in lockstep.
	LoopAll
)

func (m PlayMode) String() string {
	switch m {
	case OneShot:
		return "oneshot"
	case Loop:
		return "loop"
	case OneShotAll:
		return "oneshot-all"
	case LoopAll:
		return "loop-all"
	}
	return "unknown"
}

// ParsePlayMode accepts the names produced by String.
func ParsePlayMode(s string) (PlayMode, bool) {
	for m := OneShot; m <= LoopAll; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return OneShot, false
}

func (m PlayMode) loops() bool { return m == Loop || m == LoopAll }

// PlayState of a sequence.
type PlayState uint8

const (
	Stopped PlayState = iota
	Starting
	Playing
	Stopping
)

// restarting is Starting entered from Stopping. The sequence keeps sounding
// and keeps its position until the bar boundary.
const restarting uint32 = 4

func (s PlayState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

const (
	// NoTrigger disables the trigger note or trigger channel.
	NoTrigger uint8 = 0xFF
	// NoGroup sequences start and stop alone.
	NoGroup uint8 = 0
)

// TempoEvent changes tempo at a bar (1-based) and tick within the bar.
type TempoEvent struct {
	Bar   uint32  `json:"bar"`
	Tick  uint32  `json:"tick"`
	Tempo float64 `json:"tempo"`
}

// TimeSig is a meter such as 3/4.
type TimeSig struct {
	Beats    uint8 `json:"beats"`
	NoteType uint8 `json:"noteType"`
}

// TimeSigEvent changes meter from a bar on.
type TimeSigEvent struct {
	Bar uint32 `json:"bar"`
	TimeSig
}

// Sequence is a set of tracks played together, with a play state machine.
type Sequence struct {
	lib       *Library
	transport *transport.Transport

	name string // lib.mu

	group       atomic.Uint32
	mode        atomic.Uint32
	state       atomic.Uint32
	position    atomic.Uint32
	triggerNote atomic.Uint32
	tracks      atomic.Pointer[[]*Track]
	tempo       atomic.Pointer[[]TempoEvent]
	timeSig     atomic.Pointer[[]TimeSigEvent]

	// halted asks the scheduler to flush pending note-offs after a stop
	// that did not go through Stopping.
	halted atomic.Bool

	version atomic.Uint64
	seen    atomic.Uint64
}

// newSequence builds a stopped sequence with one track holding one fresh
// pattern. Requires lib.mu.
func newSequence(lib *Library, tr *transport.Transport) *Sequence {
	s := &Sequence{lib: lib, transport: tr}
	s.mode.Store(uint32(LoopAll))
	s.triggerNote.Store(uint32(NoTrigger))
	s.tempo.Store(&[]TempoEvent{})
	s.timeSig.Store(&[]TimeSigEvent{})
	s.reset()
	return s
}

// bareSequence builds a sequence with no tracks for decoding.
func bareSequence(lib *Library, tr *transport.Transport) *Sequence {
	s := &Sequence{lib: lib, transport: tr}
	s.triggerNote.Store(uint32(NoTrigger))
	s.tempo.Store(&[]TempoEvent{})
	s.timeSig.Store(&[]TimeSigEvent{})
	s.tracks.Store(&[]*Track{})
	return s
}

// reset replaces the tracks with one empty track and clears the timelines.
// Requires lib.mu.
func (s *Sequence) reset() {
	t := newTrack(s.lib, s)
	t.addPattern(0, s.lib.create().id, RejectOverlap)
	s.tracks.Store(&[]*Track{t})
	s.tempo.Store(&[]TempoEvent{})
	s.timeSig.Store(&[]TimeSigEvent{})
	s.position.Store(0)
	s.markChanged()
}

func (s *Sequence) markChanged() { s.version.Add(1) }

// HasChanged reports whether the play state or structure changed since the
// last ConsumeChanged. It does not clear the flag.
func (s *Sequence) HasChanged() bool {
	return s.seen.Load() != s.version.Load()
}

// ConsumeChanged reports the same as HasChanged and clears the flag.
func (s *Sequence) ConsumeChanged() bool {
	v := s.version.Load()
	return s.seen.Swap(v) != v
}

func (s *Sequence) Name() string {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	return s.name
}

func (s *Sequence) SetName(name string) {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	s.name = name
	s.lib.markModified()
	s.markChanged()
}

func (s *Sequence) Group() uint8 { return uint8(s.group.Load()) }

func (s *Sequence) SetGroup(group uint8) {
	s.group.Store(uint32(group))
	s.lib.markModified()
}

func (s *Sequence) PlayMode() PlayMode { return PlayMode(s.mode.Load()) }

func (s *Sequence) SetPlayMode(mode PlayMode) {
	if mode > LoopAll {
		return
	}
	s.mode.Store(uint32(mode))
	s.lib.markModified()
	s.markChanged()
}

// PlayState reports the public state; a resuming sequence reads Starting.
func (s *Sequence) PlayState() PlayState {
	st := s.state.Load()
	if st == restarting {
		return Starting
	}
	return PlayState(st)
}

// Position is in ticks from the start of the sequence.
func (s *Sequence) Position() uint32 { return s.position.Load() }

func (s *Sequence) SetPosition(pos uint32) {
	s.position.Store(pos)
	s.markChanged()
}

func (s *Sequence) TriggerNote() uint8 { return uint8(s.triggerNote.Load()) }

// SetTriggerNote binds a note that toggles the sequence. Values above 127
// clear the binding.
func (s *Sequence) SetTriggerNote(note uint8) {
	if note > 127 {
		note = NoTrigger
	}
	s.triggerNote.Store(uint32(note))
	s.lib.markModified()
}

func (s *Sequence) trackList() []*Track { return *s.tracks.Load() }

func (s *Sequence) TrackCount() int { return len(s.trackList()) }

// Track returns track i, or nil.
func (s *Sequence) Track(i int) *Track {
	ts := s.trackList()
	if i < 0 || i >= len(ts) {
		return nil
	}
	return ts[i]
}

func (s *Sequence) Tracks() []*Track {
	return append([]*Track(nil), s.trackList()...)
}

// AddTrack inserts an empty track at index at (appends when out of range)
// and returns its index.
func (s *Sequence) AddTrack(at int) int {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := s.trackList()
	if at < 0 || at > len(cur) {
		at = len(cur)
	}
	next := make([]*Track, 0, len(cur)+1)
	next = append(next, cur[:at]...)
	next = append(next, newTrack(s.lib, s))
	next = append(next, cur[at:]...)
	s.tracks.Store(&next)
	s.lib.markModified()
	s.markChanged()
	return at
}

// RemoveTrack deletes track i. The last track cannot be removed, and no
// track can be removed while the sequence plays.
func (s *Sequence) RemoveTrack(i int) bool {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := s.trackList()
	if i < 0 || i >= len(cur) || len(cur) == 1 || s.PlayState() != Stopped {
		return false
	}
	next := make([]*Track, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	s.tracks.Store(&next)
	s.lib.markModified()
	s.markChanged()
	return true
}

// Clear leaves one empty track and empty timelines.
func (s *Sequence) Clear() {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	s.reset()
	s.lib.markModified()
}

// Length is the end of the longest track in ticks.
func (s *Sequence) Length() uint32 {
	var l uint32
	for _, t := range s.trackList() {
		if tl := t.Length(); tl > l {
			l = tl
		}
	}
	return l
}

// IsEmpty reports whether no pattern on any track holds a note.
func (s *Sequence) IsEmpty() bool {
	for _, t := range s.trackList() {
		if !t.IsEmpty() {
			return false
		}
	}
	return true
}

func tempoBefore(a TempoEvent, bar, tick uint32) bool {
	return a.Bar < bar || (a.Bar == bar && a.Tick < tick)
}

// findTempo returns the index of (bar, tick) or its insertion point.
func findTempo(evs []TempoEvent, bar, tick uint32) (int, bool) {
	lo, hi := 0, len(evs)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if tempoBefore(evs[mid], bar, tick) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(evs) && evs[lo].Bar == bar && evs[lo].Tick == tick
}

// AddTempoEvent sets the tempo from bar (1-based) and tick on, replacing an
// event at the same position.
func (s *Sequence) AddTempoEvent(tempo float64, bar, tick uint32) {
	if !(tempo > 0) {
		return
	}
	if bar == 0 {
		bar = 1
	}
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := *s.tempo.Load()
	next := make([]TempoEvent, len(cur), len(cur)+1)
	copy(next, cur)
	ev := TempoEvent{Bar: bar, Tick: tick, Tempo: tempo}
	if i, found := findTempo(next, bar, tick); found {
		next[i] = ev
	} else {
		next = append(next, TempoEvent{})
		copy(next[i+1:], next[i:])
		next[i] = ev
	}
	s.tempo.Store(&next)
	s.lib.markModified()
}

func (s *Sequence) RemoveTempoEvent(bar, tick uint32) {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := *s.tempo.Load()
	i, found := findTempo(cur, bar, tick)
	if !found {
		return
	}
	next := make([]TempoEvent, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	s.tempo.Store(&next)
	s.lib.markModified()
}

// TempoEvents returns a copy of the tempo timeline.
func (s *Sequence) TempoEvents() []TempoEvent {
	return append([]TempoEvent(nil), *s.tempo.Load()...)
}

// TempoAt returns the tempo in effect at bar and tick, falling back to the
// transport tempo.
func (s *Sequence) TempoAt(bar, tick uint32) float64 {
	evs := *s.tempo.Load()
	i, found := findTempo(evs, bar, tick)
	if found {
		return evs[i].Tempo
	}
	if i > 0 {
		return evs[i-1].Tempo
	}
	return s.transport.Tempo()
}

// tempoChangeAt returns the tempo event starting exactly at position.
func (s *Sequence) tempoChangeAt(position uint32) (float64, bool) {
	evs := *s.tempo.Load()
	if len(evs) == 0 {
		return 0, false
	}
	bar, tick := s.barTick(position)
	i, found := findTempo(evs, bar, tick)
	if !found {
		return 0, false
	}
	return evs[i].Tempo, true
}

// AddTimeSigEvent sets the meter from bar on, replacing an event at the
// same bar.
func (s *Sequence) AddTimeSigEvent(beats, noteType uint8, bar uint32) {
	if beats == 0 || noteType == 0 {
		return
	}
	if bar == 0 {
		bar = 1
	}
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := *s.timeSig.Load()
	ev := TimeSigEvent{Bar: bar, TimeSig: TimeSig{Beats: beats, NoteType: noteType}}
	i := 0
	for i < len(cur) && cur[i].Bar < bar {
		i++
	}
	next := make([]TimeSigEvent, 0, len(cur)+1)
	next = append(next, cur[:i]...)
	next = append(next, ev)
	if i < len(cur) && cur[i].Bar == bar {
		i++
	}
	next = append(next, cur[i:]...)
	s.timeSig.Store(&next)
	s.lib.markModified()
}

func (s *Sequence) RemoveTimeSigEvent(bar uint32) {
	s.lib.mu.Lock()
	defer s.lib.mu.Unlock()
	cur := *s.timeSig.Load()
	for i, ev := range cur {
		if ev.Bar == bar {
			next := make([]TimeSigEvent, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			s.timeSig.Store(&next)
			s.lib.markModified()
			return
		}
	}
}

// TimeSigEvents returns a copy of the meter timeline.
func (s *Sequence) TimeSigEvents() []TimeSigEvent {
	return append([]TimeSigEvent(nil), *s.timeSig.Load()...)
}

// TimeSigAt returns the meter in effect at bar, falling back to the
// transport's beats per bar over quarter notes.
func (s *Sequence) TimeSigAt(bar uint32) TimeSig {
	ts := TimeSig{Beats: uint8(s.transport.BeatsPerBar()), NoteType: 4}
	for _, ev := range *s.timeSig.Load() {
		if ev.Bar > bar {
			break
		}
		ts = ev.TimeSig
	}
	return ts
}

// ClocksPerBar is the bar length of the meter in clock ticks. A 6/8 bar
// is six eighths, 72 ticks.
func (ts TimeSig) ClocksPerBar() uint32 {
	if ts.NoteType == 0 {
		return 0
	}
	n := uint32(ts.Beats) * PPQN * 4 / uint32(ts.NoteType)
	if n == 0 {
		n = 1
	}
	return n
}

// barTick maps a position in ticks to a 1-based bar and the tick within it,
// following the meter timeline.
func (s *Sequence) barTick(position uint32) (bar, tick uint32) {
	perBar := uint32(PPQN) * s.transport.BeatsPerBar()
	bar = 1
	var base uint32
	for _, ev := range *s.timeSig.Load() {
		if ev.Bar > bar {
			span := (ev.Bar - bar) * perBar
			if position < base+span {
				break
			}
			base += span
			bar = ev.Bar
		}
		perBar = ev.ClocksPerBar()
	}
	off := position - base
	return bar + off/perBar, off % perBar
}

// tickAt is the inverse of barTick.
func (s *Sequence) tickAt(bar, tick uint32) uint32 {
	if bar == 0 {
		bar = 1
	}
	perBar := uint32(PPQN) * s.transport.BeatsPerBar()
	cur := uint32(1)
	var base uint32
	for _, ev := range *s.timeSig.Load() {
		if ev.Bar > bar {
			break
		}
		if ev.Bar > cur {
			base += (ev.Bar - cur) * perBar
			cur = ev.Bar
		}
		perBar = ev.ClocksPerBar()
	}
	return base + (bar-cur)*perBar + tick
}

// requestPlay moves Stopped to Starting and Stopping to restarting.
func (s *Sequence) requestPlay() {
	for {
		st := s.state.Load()
		var next uint32
		switch st {
		case uint32(Stopped):
			next = uint32(Starting)
		case uint32(Stopping):
			next = restarting
		default:
			return
		}
		if s.state.CompareAndSwap(st, next) {
			s.markChanged()
			return
		}
	}
}

// requestStop moves Playing to Stopping and cancels a pending start.
func (s *Sequence) requestStop() {
	for {
		st := s.state.Load()
		var next uint32
		switch st {
		case uint32(Playing), restarting:
			next = uint32(Stopping)
		case uint32(Starting):
			next = uint32(Stopped)
		default:
			return
		}
		if s.state.CompareAndSwap(st, next) {
			if next == uint32(Stopped) {
				s.position.Store(0)
			}
			s.markChanged()
			return
		}
	}
}

// halt stops at once. The scheduler flushes the pending note-offs on its
// next tick.
func (s *Sequence) halt() {
	if s.state.Swap(uint32(Stopped)) != uint32(Stopped) {
		s.halted.Store(true)
		s.markChanged()
	}
	s.position.Store(0)
}
