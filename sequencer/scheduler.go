package sequencer

import (
	"math"
	"sync/atomic"

	"go-stepseq/midi"
	"go-stepseq/transport"
)

const (
	maxPending  = 1024
	maxPrograms = 128
	maxOffs     = 512
	maxOns      = 512
	maxCycle    = 4096
)

const (
	metronomeChannel = 9
	metronomeBar     = 76
	metronomeBeat    = 77
)

type pendingEvent struct {
	due   uint64
	ev    midi.Event
	owner *Sequence // nil for the metronome
}

// Scheduler turns the pattern hierarchy into timed MIDI events, one tick at
// a time. All buffers are preallocated; a full buffer drops the event and
// counts it.
type Scheduler struct {
	e *Engine

	pending [maxPending]pendingEvent
	npend   int
	now     uint64
	render  bool // offline: retriggers sound regardless of play state

	clock    []midi.Event
	programs []midi.Event
	offs     []midi.Event
	ons      []midi.Event
	cycle    []midi.Event

	dropped atomic.Uint64
}

func newScheduler(e *Engine) *Scheduler {
	return &Scheduler{
		e:        e,
		clock:    make([]midi.Event, 0, 1),
		programs: make([]midi.Event, 0, maxPrograms),
		offs:     make([]midi.Event, 0, maxOffs),
		ons:      make([]midi.Event, 0, maxOns),
		cycle:    make([]midi.Event, 0, maxCycle),
	}
}

// Process runs every tick that falls due inside a cycle of frames and
// returns the events in output order. The slice is reused by the next call.
// When the transport is stopped the pending note-offs are emitted instead.
func (e *Engine) Process(frames uint32) []midi.Event {
	sc := e.sched
	sc.cycle = sc.cycle[:0]
	if !e.transport.IsRolling() {
		if sc.npend > 0 {
			sc.now = e.transport.Tick()
			sc.reset()
			sc.flushAll()
			sc.collect()
		}
		return sc.cycle
	}
	n := e.transport.Advance(frames)
	for i := 0; i < n; i++ {
		sc.tick(e.transport.Tick())
		sc.collect()
		e.transport.IncTick()
	}
	return sc.cycle
}

// Tick runs exactly one clock regardless of the transport status.
func (e *Engine) Tick() []midi.Event {
	sc := e.sched
	sc.cycle = sc.cycle[:0]
	sc.tick(e.transport.Tick())
	sc.collect()
	e.transport.IncTick()
	return sc.cycle
}

func (sc *Scheduler) reset() {
	sc.clock = sc.clock[:0]
	sc.programs = sc.programs[:0]
	sc.offs = sc.offs[:0]
	sc.ons = sc.ons[:0]
}

// collect appends this tick's buckets to the cycle in output order.
func (sc *Scheduler) collect() {
	for _, bucket := range [...][]midi.Event{sc.clock, sc.programs, sc.offs, sc.ons} {
		for _, ev := range bucket {
			if len(sc.cycle) == cap(sc.cycle) {
				sc.dropped.Add(1)
				continue
			}
			sc.cycle = append(sc.cycle, ev)
		}
	}
}

func (sc *Scheduler) push(bucket *[]midi.Event, ev midi.Event) {
	if len(*bucket) == cap(*bucket) {
		sc.dropped.Add(1)
		return
	}
	*bucket = append(*bucket, ev)
}

func (sc *Scheduler) schedule(due uint64, ev midi.Event, owner *Sequence) {
	if sc.npend == maxPending {
		sc.dropped.Add(1)
		return
	}
	ev.Tick = int64(due)
	sc.pending[sc.npend] = pendingEvent{due: due, ev: ev, owner: owner}
	sc.npend++
}

// drain removes the pending entries accepted by match, preserving the order
// of the rest, and hands each removed entry to fn.
func (sc *Scheduler) drain(match func(p *pendingEvent) bool, fn func(p *pendingEvent)) {
	j := 0
	for i := 0; i < sc.npend; i++ {
		p := &sc.pending[i]
		if match(p) {
			fn(p)
			continue
		}
		if i != j {
			sc.pending[j] = *p
		}
		j++
	}
	for i := j; i < sc.npend; i++ {
		sc.pending[i] = pendingEvent{}
	}
	sc.npend = j
}

func audible(s *Sequence) bool {
	if s == nil {
		return true
	}
	switch s.state.Load() {
	case uint32(Playing), uint32(Stopping), restarting:
		return true
	}
	return false
}

// flushDue emits the pending events due at now. Note-ons of sequences that
// stopped meanwhile are dropped.
func (sc *Scheduler) flushDue(now uint64) {
	n := 0
	for i := 0; i < sc.npend; i++ {
		if sc.pending[i].due <= now {
			n++
		}
	}
	if n == 0 {
		return
	}
	sc.drain(func(p *pendingEvent) bool { return p.due <= now }, func(p *pendingEvent) {
		if p.ev.Type == midi.NoteOff {
			sc.push(&sc.offs, p.ev)
		} else if sc.render || audible(p.owner) {
			sc.push(&sc.ons, p.ev)
		}
	})
}

// flushSequence emits every pending note-off of s now and drops its
// retriggers.
func (sc *Scheduler) flushSequence(s *Sequence) {
	sc.drain(func(p *pendingEvent) bool { return p.owner == s }, sc.emitOff)
}

func (sc *Scheduler) flushAll() {
	sc.drain(func(*pendingEvent) bool { return true }, sc.emitOff)
}

// emitOff sends a pending note-off early, at the current tick.
func (sc *Scheduler) emitOff(p *pendingEvent) {
	if p.ev.Type == midi.NoteOff {
		ev := p.ev
		ev.Tick = int64(sc.now)
		sc.push(&sc.offs, ev)
	}
}

// cutPending emits the outstanding note-off for channel and pitch now and
// drops its stale retriggers so the old note cannot cut the new one.
func (sc *Scheduler) cutPending(ch, pitch uint8) {
	sc.drain(func(p *pendingEvent) bool {
		return p.ev.Channel == ch && p.ev.Note == pitch
	}, sc.emitOff)
}

func (sc *Scheduler) tick(now uint64) {
	sc.now = now
	sc.reset()
	e := sc.e
	tr := e.transport
	internal := tr.ClockSource() == transport.ClockInternal

	if e.opts.SendClock && internal {
		sc.push(&sc.clock, midi.Event{Tick: int64(now), Type: midi.Clock})
	}

	sc.flushDue(now)

	if tr.MetronomeEnabled() && now%transport.ClocksPerBeat == 0 {
		note := uint8(metronomeBeat)
		if now%tr.ClocksPerBar() == 0 {
			note = metronomeBar
		}
		vel := uint8(math.Round(tr.MetronomeVolume() * 127))
		if vel > 0 {
			sc.cutPending(metronomeChannel, note)
			sc.push(&sc.ons, midi.Event{Tick: int64(now), Type: midi.NoteOn, Channel: metronomeChannel, Note: note, Velocity: vel})
			sc.schedule(now+transport.ClocksPerBeat/4, midi.Event{Type: midi.NoteOff, Channel: metronomeChannel, Note: note}, nil)
		}
	}

	for _, b := range e.bankList() {
		for _, s := range b.list() {
			sc.runSequence(s, now, internal)
		}
	}
}

// finish stops s after its last tick. A sequence asked to resume while it
// was stopping waits for the next bar instead.
func (sc *Scheduler) finish(s *Sequence) {
	for {
		st := s.state.Load()
		next := uint32(Stopped)
		switch st {
		case uint32(Stopped), uint32(Starting):
			return
		case restarting:
			next = uint32(Starting)
		}
		if s.state.CompareAndSwap(st, next) {
			break
		}
	}
	sc.flushSequence(s)
	s.position.Store(0)
	s.markChanged()
}

func (sc *Scheduler) runSequence(s *Sequence, now uint64, internal bool) {
	if s.halted.Swap(false) {
		sc.flushSequence(s)
	}

	mode := s.PlayMode()
	switch s.state.Load() {
	case uint32(Stopped):
		return
	case uint32(Starting):
		if now%sc.e.transport.ClocksPerBar() != 0 {
			return
		}
		s.position.Store(0)
		if !s.state.CompareAndSwap(uint32(Starting), uint32(Playing)) {
			return
		}
		s.markChanged()
	case restarting:
		if now%sc.e.transport.ClocksPerBar() == 0 && s.state.CompareAndSwap(restarting, uint32(Playing)) {
			s.markChanged()
		}
	case uint32(Stopping):
		if s.position.Load()%stopQuantum == 0 {
			sc.finish(s)
			return
		}
	}

	length := s.Length()
	if length == 0 {
		if !mode.loops() {
			sc.finish(s)
		}
		return
	}

	pos := s.position.Load()
	if pos >= length {
		pos = 0
	}
	if internal {
		if tempo, ok := s.tempoChangeAt(pos); ok {
			sc.e.transport.SetTempo(tempo)
		}
	}

	sc.emitSequence(s, mode, pos, length, now)

	pos++
	if pos < length {
		s.position.Store(pos)
		return
	}
	if mode.loops() && s.state.Load() != uint32(Stopping) {
		s.position.Store(0)
		return
	}
	sc.finish(s)
}

func (sc *Scheduler) emitSequence(s *Sequence, mode PlayMode, pos, length uint32, now uint64) {
	tracks := s.trackList()
	solo := false
	for _, t := range tracks {
		if t.Solo() {
			solo = true
			break
		}
	}

	for _, t := range tracks {
		if t.Muted() || (solo && !t.Solo()) {
			continue
		}
		sc.emitTrack(s, t, mode, pos, length, now)
	}
}

// emitTrack emits the program change and notes of t that start at
// sequence position pos.
func (sc *Scheduler) emitTrack(s *Sequence, t *Track, mode PlayMode, pos, length uint32, now uint64) {
	local := pos
	if mode == Loop {
		if tl := t.Length(); tl > 0 && tl < length {
			local = pos % tl
		}
	}
	pl, d, ok := t.playing(local)
	if !ok {
		return
	}
	offset := local - pl.Position
	cps := d.clocksPerStep()
	if offset%cps != 0 {
		return
	}
	step := offset / cps
	ch := t.Channel()

	if i, found := d.findProgram(step); found {
		sc.push(&sc.programs, midi.Event{Tick: int64(now), Type: midi.ProgramChange, Channel: ch, Program: d.programs[i].Program})
	}
	lo, hi := d.stepRange(step)
	for i := lo; i < hi; i++ {
		sc.noteOn(s, ch, &d.notes[i], cps, now)
	}
}

func clocks(fraction float64, cps uint32) uint64 {
	c := math.Round(fraction * float64(cps))
	if c < 1 {
		return 1
	}
	return uint64(c)
}

func (sc *Scheduler) noteOn(owner *Sequence, ch uint8, n *NoteEvent, cps uint32, now uint64) {
	sc.cutPending(ch, n.Pitch)

	on := midi.Event{Tick: int64(now), Type: midi.NoteOn, Channel: ch, Note: n.Pitch, Velocity: n.Velocity}
	off := midi.Event{Type: midi.NoteOff, Channel: ch, Note: n.Pitch}
	sc.push(&sc.ons, on)

	offAt := clocks(n.Duration, cps)
	if n.StutterCount > 1 {
		spacing := clocks(n.StutterDuration, cps)
		for i := uint64(1); i < uint64(n.StutterCount); i++ {
			at := now + i*spacing
			sc.schedule(at, off, owner)
			sc.schedule(at, on, owner)
		}
		if last := uint64(n.StutterCount-1) * spacing; offAt <= last {
			offAt = last + spacing
		}
	}
	sc.schedule(now+offAt, off, owner)
}
