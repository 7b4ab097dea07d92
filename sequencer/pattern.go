package sequencer

import (
	"math"
	"sort"
	"sync/atomic"

	"go-stepseq/transport"
)

// PPQN is the tick resolution of every pattern and sequence.
const PPQN = transport.ClocksPerBeat

const (
	DefaultStepsPerBeat   = 4
	DefaultBeatsInPattern = 4
	MaxBeatsInPattern     = 64
	DefaultRefNote        = 60

	MaxStutterCount        = 16
	MinNoteDuration        = 0.01
	MinStutterDuration     = 0.01
	MaxStutterDuration     = 1.0
	DefaultStutterDuration = 0.25
)

// NoteEvent is one note of a pattern. Duration and StutterDuration are in
// steps.
type NoteEvent struct {
	Step            uint32  `json:"step"`
	Pitch           uint8   `json:"pitch"`
	Velocity        uint8   `json:"velocity"`
	Duration        float64 `json:"duration"`
	StutterCount    uint8   `json:"stutterCount"`
	StutterDuration float64 `json:"stutterDuration"`
}

// ProgramChange is sent before the notes of its step.
type ProgramChange struct {
	Step    uint32 `json:"step"`
	Program uint8  `json:"program"`
}

// patternData is an immutable snapshot of a pattern's events. Edits build a
// new one and swap it in so the scheduler never sees a partial edit.
type patternData struct {
	stepsPerBeat uint32
	beats        uint32
	notes        []NoteEvent     // sorted by step, then pitch
	programs     []ProgramChange // sorted by step
}

func newPatternData(stepsPerBeat, beats uint32) *patternData {
	return &patternData{stepsPerBeat: stepsPerBeat, beats: beats}
}

func (d *patternData) steps() uint32 { return d.stepsPerBeat * d.beats }

func (d *patternData) clocksPerStep() uint32 { return PPQN / d.stepsPerBeat }

func (d *patternData) length() uint32 { return d.steps() * d.clocksPerStep() }

func (d *patternData) clone() *patternData {
	c := *d
	c.notes = append([]NoteEvent(nil), d.notes...)
	c.programs = append([]ProgramChange(nil), d.programs...)
	return &c
}

func noteLess(a NoteEvent, step uint32, pitch uint8) bool {
	return a.Step < step || (a.Step == step && a.Pitch < pitch)
}

// findNote returns the index of (step, pitch) or its insertion point.
func (d *patternData) findNote(step uint32, pitch uint8) (int, bool) {
	lo, hi := 0, len(d.notes)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if noteLess(d.notes[mid], step, pitch) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(d.notes) && d.notes[lo].Step == step && d.notes[lo].Pitch == pitch
}

// stepRange returns the half-open index range of the notes at step.
func (d *patternData) stepRange(step uint32) (int, int) {
	lo, _ := d.findNote(step, 0)
	hi := lo
	for hi < len(d.notes) && d.notes[hi].Step == step {
		hi++
	}
	return lo, hi
}

func (d *patternData) findProgram(step uint32) (int, bool) {
	lo, hi := 0, len(d.programs)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if d.programs[mid].Step < step {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(d.programs) && d.programs[lo].Step == step
}

func (d *patternData) putNote(n NoteEvent) {
	i, found := d.findNote(n.Step, n.Pitch)
	if found {
		d.notes[i] = n
		return
	}
	d.notes = append(d.notes, NoteEvent{})
	copy(d.notes[i+1:], d.notes[i:])
	d.notes[i] = n
}

func (d *patternData) putProgram(pc ProgramChange) {
	i, found := d.findProgram(pc.Step)
	if found {
		d.programs[i] = pc
		return
	}
	d.programs = append(d.programs, ProgramChange{})
	copy(d.programs[i+1:], d.programs[i:])
	d.programs[i] = pc
}

// truncate drops events past the current dimensions.
func (d *patternData) truncate() {
	steps := d.steps()
	notes := d.notes[:0]
	for _, n := range d.notes {
		if n.Step < steps {
			n.Duration = math.Min(n.Duration, float64(steps))
			notes = append(notes, n)
		}
	}
	d.notes = notes
	programs := d.programs[:0]
	for _, pc := range d.programs {
		if pc.Step < steps {
			programs = append(programs, pc)
		}
	}
	d.programs = programs
}

// validStepsPerBeat reports whether n divides the tick resolution evenly.
func validStepsPerBeat(n uint32) bool {
	return n > 0 && n <= PPQN && PPQN%n == 0
}

// Pattern is a grid of notes and program changes, shared by reference id
// between any number of track placements.
type Pattern struct {
	id  uint32
	lib *Library

	data atomic.Pointer[patternData]

	// editing aids, guarded by lib.mu
	scale   uint8
	tonic   uint8
	refNote uint8

	modified atomic.Bool
}

func newPattern(id uint32, lib *Library) *Pattern {
	p := &Pattern{id: id, lib: lib, refNote: DefaultRefNote}
	p.data.Store(newPatternData(DefaultStepsPerBeat, DefaultBeatsInPattern))
	return p
}

func (p *Pattern) ID() uint32 { return p.id }

func (p *Pattern) snapshot() *patternData { return p.data.Load() }

func (p *Pattern) touch() {
	p.modified.Store(true)
	p.lib.modified.Store(true)
}

// edit applies fn to a copy of the current events and publishes the copy
// when fn reports a change.
func (p *Pattern) edit(fn func(d *patternData) bool) bool {
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	next := p.snapshot().clone()
	if !fn(next) {
		return false
	}
	p.data.Store(next)
	p.touch()
	return true
}

// AddNote inserts a note, replacing any note at the same step and pitch.
// It fails for a step outside the pattern, a pitch above 127, a velocity
// outside 1-127 or a duration shorter than MinNoteDuration or longer than
// the pattern.
func (p *Pattern) AddNote(step uint32, pitch, velocity uint8, duration float64) bool {
	if pitch > 127 || velocity == 0 || velocity > 127 || !(duration >= MinNoteDuration) {
		return false
	}
	return p.edit(func(d *patternData) bool {
		if step >= d.steps() || duration > float64(d.steps()) {
			return false
		}
		d.putNote(NoteEvent{
			Step:            step,
			Pitch:           pitch,
			Velocity:        velocity,
			Duration:        duration,
			StutterCount:    1,
			StutterDuration: DefaultStutterDuration,
		})
		return true
	})
}

// RemoveNote deletes the note at step and pitch if there is one.
func (p *Pattern) RemoveNote(step uint32, pitch uint8) {
	if _, found := p.snapshot().findNote(step, pitch); !found {
		return
	}
	p.edit(func(d *patternData) bool {
		i, found := d.findNote(step, pitch)
		if !found {
			return false
		}
		d.notes = append(d.notes[:i], d.notes[i+1:]...)
		return true
	})
}

func (p *Pattern) note(step uint32, pitch uint8) (NoteEvent, bool) {
	d := p.snapshot()
	i, found := d.findNote(step, pitch)
	if !found {
		return NoteEvent{}, false
	}
	return d.notes[i], true
}

// Note returns the note at step and pitch.
func (p *Pattern) Note(step uint32, pitch uint8) (NoteEvent, bool) {
	return p.note(step, pitch)
}

// NoteStart returns the step at which a note of this pitch sounding at step
// started, or -1.
func (p *Pattern) NoteStart(step uint32, pitch uint8) int {
	d := p.snapshot()
	start := -1
	for _, n := range d.notes {
		if n.Step > step {
			break
		}
		if n.Pitch != pitch {
			continue
		}
		span := uint32(math.Ceil(n.Duration))
		if span == 0 {
			span = 1
		}
		if step < n.Step+span {
			start = int(n.Step)
		}
	}
	return start
}

func (p *Pattern) NoteVelocity(step uint32, pitch uint8) uint8 {
	n, _ := p.note(step, pitch)
	return n.Velocity
}

func (p *Pattern) NoteDuration(step uint32, pitch uint8) float64 {
	n, _ := p.note(step, pitch)
	return n.Duration
}

func (p *Pattern) StutterCount(step uint32, pitch uint8) uint8 {
	n, _ := p.note(step, pitch)
	return n.StutterCount
}

func (p *Pattern) StutterDuration(step uint32, pitch uint8) float64 {
	n, _ := p.note(step, pitch)
	return n.StutterDuration
}

// setNote applies fn to an existing note.
func (p *Pattern) setNote(step uint32, pitch uint8, fn func(d *patternData, n *NoteEvent) bool) {
	if _, found := p.snapshot().findNote(step, pitch); !found {
		return
	}
	p.edit(func(d *patternData) bool {
		i, found := d.findNote(step, pitch)
		if !found {
			return false
		}
		return fn(d, &d.notes[i])
	})
}

func (p *Pattern) SetNoteVelocity(step uint32, pitch, velocity uint8) {
	if velocity == 0 || velocity > 127 {
		return
	}
	p.setNote(step, pitch, func(_ *patternData, n *NoteEvent) bool {
		n.Velocity = velocity
		return true
	})
}

func (p *Pattern) SetNoteDuration(step uint32, pitch uint8, duration float64) {
	if !(duration >= MinNoteDuration) {
		return
	}
	p.setNote(step, pitch, func(d *patternData, n *NoteEvent) bool {
		if duration > float64(d.steps()) {
			return false
		}
		n.Duration = duration
		return true
	})
}

func (p *Pattern) SetStutterCount(step uint32, pitch, count uint8) {
	if count == 0 || count > MaxStutterCount {
		return
	}
	p.setNote(step, pitch, func(_ *patternData, n *NoteEvent) bool {
		n.StutterCount = count
		return true
	})
}

func (p *Pattern) SetStutterDuration(step uint32, pitch uint8, dur float64) {
	if !(dur >= MinStutterDuration && dur <= MaxStutterDuration) {
		return
	}
	p.setNote(step, pitch, func(_ *patternData, n *NoteEvent) bool {
		n.StutterDuration = dur
		return true
	})
}

// Notes returns a copy of all notes ordered by step, then pitch.
func (p *Pattern) Notes() []NoteEvent {
	return append([]NoteEvent(nil), p.snapshot().notes...)
}

func (p *Pattern) NoteCount() int { return len(p.snapshot().notes) }

func (p *Pattern) IsEmpty() bool { return len(p.snapshot().notes) == 0 }

// LastStep returns the highest step holding a note, or -1.
func (p *Pattern) LastStep() int {
	d := p.snapshot()
	if len(d.notes) == 0 {
		return -1
	}
	return int(d.notes[len(d.notes)-1].Step)
}

// Transpose shifts every pitch by delta, clamping to 0-127. Notes that
// collide after clamping collapse into one.
func (p *Pattern) Transpose(delta int) {
	if delta == 0 {
		return
	}
	p.edit(func(d *patternData) bool {
		for i := range d.notes {
			d.notes[i].Pitch = uint8(clampInt(int(d.notes[i].Pitch)+delta, 0, 127))
		}
		sortNotes(d)
		return true
	})
}

// ChangeVelocityAll adds delta to every velocity, clamped to 1-127.
func (p *Pattern) ChangeVelocityAll(delta int) {
	p.edit(func(d *patternData) bool {
		for i := range d.notes {
			d.notes[i].Velocity = uint8(clampInt(int(d.notes[i].Velocity)+delta, 1, 127))
		}
		return len(d.notes) > 0
	})
}

// ChangeDurationAll adds delta steps to every duration.
func (p *Pattern) ChangeDurationAll(delta float64) {
	p.edit(func(d *patternData) bool {
		for i := range d.notes {
			d.notes[i].Duration = clampFloat(d.notes[i].Duration+delta, MinNoteDuration, float64(d.steps()))
		}
		return len(d.notes) > 0
	})
}

// ChangeStutterCountAll adds delta to every stutter count, clamped to 1-16.
func (p *Pattern) ChangeStutterCountAll(delta int) {
	p.edit(func(d *patternData) bool {
		for i := range d.notes {
			d.notes[i].StutterCount = uint8(clampInt(int(d.notes[i].StutterCount)+delta, 1, MaxStutterCount))
		}
		return len(d.notes) > 0
	})
}

// ChangeStutterDurAll adds delta steps to every stutter spacing.
func (p *Pattern) ChangeStutterDurAll(delta float64) {
	p.edit(func(d *patternData) bool {
		for i := range d.notes {
			d.notes[i].StutterDuration = clampFloat(d.notes[i].StutterDuration+delta, MinStutterDuration, MaxStutterDuration)
		}
		return len(d.notes) > 0
	})
}

// AddProgramChange sets the program sent at step. Fails outside the pattern
// or for a program above 127.
func (p *Pattern) AddProgramChange(step uint32, program uint8) bool {
	if program > 127 {
		return false
	}
	return p.edit(func(d *patternData) bool {
		if step >= d.steps() {
			return false
		}
		d.putProgram(ProgramChange{Step: step, Program: program})
		return true
	})
}

func (p *Pattern) RemoveProgramChange(step uint32) {
	if _, found := p.snapshot().findProgram(step); !found {
		return
	}
	p.edit(func(d *patternData) bool {
		i, found := d.findProgram(step)
		if !found {
			return false
		}
		d.programs = append(d.programs[:i], d.programs[i+1:]...)
		return true
	})
}

// ProgramChange returns the program sent at step.
func (p *Pattern) ProgramChange(step uint32) (uint8, bool) {
	d := p.snapshot()
	i, found := d.findProgram(step)
	if !found {
		return 0, false
	}
	return d.programs[i].Program, true
}

func (p *Pattern) ProgramChanges() []ProgramChange {
	return append([]ProgramChange(nil), p.snapshot().programs...)
}

// Clear removes all events and keeps the dimensions.
func (p *Pattern) Clear() {
	p.edit(func(d *patternData) bool {
		d.notes = nil
		d.programs = nil
		return true
	})
}

func (p *Pattern) StepsPerBeat() uint32 { return p.snapshot().stepsPerBeat }

// SetStepsPerBeat accepts divisors of PPQN. Notes beyond the new length are
// dropped.
func (p *Pattern) SetStepsPerBeat(n uint32) bool {
	if !validStepsPerBeat(n) {
		return false
	}
	return p.edit(func(d *patternData) bool {
		d.stepsPerBeat = n
		d.truncate()
		return true
	})
}

func (p *Pattern) BeatsInPattern() uint32 { return p.snapshot().beats }

// SetBeatsInPattern accepts 1-64 beats. Notes beyond the new length are
// dropped.
func (p *Pattern) SetBeatsInPattern(n uint32) bool {
	if n == 0 || n > MaxBeatsInPattern {
		return false
	}
	return p.edit(func(d *patternData) bool {
		d.beats = n
		d.truncate()
		return true
	})
}

// Steps is stepsPerBeat × beatsInPattern.
func (p *Pattern) Steps() uint32 { return p.snapshot().steps() }

func (p *Pattern) ClocksPerStep() uint32 { return p.snapshot().clocksPerStep() }

// Length is the pattern length in ticks.
func (p *Pattern) Length() uint32 { return p.snapshot().length() }

func (p *Pattern) Scale() uint8 {
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	return p.scale
}

func (p *Pattern) SetScale(scale uint8) {
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	p.scale = scale
	p.touch()
}

func (p *Pattern) Tonic() uint8 {
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	return p.tonic
}

func (p *Pattern) SetTonic(tonic uint8) {
	if tonic > 11 {
		return
	}
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	p.tonic = tonic
	p.touch()
}

func (p *Pattern) RefNote() uint8 {
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	return p.refNote
}

func (p *Pattern) SetRefNote(note uint8) {
	if note > 127 {
		return
	}
	p.lib.mu.Lock()
	defer p.lib.mu.Unlock()
	p.refNote = note
	p.touch()
}

// Modified reports an edit since the last save.
func (p *Pattern) Modified() bool { return p.modified.Load() }

// sortNotes restores (step, pitch) order and keeps the last of any duplicates.
func sortNotes(d *patternData) {
	sort.SliceStable(d.notes, func(i, j int) bool {
		return noteLess(d.notes[i], d.notes[j].Step, d.notes[j].Pitch)
	})
	out := d.notes[:0]
	for _, n := range d.notes {
		if k := len(out); k > 0 && out[k-1].Step == n.Step && out[k-1].Pitch == n.Pitch {
			out[k-1] = n
			continue
		}
		out = append(out, n)
	}
	d.notes = out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
