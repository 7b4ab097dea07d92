// Package transport holds the musical clock shared by every sequence of an
// engine: tempo, bar length, clock source and timebase ownership.
package transport

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ClocksPerBeat is the engine resolution. It matches the MIDI clock
// convention of 24 pulses per quarter note so one external pulse is one tick.
const ClocksPerBeat = 24

const (
	MinTempo     = 20.0
	MaxTempo     = 300.0
	DefaultTempo = 120.0

	DefaultBeatsPerBar = 4
	MaxBeatsPerBar     = 32

	DefaultSampleRate  = 48000
	DefaultSyncTimeout = 1 * time.Second

	// maxTicksPerCycle bounds Advance when a cycle is unexpectedly long.
	maxTicksPerCycle = 1024
)

// ClockSource selects who drives the tick counter.
type ClockSource uint8

const (
	ClockInternal ClockSource = iota
	ClockMIDI
	ClockTimebaseCandidate
)

func (c ClockSource) String() string {
	switch c {
	case ClockInternal:
		return "internal"
	case ClockMIDI:
		return "midi"
	case ClockTimebaseCandidate:
		return "timebase"
	}
	return "unknown"
}

// ParseClockSource accepts the names produced by String.
func ParseClockSource(s string) (ClockSource, bool) {
	switch s {
	case "internal", "":
		return ClockInternal, true
	case "midi":
		return ClockMIDI, true
	case "timebase":
		return ClockTimebaseCandidate, true
	}
	return ClockInternal, false
}

// Status is the roll state of the transport.
type Status uint8

const (
	Stopped Status = iota
	Rolling
)

func (s Status) String() string {
	if s == Rolling {
		return "rolling"
	}
	return "stopped"
}

// BBT is a bar/beat/tick position. Bar and beat are 1-based.
type BBT struct {
	Bar  uint32
	Beat uint32
	Tick uint32
}

// Transport is safe for use from a real-time goroutine and any number of
// control goroutines. Values read on the tick path are atomics; the mutex
// only serializes control writers that touch more than one field.
type Transport struct {
	mu sync.Mutex

	sampleRate  uint32
	tempo       atomic.Uint64 // math.Float64bits
	beatsPerBar atomic.Uint32
	source      atomic.Uint32
	status      atomic.Uint32
	master      atomic.Pointer[string]

	tick    atomic.Uint64
	frame   atomic.Uint64
	phase   float64     // frames until the next tick, owned by Advance
	rephase atomic.Bool // control writers ask Advance to reset phase

	// external clock
	pulses      atomic.Uint32
	lastPulse   atomic.Int64 // unix nanos
	pulseTempo  atomic.Uint64
	syncTimeout atomic.Int64

	metronome       atomic.Bool
	metronomeVolume atomic.Uint64

	now func() time.Time
}

// New creates a stopped transport at the default tempo.
func New(sampleRate uint32) *Transport {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	t := &Transport{
		sampleRate: sampleRate,
		now:        time.Now,
	}
	t.tempo.Store(math.Float64bits(DefaultTempo))
	t.beatsPerBar.Store(DefaultBeatsPerBar)
	t.syncTimeout.Store(int64(DefaultSyncTimeout))
	t.metronomeVolume.Store(math.Float64bits(1.0))
	return t
}

func (t *Transport) SampleRate() uint32 { return t.sampleRate }

// Tempo returns the effective tempo. While slaved to a live external clock
// this is the tempo measured from the incoming pulses.
func (t *Transport) Tempo() float64 {
	if t.ClockSource() == ClockMIDI {
		if bpm := math.Float64frombits(t.pulseTempo.Load()); bpm > 0 {
			return bpm
		}
	}
	return math.Float64frombits(t.tempo.Load())
}

// SetTempo sets the internal tempo, clamped to 20-300 BPM.
func (t *Transport) SetTempo(bpm float64) {
	if math.IsNaN(bpm) {
		return
	}
	if bpm < MinTempo {
		bpm = MinTempo
	}
	if bpm > MaxTempo {
		bpm = MaxTempo
	}
	t.tempo.Store(math.Float64bits(bpm))
}

func (t *Transport) BeatsPerBar() uint32 { return t.beatsPerBar.Load() }

// SetBeatsPerBar ignores values outside 1-32.
func (t *Transport) SetBeatsPerBar(n uint32) {
	if n == 0 || n > MaxBeatsPerBar {
		return
	}
	t.beatsPerBar.Store(n)
}

// ClocksPerBar is the bar length in ticks at the current meter.
func (t *Transport) ClocksPerBar() uint64 {
	return uint64(t.BeatsPerBar()) * ClocksPerBeat
}

// FramesPerClock converts a tempo into audio frames per tick.
func (t *Transport) FramesPerClock(tempo float64) float64 {
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	return (60.0 / tempo) / ClocksPerBeat * float64(t.sampleRate)
}

func (t *Transport) ClockSource() ClockSource { return ClockSource(t.source.Load()) }

func (t *Transport) SetClockSource(src ClockSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.source.Store(uint32(src))
	t.pulses.Store(0)
	t.pulseTempo.Store(0)
	t.lastPulse.Store(0)
}

func (t *Transport) SyncTimeout() time.Duration { return time.Duration(t.syncTimeout.Load()) }

func (t *Transport) SetSyncTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	t.syncTimeout.Store(int64(d))
}

// ClockPulse records one incoming MIDI timing clock message.
func (t *Transport) ClockPulse() {
	if t.ClockSource() != ClockMIDI {
		return
	}
	now := t.now().UnixNano()
	if last := t.lastPulse.Swap(now); last > 0 && now > last {
		interval := float64(now-last) / float64(time.Second)
		bpm := 60.0 / (interval * ClocksPerBeat)
		if prev := math.Float64frombits(t.pulseTempo.Load()); prev > 0 {
			bpm = prev*0.875 + bpm*0.125
		}
		t.pulseTempo.Store(math.Float64bits(bpm))
	}
	if t.IsRolling() {
		t.pulses.Add(1)
	}
}

// Synced reports whether an external clock pulse arrived within the sync timeout.
func (t *Transport) Synced() bool {
	last := t.lastPulse.Load()
	if last == 0 {
		return false
	}
	return t.now().UnixNano()-last <= t.syncTimeout.Load()
}

// RequestTimebase makes client the timebase master if nobody holds it.
func (t *Transport) RequestTimebase(client string) bool {
	if client == "" {
		return false
	}
	return t.master.CompareAndSwap(nil, &client)
}

// ReleaseTimebase gives up mastership. It does nothing unless client holds it.
func (t *Transport) ReleaseTimebase(client string) {
	cur := t.master.Load()
	if cur == nil || *cur != client {
		return
	}
	t.master.CompareAndSwap(cur, nil)
}

// TimebaseMaster returns the current holder or "".
func (t *Transport) TimebaseMaster() string {
	if cur := t.master.Load(); cur != nil {
		return *cur
	}
	return ""
}

func (t *Transport) mayPosition(client string) bool {
	cur := t.master.Load()
	return cur == nil || *cur == client
}

func (t *Transport) Start(client string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Load() == uint32(Rolling) {
		return
	}
	t.rephase.Store(true)
	t.pulses.Store(0)
	t.status.Store(uint32(Rolling))
}

func (t *Transport) Stop(client string) {
	t.status.Store(uint32(Stopped))
}

func (t *Transport) Toggle(client string) {
	if t.IsRolling() {
		t.Stop(client)
	} else {
		t.Start(client)
	}
}

func (t *Transport) Status() Status { return Status(t.status.Load()) }

func (t *Transport) IsRolling() bool { return t.Status() == Rolling }

// Locate moves the transport to an absolute frame.
func (t *Transport) Locate(client string, frame uint64) bool {
	if !t.mayPosition(client) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fpc := t.FramesPerClock(t.Tempo())
	t.frame.Store(frame)
	t.tick.Store(uint64(float64(frame) / fpc))
	t.rephase.Store(true)
	return true
}

// ToStartOfBar rewinds the tick counter to the start of the current bar.
func (t *Transport) ToStartOfBar(client string) bool {
	if !t.mayPosition(client) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bar := t.ClocksPerBar()
	tick := t.tick.Load() / bar * bar
	t.tick.Store(tick)
	t.frame.Store(uint64(float64(tick) * t.FramesPerClock(t.Tempo())))
	t.rephase.Store(true)
	return true
}

// Location converts a bar/beat/tick position (1-based bar and beat) to a frame.
func (t *Transport) Location(bar, beat, tick uint32) uint64 {
	if bar == 0 {
		bar = 1
	}
	if beat == 0 {
		beat = 1
	}
	clocks := (uint64(bar-1)*uint64(t.BeatsPerBar())+uint64(beat-1))*ClocksPerBeat + uint64(tick)
	return uint64(float64(clocks) * t.FramesPerClock(t.Tempo()))
}

// Tick is the number of clocks processed since the transport origin.
func (t *Transport) Tick() uint64 { return t.tick.Load() }

// IncTick completes the current tick.
func (t *Transport) IncTick() { t.tick.Add(1) }

func (t *Transport) Frame() uint64 { return t.frame.Load() }

// Position resolves the current tick into bar/beat/tick.
func (t *Transport) Position() BBT {
	tick := t.Tick()
	bpb := uint64(t.BeatsPerBar())
	beats := tick / ClocksPerBeat
	return BBT{
		Bar:  uint32(beats/bpb) + 1,
		Beat: uint32(beats%bpb) + 1,
		Tick: uint32(tick % ClocksPerBeat),
	}
}

// Advance accounts for one processing cycle of frames and returns how many
// ticks fall due inside it. It is called from the real-time goroutine only.
func (t *Transport) Advance(frames uint32) int {
	if !t.IsRolling() {
		return 0
	}
	t.frame.Add(uint64(frames))
	if t.rephase.Swap(false) {
		t.phase = 0
	}

	if t.ClockSource() == ClockMIDI {
		if t.Synced() {
			return int(t.pulses.Swap(0))
		}
		if t.lastPulse.Load() != 0 {
			// external clock went away
			t.source.Store(uint32(ClockInternal))
			t.pulseTempo.Store(0)
			t.phase = 0
		} else {
			return 0
		}
	}

	fpc := t.FramesPerClock(t.Tempo())
	budget := float64(frames)
	n := 0
	for t.phase < budget && n < maxTicksPerCycle {
		n++
		t.phase += fpc
	}
	t.phase -= budget
	if t.phase < 0 {
		t.phase = 0
	}
	return n
}

func (t *Transport) EnableMetronome(on bool) { t.metronome.Store(on) }

func (t *Transport) MetronomeEnabled() bool { return t.metronome.Load() }

// SetMetronomeVolume clamps to 0-1.
func (t *Transport) SetMetronomeVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	v = math.Max(0, math.Min(1, v))
	t.metronomeVolume.Store(math.Float64bits(v))
}

func (t *Transport) MetronomeVolume() float64 {
	return math.Float64frombits(t.metronomeVolume.Load())
}
