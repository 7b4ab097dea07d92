package sequencer

import (
	"sort"
	"sync"
	"sync/atomic"

	"go-stepseq/debug"
	"go-stepseq/transport"
)

const (
	DefaultSequencesInBank    = 16
	DefaultMaxSequencesInBank = 64
	DefaultTriggerChannel     = 15
	DefaultClient             = "stepseq"
)

// stopQuantum is the step grid a stop request waits for.
const stopQuantum = PPQN / DefaultStepsPerBeat

// Options configures an Engine.
type Options struct {
	SampleRate         uint32
	SequencesInBank    int   // size of bank 1 at startup
	MaxSequencesInBank int   // capacity of every bank
	TriggerChannel     uint8 // NoTrigger disables MIDI triggering
	Client             string
	SendClock          bool // emit MIDI clock while running on the internal clock
	Backup             bool // keep a .bak of the previous project file on save
}

// DefaultOptions returns the options used by New when fields are zero.
func DefaultOptions() Options {
	return Options{
		SampleRate:         transport.DefaultSampleRate,
		SequencesInBank:    DefaultSequencesInBank,
		MaxSequencesInBank: DefaultMaxSequencesInBank,
		TriggerChannel:     DefaultTriggerChannel,
		Client:             DefaultClient,
	}
}

// Engine is one independent sequencer session: the pattern library, the
// bank hierarchy, the transport and the scheduler state. Any number of
// control goroutines may call it while one real-time goroutine drives
// Process or Tick.
type Engine struct {
	mu   sync.Mutex // serializes control edits; never taken by the tick path
	opts Options

	transport *transport.Transport
	lib       atomic.Pointer[Library]
	banks     atomic.Pointer[[]*Bank] // ascending index

	triggerChannel atomic.Uint32
	learn          atomic.Pointer[learnTarget]
	out            Output // mu

	sched *Scheduler
}

// New creates an engine with bank 1 holding opts.SequencesInBank empty
// sequences.
func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.SampleRate == 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.MaxSequencesInBank <= 0 {
		opts.MaxSequencesInBank = def.MaxSequencesInBank
	}
	if opts.SequencesInBank < 0 || opts.SequencesInBank > opts.MaxSequencesInBank {
		opts.SequencesInBank = def.SequencesInBank
	}
	if opts.Client == "" {
		opts.Client = def.Client
	}

	e := &Engine{
		opts:      opts,
		transport: transport.New(opts.SampleRate),
	}
	e.lib.Store(newLibrary(&e.mu))
	e.banks.Store(&[]*Bank{})
	e.triggerChannel.Store(uint32(opts.TriggerChannel))
	e.sched = newScheduler(e)

	if opts.SequencesInBank > 0 {
		e.SetSequencesInBank(1, opts.SequencesInBank)
	}
	e.Patterns().clearModified()
	return e
}

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) Transport() *transport.Transport { return e.transport }

// Patterns returns the pattern library.
func (e *Engine) Patterns() *Library { return e.lib.Load() }

// IsModified reports unsaved edits.
func (e *Engine) IsModified() bool { return e.Patterns().IsModified() }

func (e *Engine) bankList() []*Bank { return *e.banks.Load() }

// Bank returns bank i, or nil.
func (e *Engine) Bank(i uint8) *Bank {
	for _, b := range e.bankList() {
		if b.index == i {
			return b
		}
	}
	return nil
}

// Banks returns the indexes of existing banks.
func (e *Engine) Banks() []uint8 {
	banks := e.bankList()
	out := make([]uint8, len(banks))
	for i, b := range banks {
		out[i] = b.index
	}
	return out
}

// Sequence returns slot seq of bank, or nil.
func (e *Engine) Sequence(bank uint8, seq int) *Sequence {
	b := e.Bank(bank)
	if b == nil {
		return nil
	}
	return b.Sequence(seq)
}

// SequencesInBank returns the slot count of bank, 0 when it does not exist.
func (e *Engine) SequencesInBank(bank uint8) int {
	if b := e.Bank(bank); b != nil {
		return b.Len()
	}
	return 0
}

// ensureBank returns bank i, creating it. Requires e.mu.
func (e *Engine) ensureBank(i uint8) *Bank {
	if b := e.Bank(i); b != nil {
		return b
	}
	b := newBank(i)
	cur := e.bankList()
	next := make([]*Bank, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, b)
	sortBanks(next)
	e.banks.Store(&next)
	return b
}

func sortBanks(banks []*Bank) {
	sort.Slice(banks, func(i, j int) bool { return banks[i].index < banks[j].index })
}

// SetSequencesInBank resizes bank, creating it if needed. Growing adds
// stopped empty sequences. Shrinking fails if a removed sequence is not
// stopped. Bank 0 and sizes above the capacity are rejected.
func (e *Engine) SetSequencesInBank(bank uint8, n int) bool {
	if bank == 0 || n < 0 || n > e.opts.MaxSequencesInBank {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	lib := e.Patterns()
	b := e.ensureBank(bank)
	cur := b.list()
	if n == len(cur) {
		return true
	}
	if n < len(cur) {
		for _, s := range cur[n:] {
			if s.PlayState() != Stopped {
				return false
			}
		}
		next := append([]*Sequence(nil), cur[:n]...)
		b.sequences.Store(&next)
	} else {
		next := make([]*Sequence, 0, n)
		next = append(next, cur...)
		for len(next) < n {
			next = append(next, newSequence(lib, e.transport))
		}
		b.sequences.Store(&next)
	}
	lib.markModified()
	debug.Log("bank", "bank=%d sequences=%d", bank, n)
	return true
}

// ClearBank stops and empties every sequence of bank.
func (e *Engine) ClearBank(bank uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return
	}
	for _, s := range b.list() {
		s.halt()
		s.reset()
		s.name = ""
	}
	e.Patterns().markModified()
}

// InsertSequence adds an empty sequence at slot at.
func (e *Engine) InsertSequence(bank uint8, at int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return false
	}
	cur := b.list()
	if at < 0 || at > len(cur) || len(cur) >= e.opts.MaxSequencesInBank {
		return false
	}
	next := make([]*Sequence, 0, len(cur)+1)
	next = append(next, cur[:at]...)
	next = append(next, newSequence(e.Patterns(), e.transport))
	next = append(next, cur[at:]...)
	b.sequences.Store(&next)
	e.Patterns().markModified()
	return true
}

// RemoveSequence deletes slot at. A sequence that is not stopped cannot be
// removed.
func (e *Engine) RemoveSequence(bank uint8, at int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return false
	}
	cur := b.list()
	if at < 0 || at >= len(cur) || cur[at].PlayState() != Stopped {
		return false
	}
	next := make([]*Sequence, 0, len(cur)-1)
	next = append(next, cur[:at]...)
	next = append(next, cur[at+1:]...)
	b.sequences.Store(&next)
	e.Patterns().markModified()
	return true
}

// MoveSequence moves slot from to slot to, shifting the slots between. A
// playing sequence cannot be moved.
func (e *Engine) MoveSequence(bank uint8, from, to int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return false
	}
	cur := b.list()
	if from < 0 || from >= len(cur) || to < 0 || to >= len(cur) {
		return false
	}
	if cur[from].PlayState() != Stopped {
		return false
	}
	if from == to {
		return true
	}
	next := append([]*Sequence(nil), cur...)
	s := next[from]
	if from < to {
		copy(next[from:to], next[from+1:to+1])
	} else {
		copy(next[to+1:from+1], next[to:from])
	}
	next[to] = s
	b.sequences.Store(&next)
	e.Patterns().markModified()
	return true
}

// PlayState returns the state of a sequence, Stopped when it does not exist.
func (e *Engine) PlayState(bank uint8, seq int) PlayState {
	if s := e.Sequence(bank, seq); s != nil {
		return s.PlayState()
	}
	return Stopped
}

// SetPlayState requests a transition for the sequence and every member of
// its group. Starting counts as Playing and Stopping as Stopped.
func (e *Engine) SetPlayState(bank uint8, seq int, state PlayState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return
	}
	s := b.Sequence(seq)
	if s == nil {
		return
	}
	e.setPlayState(b, s, state == Playing || state == Starting)
}

// setPlayState requires e.mu.
func (e *Engine) setPlayState(b *Bank, s *Sequence, play bool) {
	members := b.group(s)
	if play {
		for _, m := range members {
			m.requestPlay()
		}
		if !e.transport.IsRolling() {
			e.transport.ToStartOfBar(e.opts.Client)
			e.transport.Start(e.opts.Client)
		}
	} else {
		for _, m := range members {
			m.requestStop()
		}
	}
	debug.Log("play", "bank=%d seq=%d play=%v group=%d members=%d", b.index, b.indexOf(s), play, s.Group(), len(members))
}

// TogglePlayState starts a stopped or stopping sequence and stops a playing
// or starting one.
func (e *Engine) TogglePlayState(bank uint8, seq int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.Bank(bank)
	if b == nil {
		return
	}
	if s := b.Sequence(seq); s != nil {
		e.toggle(b, s)
	}
}

// toggle requires e.mu.
func (e *Engine) toggle(b *Bank, s *Sequence) {
	switch s.PlayState() {
	case Stopped, Stopping:
		e.setPlayState(b, s, true)
	default:
		e.setPlayState(b, s, false)
	}
}

// StopAll requests a stop of every sequence.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.bankList() {
		for _, s := range b.list() {
			s.requestStop()
		}
	}
}

// CleanPatterns deletes every pattern no track places and returns how many
// were removed.
func (e *Engine) CleanPatterns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	used := make(map[uint32]bool)
	for _, b := range e.bankList() {
		for _, s := range b.list() {
			for _, t := range s.trackList() {
				for _, pl := range t.list() {
					used[pl.Pattern] = true
				}
			}
		}
	}
	lib := e.Patterns()
	var unused []uint32
	for _, id := range lib.IDs() {
		if !used[id] {
			unused = append(unused, id)
		}
	}
	lib.remove(unused)
	return len(unused)
}

// Dropped counts events the scheduler could not queue or emit.
func (e *Engine) Dropped() uint64 { return e.sched.dropped.Load() }

// Stats summarizes the session.
type Stats struct {
	Tempo       float64 `json:"tempo"`
	BeatsPerBar uint32  `json:"beatsPerBar"`
	Banks       int     `json:"banks"`
	Sequences   int     `json:"sequences"`
	Playing     int     `json:"playing"`
	Patterns    int     `json:"patterns"`
	Notes       int     `json:"notes"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		Tempo:       e.transport.Tempo(),
		BeatsPerBar: e.transport.BeatsPerBar(),
	}
	for _, b := range e.bankList() {
		st.Banks++
		for _, s := range b.list() {
			st.Sequences++
			if s.PlayState() != Stopped {
				st.Playing++
			}
		}
	}
	lib := e.Patterns()
	for _, id := range lib.IDs() {
		st.Patterns++
		st.Notes += lib.Get(id).NoteCount()
	}
	return st
}

// PatternInfo describes one pattern for listings.
type PatternInfo struct {
	ID            uint32 `json:"id"`
	Steps         uint32 `json:"steps"`
	Beats         uint32 `json:"beats"`
	StepsPerBeat  uint32 `json:"stepsPerBeat"`
	ClocksPerStep uint32 `json:"clocksPerStep"`
	Length        uint32 `json:"length"`
	Scale         uint8  `json:"scale"`
	Tonic         uint8  `json:"tonic"`
	RefNote       uint8  `json:"refNote"`
	Modified      bool   `json:"modified"`
	LastStep      int    `json:"lastStep"`
	Notes         int    `json:"notes"`
}

func (e *Engine) PatternInfo(id uint32) (PatternInfo, bool) {
	p := e.Patterns().Get(id)
	if p == nil {
		return PatternInfo{}, false
	}
	return PatternInfo{
		ID:            id,
		Steps:         p.Steps(),
		Beats:         p.BeatsInPattern(),
		StepsPerBeat:  p.StepsPerBeat(),
		ClocksPerStep: p.ClocksPerStep(),
		Length:        p.Length(),
		Scale:         p.Scale(),
		Tonic:         p.Tonic(),
		RefNote:       p.RefNote(),
		Modified:      p.Modified(),
		LastStep:      p.LastStep(),
		Notes:         p.NoteCount(),
	}, true
}
