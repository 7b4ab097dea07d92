package sequencer

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go-stepseq/midi"
)

func TestSetSequencesInBank(t *testing.T) {
	e := New(Options{SequencesInBank: 4, MaxSequencesInBank: 8})

	tests := []struct {
		bank uint8
		n    int
		want bool
	}{
		{0, 4, false},
		{1, 9, false},
		{1, -1, false},
		{2, 3, true},
		{1, 8, true},
		{1, 2, true},
	}
	for _, tt := range tests {
		if got := e.SetSequencesInBank(tt.bank, tt.n); got != tt.want {
			t.Errorf("SetSequencesInBank(%d, %d) = %v, want %v", tt.bank, tt.n, got, tt.want)
		}
	}
	if got := e.SequencesInBank(1); got != 2 {
		t.Errorf("SequencesInBank(1) = %d, want 2", got)
	}
	if got := e.SequencesInBank(7); got != 0 {
		t.Errorf("SequencesInBank(7) = %d, want 0", got)
	}
	if got := e.Banks(); !reflect.DeepEqual(got, []uint8{1, 2}) {
		t.Errorf("Banks() = %v, want [1 2]", got)
	}
	if e.Sequence(2, 3) != nil || e.Sequence(9, 0) != nil {
		t.Error("Sequence out of range != nil")
	}
}

func TestShrinkRejectedWhilePlaying(t *testing.T) {
	e := newTestEngine(t)
	e.SetPlayState(1, 1, Playing)
	if e.SetSequencesInBank(1, 1) {
		t.Fatal("shrinking over a playing sequence succeeded")
	}
	e.Sequence(1, 1).halt()
	if !e.SetSequencesInBank(1, 1) {
		t.Error("shrinking over a stopped sequence failed")
	}
}

func TestInsertRemoveMoveSequence(t *testing.T) {
	e := New(Options{SequencesInBank: 3})
	a, b, c := e.Sequence(1, 0), e.Sequence(1, 1), e.Sequence(1, 2)

	if !e.MoveSequence(1, 0, 2) {
		t.Fatal("MoveSequence(0, 2) = false")
	}
	if got := e.Bank(1).Sequences(); !reflect.DeepEqual(got, []*Sequence{b, c, a}) {
		t.Error("MoveSequence(0, 2) order wrong")
	}
	if !e.MoveSequence(1, 2, 0) {
		t.Fatal("MoveSequence(2, 0) = false")
	}
	if got := e.Bank(1).Sequences(); !reflect.DeepEqual(got, []*Sequence{a, b, c}) {
		t.Error("MoveSequence(2, 0) order wrong")
	}

	if !e.InsertSequence(1, 1) || e.Sequence(1, 2) != b {
		t.Error("InsertSequence(1) did not shift")
	}
	if e.InsertSequence(1, 9) {
		t.Error("InsertSequence(9) succeeded")
	}

	e.SetPlayState(1, 0, Playing)
	if e.RemoveSequence(1, 0) || e.MoveSequence(1, 0, 1) {
		t.Error("removed or moved a playing sequence")
	}
	if !e.RemoveSequence(1, 1) || e.SequencesInBank(1) != 3 {
		t.Error("RemoveSequence(1) failed")
	}
}

func TestCleanPatterns(t *testing.T) {
	e := newTestEngine(t)
	lib := e.Patterns()
	spare := lib.Create()
	used := lib.Create()
	e.Sequence(1, 0).Track(0).AddPattern(96, used, RejectOverlap)

	if got := e.CleanPatterns(); got != 1 {
		t.Errorf("CleanPatterns() = %d, want 1", got)
	}
	if lib.Get(spare) != nil {
		t.Error("unreferenced pattern survived")
	}
	if lib.Get(used) == nil || lib.Get(1) == nil || lib.Get(2) == nil {
		t.Error("referenced pattern removed")
	}
	if got := e.CleanPatterns(); got != 0 {
		t.Errorf("second CleanPatterns() = %d, want 0", got)
	}
}

func TestModifiedFlag(t *testing.T) {
	e := newTestEngine(t)
	if e.IsModified() {
		t.Fatal("new engine is modified")
	}
	e.Sequence(1, 0).SetName("intro")
	if !e.IsModified() {
		t.Error("SetName did not mark the session modified")
	}
}

func TestStatsAndPatternInfo(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 1)
	firstPattern(t, e, 1).AddNote(1, 60, 100, 1)
	e.SetPlayState(1, 0, Playing)

	st := e.Stats()
	want := Stats{Tempo: 120, BeatsPerBar: 4, Banks: 1, Sequences: 2, Playing: 1, Patterns: 2, Notes: 2}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	info, ok := e.PatternInfo(2)
	if !ok || info.LastStep != 1 || info.Length != 96 || info.ClocksPerStep != 6 || !info.Modified {
		t.Errorf("PatternInfo(2) = %+v, %v", info, ok)
	}
	if _, ok := e.PatternInfo(42); ok {
		t.Error("PatternInfo(42) ok")
	}
}

func TestStopAll(t *testing.T) {
	e := newTestEngine(t)
	e.SetPlayState(1, 0, Playing)
	e.SetPlayState(1, 1, Playing)
	e.Tick()
	e.StopAll()
	for i := 0; i < 2; i++ {
		if st := e.PlayState(1, i); st != Stopping {
			t.Errorf("PlayState(1, %d) = %v, want stopping", i, st)
		}
	}
}

// recorder collects events sent through Output.
type recorder struct {
	mu     sync.Mutex
	events []midi.Event
	ch     chan midi.Event
	err    error
}

func newRecorder() *recorder { return &recorder{ch: make(chan midi.Event, 64)} }

func (r *recorder) Send(ev midi.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

func (r *recorder) wait(t *testing.T, typ uint8) midi.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no event of type %#x", typ)
			return midi.Event{}
		}
	}
}

func TestDirectMIDI(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SendStart(); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("SendStart without output = %v, want ErrNoOutput", err)
	}

	rec := newRecorder()
	e.SetOutput(rec)
	if err := e.PlayNote(60, 100, 2, time.Millisecond); err != nil {
		t.Fatalf("PlayNote: %v", err)
	}
	if ev := rec.wait(t, midi.NoteOn); ev.Note != 60 || ev.Channel != 2 {
		t.Errorf("note-on = %+v", ev)
	}
	if ev := rec.wait(t, midi.NoteOff); ev.Note != 60 {
		t.Errorf("note-off = %+v", ev)
	}
	if err := e.PlayNote(128, 100, 0, 0); err == nil {
		t.Error("PlayNote(128) = nil error")
	}

	for _, send := range []func() error{e.SendStart, e.SendStop, e.SendContinue, e.SendClock} {
		if err := send(); err != nil {
			t.Errorf("send: %v", err)
		}
	}
	if err := e.SendSongPosition(0x4000); err == nil {
		t.Error("SendSongPosition(0x4000) = nil error")
	}
	if err := e.SendSongPosition(32); err != nil {
		t.Errorf("SendSongPosition(32): %v", err)
	}
	if err := e.SendCommand(0xB0, 123, 0); err != nil {
		t.Errorf("SendCommand: %v", err)
	}

	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if last.Type != midi.Raw || last.Data != [3]uint8{0xB0, 123, 0} {
		t.Errorf("last event = %+v", last)
	}

	rec.mu.Lock()
	rec.err = errors.New("port gone")
	rec.mu.Unlock()
	if err := e.SendStop(); err == nil {
		t.Error("SendStop with a failing output = nil error")
	}
}
