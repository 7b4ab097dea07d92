package sequencer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"go-stepseq/midi"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{SequencesInBank: 2, TriggerChannel: 15})
	if got := e.SequencesInBank(1); got != 2 {
		t.Fatalf("SequencesInBank(1) = %d, want 2", got)
	}
	return e
}

// firstPattern returns the pattern placed at the start of track 0.
func firstPattern(t *testing.T, e *Engine, seq int) *Pattern {
	t.Helper()
	s := e.Sequence(1, seq)
	pls := s.Track(0).Placements()
	if len(pls) != 1 {
		t.Fatalf("track 0 has %d placements, want 1", len(pls))
	}
	return e.Patterns().Get(pls[0].Pattern)
}

func describe(ev midi.Event) string {
	switch ev.Type {
	case midi.NoteOn:
		return fmt.Sprintf("%d on ch%d %d/%d", ev.Tick, ev.Channel, ev.Note, ev.Velocity)
	case midi.NoteOff:
		return fmt.Sprintf("%d off ch%d %d", ev.Tick, ev.Channel, ev.Note)
	case midi.ProgramChange:
		return fmt.Sprintf("%d pc ch%d %d", ev.Tick, ev.Channel, ev.Program)
	case midi.Clock:
		return fmt.Sprintf("%d clock", ev.Tick)
	}
	return fmt.Sprintf("%d %#x", ev.Tick, ev.Type)
}

// runTicks runs n ticks and returns every event emitted, described.
func runTicks(e *Engine, n int) []string {
	var out []string
	for i := 0; i < n; i++ {
		for _, ev := range e.Tick() {
			out = append(out, describe(ev))
		}
	}
	return out
}

func TestNoteOnAndOff(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 1.0)
	e.SetPlayState(1, 0, Playing)

	got := runTicks(e, 8)
	want := []string{"0 on ch0 60/100", "6 off ch0 60"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if st := e.PlayState(1, 0); st != Playing {
		t.Errorf("PlayState = %v, want playing", st)
	}
}

func TestProgramChangeBeforeNotes(t *testing.T) {
	e := newTestEngine(t)
	p := firstPattern(t, e, 0)
	p.AddNote(0, 64, 90, 0.5)
	p.AddNote(0, 60, 80, 0.5)
	p.AddProgramChange(0, 7)
	e.Sequence(1, 0).Track(0).SetChannel(3)
	e.SetPlayState(1, 0, Playing)

	got := runTicks(e, 1)
	want := []string{"0 pc ch3 7", "0 on ch3 60/80", "0 on ch3 64/90"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestPlayModeAtEnd(t *testing.T) {
	tests := []struct {
		mode      PlayMode
		wantOns   int
		wantState PlayState
	}{
		{Loop, 2, Playing},
		{LoopAll, 2, Playing},
		{OneShot, 1, Stopped},
		{OneShotAll, 1, Stopped},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			e := newTestEngine(t)
			firstPattern(t, e, 0).AddNote(0, 60, 100, 1.0)
			e.Sequence(1, 0).SetPlayMode(tt.mode)
			e.SetPlayState(1, 0, Playing)

			// 96 ticks is one pattern, tick 96 is the wrap
			ons := 0
			for _, ev := range runTicks(e, 97) {
				if ev == "0 on ch0 60/100" || ev == "96 on ch0 60/100" {
					ons++
				}
			}
			if ons != tt.wantOns {
				t.Errorf("note-ons = %d, want %d", ons, tt.wantOns)
			}
			if st := e.PlayState(1, 0); st != tt.wantState {
				t.Errorf("PlayState = %v, want %v", st, tt.wantState)
			}
		})
	}
}

func TestShortTrackLoopsInsideSequence(t *testing.T) {
	e := newTestEngine(t)
	s := e.Sequence(1, 0)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 1.0)

	// second track is two patterns long, so the sequence is 192 ticks
	i := s.AddTrack(-1)
	tr := s.Track(i)
	id := e.Patterns().Create()
	tr.AddPattern(0, id, RejectOverlap)
	tr.AddPattern(96, e.Patterns().Create(), RejectOverlap)
	if got := s.Length(); got != 192 {
		t.Fatalf("Length() = %d, want 192", got)
	}

	count := func(mode PlayMode) int {
		s.SetPlayMode(mode)
		e.Transport().Stop("test")
		e.Transport().Locate("test", 0)
		e.SetPlayState(1, 0, Playing)
		n := 0
		for _, ev := range runTicks(e, 192) {
			if strings.HasSuffix(ev, "60/100") {
				n++
			}
		}
		s.halt()
		runTicks(e, 1)
		return n
	}
	if n := count(Loop); n != 2 {
		t.Errorf("Loop note-ons = %d, want 2", n)
	}
	if n := count(LoopAll); n != 1 {
		t.Errorf("LoopAll note-ons = %d, want 1", n)
	}
}

func TestStartWaitsForBar(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 1.0)
	e.Transport().Start("test")
	runTicks(e, 10)

	e.SetPlayState(1, 0, Playing)
	if got := runTicks(e, 86); len(got) != 0 {
		t.Errorf("events before the bar = %v", got)
	}
	if st := e.PlayState(1, 0); st != Starting {
		t.Errorf("PlayState = %v, want starting", st)
	}
	got := runTicks(e, 1)
	if want := []string{"96 on ch0 60/100"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestStopWaitsForStepAndFlushes(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 4.0)
	s := e.Sequence(1, 0)
	s.SetPlayMode(Loop)
	e.SetPlayState(1, 0, Playing)
	runTicks(e, 3)

	e.SetPlayState(1, 0, Stopped)
	if st := s.PlayState(); st != Stopping {
		t.Fatalf("PlayState = %v, want stopping", st)
	}
	got := runTicks(e, 4)
	if want := []string{"6 off ch0 60"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if st := s.PlayState(); st != Stopped {
		t.Errorf("PlayState = %v, want stopped", st)
	}
	if pos := s.Position(); pos != 0 {
		t.Errorf("Position = %d, want 0", pos)
	}
	if got := runTicks(e, 30); len(got) != 0 {
		t.Errorf("events after stop = %v", got)
	}
}

func TestStopFinishesOnStepInEveryMode(t *testing.T) {
	for m := OneShot; m <= LoopAll; m++ {
		t.Run(m.String(), func(t *testing.T) {
			e := newTestEngine(t)
			firstPattern(t, e, 0).AddNote(8, 62, 100, 1.0)
			s := e.Sequence(1, 0)
			s.SetPlayMode(m)
			e.SetPlayState(1, 0, Playing)
			runTicks(e, 10)
			e.SetPlayState(1, 0, Stopped)

			if got := runTicks(e, 2); len(got) != 0 {
				t.Errorf("events while stopping = %v", got)
			}
			if st := s.PlayState(); st != Stopping {
				t.Fatalf("PlayState at tick 12 = %v, want stopping", st)
			}
			runTicks(e, 1)
			if st := s.PlayState(); st != Stopped {
				t.Errorf("PlayState after the step = %v, want stopped", st)
			}
			if got := runTicks(e, 90); len(got) != 0 {
				t.Errorf("events after stop = %v", got)
			}
		})
	}
}

func TestResumeWhileStopping(t *testing.T) {
	e := newTestEngine(t)
	s := e.Sequence(1, 0)
	e.SetPlayState(1, 0, Playing)
	runTicks(e, 10)
	e.SetPlayState(1, 0, Stopped)
	e.SetPlayState(1, 0, Playing)
	if st := s.PlayState(); st != Starting {
		t.Fatalf("PlayState = %v, want starting", st)
	}
	runTicks(e, 5)
	if pos := s.Position(); pos != 15 {
		t.Errorf("Position = %d, want 15", pos)
	}
	runTicks(e, 82)
	if st := s.PlayState(); st != Playing {
		t.Errorf("PlayState after bar = %v, want playing", st)
	}
}

func TestStartingStopsAtOnce(t *testing.T) {
	e := newTestEngine(t)
	e.Transport().Start("test")
	runTicks(e, 3)
	e.SetPlayState(1, 0, Playing)
	e.SetPlayState(1, 0, Stopped)
	if st := e.PlayState(1, 0); st != Stopped {
		t.Errorf("PlayState = %v, want stopped", st)
	}
}

func TestGroupStartsTogether(t *testing.T) {
	e := newTestEngine(t)
	e.SetSequencesInBank(1, 3)
	e.Sequence(1, 0).SetGroup(2)
	e.Sequence(1, 2).SetGroup(2)

	e.SetPlayState(1, 0, Playing)
	want := []PlayState{Starting, Stopped, Starting}
	for i, w := range want {
		if st := e.PlayState(1, i); st != w {
			t.Errorf("PlayState(1, %d) = %v, want %v", i, st, w)
		}
	}

	runTicks(e, 1)
	e.TogglePlayState(1, 2)
	for _, i := range []int{0, 2} {
		if st := e.PlayState(1, i); st != Stopping {
			t.Errorf("PlayState(1, %d) after toggle = %v, want stopping", i, st)
		}
	}
}

func TestStutter(t *testing.T) {
	e := newTestEngine(t)
	p := firstPattern(t, e, 0)
	p.AddNote(0, 60, 100, 1.0)
	p.SetStutterCount(0, 60, 3)
	p.SetStutterDuration(0, 60, 0.5)
	e.SetPlayState(1, 0, Playing)

	got := runTicks(e, 12)
	want := []string{
		"0 on ch0 60/100",
		"3 off ch0 60", "3 on ch0 60/100",
		"6 off ch0 60", "6 on ch0 60/100",
		"9 off ch0 60",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRetriggerCutsPendingOff(t *testing.T) {
	e := newTestEngine(t)
	p := firstPattern(t, e, 0)
	p.AddNote(0, 60, 100, 2.0)
	p.AddNote(1, 60, 90, 2.0)
	e.SetPlayState(1, 0, Playing)

	got := runTicks(e, 20)
	want := []string{"0 on ch0 60/100", "6 off ch0 60", "6 on ch0 60/90", "18 off ch0 60"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestMuteAndSolo(t *testing.T) {
	tests := []struct {
		name       string
		mute, solo [2]bool
		want       []string
	}{
		{"all", [2]bool{}, [2]bool{}, []string{"0 on ch0 60/100", "0 on ch1 62/90"}},
		{"mute second", [2]bool{false, true}, [2]bool{}, []string{"0 on ch0 60/100"}},
		{"solo second", [2]bool{}, [2]bool{false, true}, []string{"0 on ch1 62/90"}},
		{"solo muted", [2]bool{false, true}, [2]bool{false, true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			s := e.Sequence(1, 0)
			firstPattern(t, e, 0).AddNote(0, 60, 100, 1.0)
			tr := s.Track(s.AddTrack(-1))
			id := e.Patterns().Create()
			e.Patterns().Get(id).AddNote(0, 62, 90, 1.0)
			tr.AddPattern(0, id, RejectOverlap)
			tr.SetChannel(1)
			for i := 0; i < 2; i++ {
				s.Track(i).SetMute(tt.mute[i])
				s.Track(i).SetSolo(tt.solo[i])
			}
			e.SetPlayState(1, 0, Playing)

			if got := runTicks(e, 1); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClearBankFlushesNotes(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 4.0)
	e.SetPlayState(1, 0, Playing)
	runTicks(e, 3)

	e.ClearBank(1)
	got := runTicks(e, 30)
	if want := []string{"3 off ch0 60"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if !e.Sequence(1, 0).IsEmpty() {
		t.Error("sequence not empty after ClearBank")
	}
}

func TestProcessFollowsTransport(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(0, 60, 100, 4.0)
	e.SetPlayState(1, 0, Playing)

	// 1000 frames per tick at 120 BPM and 48 kHz
	evs := e.Process(1000)
	if len(evs) != 1 || evs[0].Type != midi.NoteOn {
		t.Fatalf("Process = %v, want one note-on", evs)
	}
	if got := e.Transport().Tick(); got != 1 {
		t.Errorf("Tick() = %d, want 1", got)
	}

	e.Transport().Stop("test")
	evs = e.Process(1000)
	if len(evs) != 1 || evs[0].Type != midi.NoteOff {
		t.Fatalf("Process while stopped = %v, want one note-off", evs)
	}
	if evs = e.Process(1000); len(evs) != 0 {
		t.Errorf("second Process while stopped = %v, want none", evs)
	}
}

func TestMetronomeAndClock(t *testing.T) {
	e := New(Options{SequencesInBank: 1, SendClock: true})
	tr := e.Transport()
	tr.EnableMetronome(true)
	tr.SetMetronomeVolume(0.5)

	got := runTicks(e, 25)
	var clicks []string
	clocks := 0
	for _, ev := range got {
		if ev[len(ev)-5:] == "clock" {
			clocks++
			continue
		}
		clicks = append(clicks, ev)
	}
	if clocks != 25 {
		t.Errorf("clocks = %d, want 25", clocks)
	}
	want := []string{"0 on ch9 76/64", "6 off ch9 76", "24 on ch9 77/64"}
	if !reflect.DeepEqual(clicks, want) {
		t.Errorf("clicks = %v, want %v", clicks, want)
	}
}

func TestTempoEventAppliesToTransport(t *testing.T) {
	e := newTestEngine(t)
	s := e.Sequence(1, 0)
	s.AddTempoEvent(90, 1, 12)
	e.SetPlayState(1, 0, Playing)
	runTicks(e, 12)
	if got := e.Transport().Tempo(); got != 120 {
		t.Errorf("Tempo before event = %v, want 120", got)
	}
	runTicks(e, 1)
	if got := e.Transport().Tempo(); got != 90 {
		t.Errorf("Tempo after event = %v, want 90", got)
	}
}

func TestTempoEventAfterMeterChange(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).SetBeatsInPattern(8)
	s := e.Sequence(1, 0)
	s.AddTimeSigEvent(3, 4, 2)
	s.AddTempoEvent(90, 3, 0) // bar 2 is 72 ticks, so bar 3 starts at 168
	e.SetPlayState(1, 0, Playing)
	runTicks(e, 168)
	if got := e.Transport().Tempo(); got != 120 {
		t.Errorf("Tempo before bar 3 = %v, want 120", got)
	}
	runTicks(e, 1)
	if got := e.Transport().Tempo(); got != 90 {
		t.Errorf("Tempo at bar 3 = %v, want 90", got)
	}
}
