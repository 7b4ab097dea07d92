package sequencer

import (
	"testing"

	"go-stepseq/midi"
	"go-stepseq/transport"
)

func noteOn(ch, note uint8) midi.Event {
	return midi.Event{Type: midi.NoteOn, Channel: ch, Note: note, Velocity: 100}
}

func TestTriggerToggles(t *testing.T) {
	e := newTestEngine(t)
	e.Sequence(1, 0).SetTriggerNote(36)

	e.HandleInput(noteOn(14, 36))
	if st := e.PlayState(1, 0); st != Stopped {
		t.Fatalf("note on another channel started the sequence: %v", st)
	}
	e.HandleInput(noteOn(15, 36))
	if st := e.PlayState(1, 0); st != Starting {
		t.Fatalf("PlayState after trigger = %v, want starting", st)
	}
	e.HandleInput(noteOn(15, 36))
	if st := e.PlayState(1, 0); st != Stopped {
		t.Errorf("PlayState after second trigger = %v, want stopped", st)
	}

	e.SetTriggerChannel(NoTrigger)
	e.HandleInput(noteOn(15, 36))
	if st := e.PlayState(1, 0); st != Stopped {
		t.Errorf("trigger with triggering disabled: %v", st)
	}
}

func TestMidiLearn(t *testing.T) {
	e := newTestEngine(t)
	e.Sequence(1, 0).SetTriggerNote(40)

	var learned [3]uint8
	calls := 0
	ok := e.EnableMidiLearn(1, 1, LearnFunc(func(bank, seq, note uint8) {
		learned = [3]uint8{bank, seq, note}
		calls++
	}))
	if !ok {
		t.Fatal("EnableMidiLearn = false")
	}
	if b, s, armed := e.MidiLearnTarget(); !armed || b != 1 || s != 1 {
		t.Errorf("MidiLearnTarget() = %d, %d, %v", b, s, armed)
	}

	e.HandleInput(noteOn(15, 40))
	if calls != 1 || learned != [3]uint8{1, 1, 40} {
		t.Errorf("listener calls = %d, got %v", calls, learned)
	}
	if got := e.Sequence(1, 1).TriggerNote(); got != 40 {
		t.Errorf("learned TriggerNote() = %d, want 40", got)
	}
	if got := e.Sequence(1, 0).TriggerNote(); got != NoTrigger {
		t.Errorf("previous owner TriggerNote() = %d, want none", got)
	}
	if _, _, armed := e.MidiLearnTarget(); armed {
		t.Error("learn still armed")
	}
	if st := e.PlayState(1, 1); st != Stopped {
		t.Errorf("learn note toggled the sequence: %v", st)
	}

	if e.EnableMidiLearn(1, 9, nil) {
		t.Error("EnableMidiLearn on a missing sequence = true")
	}
	e.EnableMidiLearn(1, 0, nil)
	e.DisableMidiLearn()
	if _, _, armed := e.MidiLearnTarget(); armed {
		t.Error("DisableMidiLearn left learn armed")
	}
}

func TestHandleInputTransport(t *testing.T) {
	e := newTestEngine(t)
	tr := e.Transport()

	e.HandleInput(midi.Event{Type: midi.Start})
	if tr.IsRolling() {
		t.Fatal("Start on internal clock started the transport")
	}

	tr.SetClockSource(transport.ClockMIDI)
	e.HandleInput(midi.Event{Type: midi.Start})
	if !tr.IsRolling() {
		t.Fatal("Start while slaved did not start the transport")
	}
	e.HandleInput(midi.Event{Type: midi.Clock})
	if !tr.Synced() {
		t.Error("clock pulse did not sync")
	}
	e.HandleInput(midi.Event{Type: midi.Stop})
	if tr.IsRolling() {
		t.Error("Stop while slaved did not stop the transport")
	}
	e.HandleInput(midi.Event{Type: midi.Continue})
	if !tr.IsRolling() {
		t.Error("Continue while slaved did not start the transport")
	}
}
