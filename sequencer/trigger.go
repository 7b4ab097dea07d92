package sequencer

import (
	"go-stepseq/debug"
	"go-stepseq/midi"
	"go-stepseq/transport"
)

// LearnListener is told which note was bound by MIDI learn.
type LearnListener interface {
	TriggerLearned(bank, sequence, note uint8)
}

// LearnFunc adapts a function to LearnListener.
type LearnFunc func(bank, sequence, note uint8)

func (f LearnFunc) TriggerLearned(bank, sequence, note uint8) { f(bank, sequence, note) }

type learnTarget struct {
	bank     uint8
	sequence uint8
	listener LearnListener
}

func (e *Engine) TriggerChannel() uint8 { return uint8(e.triggerChannel.Load()) }

// SetTriggerChannel selects the channel whose note-ons toggle sequences.
// Channels above 15 disable triggering.
func (e *Engine) SetTriggerChannel(ch uint8) {
	if ch > 15 {
		ch = NoTrigger
	}
	e.triggerChannel.Store(uint32(ch))
	e.Patterns().markModified()
}

// EnableMidiLearn arms learn for one sequence. The next note-on on the
// trigger channel becomes its trigger note and listener is notified.
func (e *Engine) EnableMidiLearn(bank, seq uint8, listener LearnListener) bool {
	if e.Sequence(bank, int(seq)) == nil {
		return false
	}
	e.learn.Store(&learnTarget{bank: bank, sequence: seq, listener: listener})
	debug.Log("learn", "armed bank=%d seq=%d", bank, seq)
	return true
}

func (e *Engine) DisableMidiLearn() { e.learn.Store(nil) }

// MidiLearnTarget returns the armed sequence.
func (e *Engine) MidiLearnTarget() (bank, seq uint8, ok bool) {
	t := e.learn.Load()
	if t == nil {
		return 0, 0, false
	}
	return t.bank, t.sequence, true
}

// HandleInput consumes one incoming MIDI event: clock and transport
// messages when slaved, trigger notes and MIDI learn.
func (e *Engine) HandleInput(ev midi.Event) {
	tr := e.transport
	slaved := tr.ClockSource() == transport.ClockMIDI
	switch ev.Type {
	case midi.Clock:
		tr.ClockPulse()
	case midi.Start:
		if slaved {
			tr.Locate(e.opts.Client, 0)
			tr.Start(e.opts.Client)
		}
	case midi.Continue:
		if slaved {
			tr.Start(e.opts.Client)
		}
	case midi.Stop:
		if slaved {
			tr.Stop(e.opts.Client)
		}
	case midi.NoteOn:
		if ev.Velocity == 0 || uint32(ev.Channel) != e.triggerChannel.Load() {
			return
		}
		if t := e.learn.Swap(nil); t != nil {
			e.learnTrigger(t, ev.Note)
			return
		}
		e.trigger(ev.Note)
	}
}

func (e *Engine) learnTrigger(t *learnTarget, note uint8) {
	e.mu.Lock()
	target := e.Sequence(t.bank, int(t.sequence))
	if target == nil {
		e.mu.Unlock()
		return
	}
	for _, b := range e.bankList() {
		for _, s := range b.list() {
			if s != target && s.TriggerNote() == note {
				s.SetTriggerNote(NoTrigger)
			}
		}
	}
	target.SetTriggerNote(note)
	e.mu.Unlock()

	debug.Log("learn", "bank=%d seq=%d note=%d", t.bank, t.sequence, note)
	if t.listener != nil {
		t.listener.TriggerLearned(t.bank, t.sequence, note)
	}
}

// trigger toggles every sequence bound to note.
func (e *Engine) trigger(note uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range e.bankList() {
		for _, s := range b.list() {
			if s.TriggerNote() == note {
				e.toggle(b, s)
			}
		}
	}
}
