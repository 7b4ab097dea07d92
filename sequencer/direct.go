package sequencer

import (
	"errors"
	"fmt"
	"time"

	"go-stepseq/midi"
)

// ErrNoOutput is returned by the direct MIDI methods when no output is set.
var ErrNoOutput = errors.New("no MIDI output")

// Output receives events sent outside the scheduler.
type Output interface {
	Send(ev midi.Event) error
}

// SetOutput attaches the destination for the direct MIDI methods.
func (e *Engine) SetOutput(out Output) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
}

func (e *Engine) send(ev midi.Event) error {
	e.mu.Lock()
	out := e.out
	e.mu.Unlock()
	if out == nil {
		return ErrNoOutput
	}
	if err := out.Send(ev); err != nil {
		return fmt.Errorf("send %#x: %w", ev.Type, err)
	}
	return nil
}

// PlayNote sounds a note now and releases it after duration.
func (e *Engine) PlayNote(note, velocity, channel uint8, duration time.Duration) error {
	if note > 127 || velocity > 127 || channel > 15 {
		return fmt.Errorf("play note %d/%d on channel %d: out of range", note, velocity, channel)
	}
	if err := e.send(midi.Event{Type: midi.NoteOn, Channel: channel, Note: note, Velocity: velocity}); err != nil {
		return err
	}
	time.AfterFunc(duration, func() {
		_ = e.send(midi.Event{Type: midi.NoteOff, Channel: channel, Note: note})
	})
	return nil
}

func (e *Engine) SendStart() error { return e.send(midi.Event{Type: midi.Start}) }

func (e *Engine) SendStop() error { return e.send(midi.Event{Type: midi.Stop}) }

func (e *Engine) SendContinue() error { return e.send(midi.Event{Type: midi.Continue}) }

func (e *Engine) SendClock() error { return e.send(midi.Event{Type: midi.Clock}) }

// SendSongPosition sends a song position pointer in sixteenth notes.
func (e *Engine) SendSongPosition(pos uint16) error {
	if pos > 0x3FFF {
		return fmt.Errorf("song position %d: out of range", pos)
	}
	return e.send(midi.Event{Type: midi.SongPosition, Value: pos})
}

// SendCommand sends an arbitrary three byte message.
func (e *Engine) SendCommand(status, data1, data2 uint8) error {
	return e.send(midi.Event{Type: midi.Raw, Data: [3]uint8{status, data1 & 0x7F, data2 & 0x7F}})
}
