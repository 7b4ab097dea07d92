package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI message types. Channel messages carry their status nibble, system
// real-time messages their full status byte.
const (
	NoteOff       uint8 = 0x80
	NoteOn        uint8 = 0x90
	CC            uint8 = 0xB0
	ProgramChange uint8 = 0xC0
	SongPosition  uint8 = 0xF2
	Clock         uint8 = 0xF8
	Start         uint8 = 0xFA
	Continue      uint8 = 0xFB
	Stop          uint8 = 0xFC
	Raw           uint8 = 0x00 // Data holds a complete 3-byte message
)

// Event represents a timed MIDI event produced or consumed by the engine
type Event struct {
	Tick     int64 // transport tick the event belongs to
	Type     uint8
	Channel  uint8 // 0-15
	Note     uint8 // note number, or controller number for CC
	Velocity uint8 // velocity, or controller value for CC
	Program  uint8
	Value    uint16   // song position in sixteenths
	Data     [3]uint8 // Raw only
}

// IsChannel reports whether the event is a channel voice message.
func (e Event) IsChannel() bool {
	return e.Type >= NoteOff && e.Type < 0xF0
}

// Message converts the event to its wire form.
func (e Event) Message() gomidi.Message {
	ch := e.Channel & 0x0F
	switch e.Type {
	case NoteOn:
		return gomidi.NoteOn(ch, e.Note, e.Velocity)
	case NoteOff:
		return gomidi.NoteOff(ch, e.Note)
	case CC:
		return gomidi.ControlChange(ch, e.Note, e.Velocity)
	case ProgramChange:
		return gomidi.ProgramChange(ch, e.Program)
	case SongPosition:
		return gomidi.Message{SongPosition, uint8(e.Value & 0x7F), uint8(e.Value >> 7 & 0x7F)}
	case Clock, Start, Continue, Stop:
		return gomidi.Message{e.Type}
	case Raw:
		return gomidi.Message(e.Data[:])
	}
	return nil
}

// ParseMessage converts a received message into an Event. ok is false for
// messages the engine does not consume.
func ParseMessage(msg gomidi.Message) (ev Event, ok bool) {
	if len(msg) == 1 {
		switch msg[0] {
		case Clock, Start, Continue, Stop:
			return Event{Type: msg[0]}, true
		}
		return Event{}, false
	}

	var ch, key, vel uint8
	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		return Event{Type: NoteOn, Channel: ch, Note: key, Velocity: vel}, true
	case msg.GetNoteEnd(&ch, &key):
		return Event{Type: NoteOff, Channel: ch, Note: key}, true
	case msg.GetControlChange(&ch, &key, &vel):
		return Event{Type: CC, Channel: ch, Note: key, Velocity: vel}, true
	case msg.GetProgramChange(&ch, &key):
		return Event{Type: ProgramChange, Channel: ch, Program: key}, true
	}
	return Event{}, false
}
