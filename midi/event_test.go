package midi

import (
	"bytes"
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
)

func TestEventMessage(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []byte
	}{
		{"note on", Event{Type: NoteOn, Channel: 2, Note: 60, Velocity: 100}, []byte{0x92, 60, 100}},
		{"program", Event{Type: ProgramChange, Channel: 0, Program: 5}, []byte{0xC0, 5}},
		{"cc", Event{Type: CC, Channel: 1, Note: 7, Velocity: 90}, []byte{0xB1, 7, 90}},
		{"clock", Event{Type: Clock}, []byte{0xF8}},
		{"start", Event{Type: Start}, []byte{0xFA}},
		{"song position", Event{Type: SongPosition, Value: 200}, []byte{0xF2, 200 & 0x7F, 200 >> 7}},
		{"raw", Event{Type: Raw, Data: [3]uint8{0xB0, 123, 0}}, []byte{0xB0, 123, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ev.Message()
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Message() = % X, want % X", []byte(got), tt.want)
			}
		})
	}
}

func TestNoteOffMessage(t *testing.T) {
	msg := Event{Type: NoteOff, Channel: 3, Note: 64}.Message()
	var ch, key uint8
	if !msg.GetNoteEnd(&ch, &key) || ch != 3 || key != 64 {
		t.Errorf("note off message % X does not decode to ch=3 key=64", []byte(msg))
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  gomidi.Message
		want Event
		ok   bool
	}{
		{"note on", gomidi.NoteOn(15, 24, 90), Event{Type: NoteOn, Channel: 15, Note: 24, Velocity: 90}, true},
		{"zero velocity is note off", gomidi.NoteOn(1, 40, 0), Event{Type: NoteOff, Channel: 1, Note: 40}, true},
		{"clock", gomidi.Message{0xF8}, Event{Type: Clock}, true},
		{"stop", gomidi.Message{0xFC}, Event{Type: Stop}, true},
		{"active sense ignored", gomidi.Message{0xFE}, Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMessage(tt.msg)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseMessage(% X) = %+v, %v, want %+v, %v", []byte(tt.msg), got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestInputDeliverDoesNotBlock(t *testing.T) {
	in := &Input{events: make(chan Event, 1)}
	in.Deliver(gomidi.Message{0xF8})
	in.Deliver(gomidi.Message{0xF8})
	if got := in.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if ev := <-in.Events(); ev.Type != Clock {
		t.Errorf("event type = %X, want %X", ev.Type, Clock)
	}
}

func TestMatchPort(t *testing.T) {
	names := []string{"Midi Through:0", "USB MIDI Interface:1", "USB MIDI Interface 2"}
	tests := []struct {
		name string
		want int
	}{
		{"USB MIDI Interface 2", 2},
		{"usb midi", 1},
		{"missing", -1},
	}
	for _, tt := range tests {
		if got := matchPort(tt.name, names); got != tt.want {
			t.Errorf("matchPort(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
