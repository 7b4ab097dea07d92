package midi

import (
	"bytes"
	"testing"

	gomidi "gitlab.com/gomidi/midi/v2"
)

func newTestLaunchpad() (*Launchpad, *[]gomidi.Message) {
	var sent []gomidi.Message
	lp := newLaunchpad("Launchpad X LPX MIDI", func(msg gomidi.Message) error {
		sent = append(sent, msg)
		return nil
	})
	return lp, &sent
}

func TestLaunchpadProgrammerMode(t *testing.T) {
	_, sent := newTestLaunchpad()
	if len(*sent) != 3 {
		t.Fatalf("setup sent %d messages, want 3", len(*sent))
	}
	want := []byte{0xF0, 0x00, 0x20, 0x29, 0x02, 0x0C, 0x00, 0x7F, 0xF7}
	if got := (*sent)[0].Bytes(); !bytes.Equal(got, want) {
		t.Errorf("programmer mode = % X, want % X", got, want)
	}
}

func TestNoteMapping(t *testing.T) {
	tests := []struct {
		note     uint8
		row, col int
	}{
		{11, 0, 0},
		{18, 0, 7},
		{19, 0, 8},
		{88, 7, 7},
		{89, 7, 8},
		{91, 8, 0},
		{98, 8, 7},
		{10, -1, -1},
		{99, -1, -1},
	}
	for _, tt := range tests {
		row, col := noteToRowCol(tt.note)
		if row != tt.row || col != tt.col {
			t.Errorf("noteToRowCol(%d) = %d,%d, want %d,%d", tt.note, row, col, tt.row, tt.col)
		}
		if tt.row >= 0 {
			if back := rowColToNote(tt.row, tt.col); back != tt.note {
				t.Errorf("rowColToNote(%d, %d) = %d, want %d", tt.row, tt.col, back, tt.note)
			}
		}
	}
}

func TestLaunchpadHandle(t *testing.T) {
	lp, _ := newTestLaunchpad()
	lp.handle(gomidi.NoteOn(0, 23, 100))
	lp.handle(gomidi.NoteOn(0, 23, 0)) // release
	lp.handle(gomidi.ControlChange(0, 95, 127))
	lp.handle(gomidi.ControlChange(0, 95, 0))

	want := []PadEvent{{Row: 1, Col: 2, Velocity: 100}, {Row: 8, Col: 4, Velocity: 127}}
	for _, w := range want {
		select {
		case got := <-lp.PadEvents():
			if got != w {
				t.Errorf("pad event = %+v, want %+v", got, w)
			}
		default:
			t.Fatalf("missing pad event %+v", w)
		}
	}
	select {
	case ev := <-lp.PadEvents():
		t.Errorf("release produced %+v", ev)
	default:
	}
}

func TestLaunchpadLEDs(t *testing.T) {
	lp, sent := newTestLaunchpad()
	*sent = nil
	err := lp.SetLEDBatch([]LEDUpdate{
		{Row: 0, Col: 0, Color: [3]uint8{0, 250, 0}, Channel: ChannelPulse},
		{Row: 8, Col: 1, Color: [3]uint8{250, 250, 250}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(*sent))
	}
	var ch, key, vel uint8
	if !(*sent)[0].GetNoteOn(&ch, &key, &vel) || ch != ChannelPulse || key != 11 || vel != 21 {
		t.Errorf("first LED = ch %d key %d vel %d", ch, key, vel)
	}
	if !(*sent)[1].GetNoteOn(&ch, &key, &vel) || key != 92 || vel != 119 {
		t.Errorf("second LED = key %d vel %d", key, vel)
	}

	*sent = nil
	if err := lp.Close(); err != nil {
		t.Fatal(err)
	}
	if got, want := len(*sent), (GridRows+1)*(GridCols+1)-1; got != want {
		t.Errorf("Close darkened %d pads, want %d", got, want)
	}
}

func TestIsLaunchpad(t *testing.T) {
	if !IsLaunchpad("Launchpad X LPX MIDI") || IsLaunchpad("Launchpad X LPX DAW") || IsLaunchpad("IAC Bus") {
		t.Error("IsLaunchpad misclassified a port")
	}
}
