package sequencer

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

func TestRender(t *testing.T) {
	e := newTestEngine(t)
	p := firstPattern(t, e, 0)
	p.AddNote(0, 60, 100, 1)
	p.AddNote(15, 62, 80, 2)
	p.AddProgramChange(0, 5)
	s := e.Sequence(1, 0)
	s.AddTrack(1)
	s.Track(1).SetMute(true)

	tracks, err := e.Render(1, 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("Render returned %d tracks, want 2", len(tracks))
	}
	var got []string
	for _, ev := range tracks[0] {
		got = append(got, describe(ev))
	}
	want := []string{
		"0 pc ch0 5",
		"0 on ch0 60/100",
		"6 off ch0 60",
		"90 on ch0 62/80",
		"102 off ch0 62",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Render track 0 =\n%v\nwant\n%v", got, want)
	}
	if len(tracks[1]) != 0 {
		t.Errorf("muted track rendered %d events", len(tracks[1]))
	}

	if _, err := e.Render(1, 7); !errors.Is(err, ErrNoSequence) {
		t.Errorf("Render(1, 7) error = %v, want ErrNoSequence", err)
	}
}

func TestExportSMF(t *testing.T) {
	e := newTestEngine(t)
	firstPattern(t, e, 0).AddNote(2, 64, 90, 1)
	e.Sequence(1, 0).SetName("lead")
	e.Sequence(1, 0).AddTempoEvent(90, 2, 0)

	var buf bytes.Buffer
	if err := e.ExportSMF(1, 0, &buf); err != nil {
		t.Fatalf("ExportSMF: %v", err)
	}
	f, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if tf, ok := f.TimeFormat.(smf.MetricTicks); !ok || uint16(tf) != PPQN {
		t.Errorf("TimeFormat = %v, want %d ticks", f.TimeFormat, PPQN)
	}
	if len(f.Tracks) != 2 {
		t.Fatalf("exported %d tracks, want 2", len(f.Tracks))
	}

	var tempos int
	for _, ev := range f.Tracks[0] {
		var bpm float64
		if ev.Message.GetMetaTempo(&bpm) {
			tempos++
		}
	}
	if tempos != 2 {
		t.Errorf("conductor track has %d tempo events, want 2", tempos)
	}

	var abs uint32
	var onAt int64 = -1
	for _, ev := range f.Tracks[1] {
		abs += ev.Delta
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && key == 64 {
			onAt = int64(abs)
		}
	}
	if onAt != 12 {
		t.Errorf("note-on at tick %d, want 12", onAt)
	}
	if !bytes.Contains(buf.Bytes(), []byte{0x90, 64, 90}) {
		t.Error("raw note-on bytes missing")
	}
}
