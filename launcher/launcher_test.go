package launcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-stepseq/midi"
	"go-stepseq/sequencer"
	"go-stepseq/theme"
)

type fakeGrid struct {
	pads    chan midi.PadEvent
	batches [][]midi.LEDUpdate
	err     error
}

func newFakeGrid() *fakeGrid { return &fakeGrid{pads: make(chan midi.PadEvent, 4)} }

func (g *fakeGrid) Name() string                    { return "fake" }
func (g *fakeGrid) PadEvents() <-chan midi.PadEvent { return g.pads }
func (g *fakeGrid) Close() error                    { return nil }

func (g *fakeGrid) SetLEDBatch(updates []midi.LEDUpdate) error {
	if g.err != nil {
		return g.err
	}
	g.batches = append(g.batches, updates)
	return nil
}

func newTestLauncher(t *testing.T) (*Launcher, *fakeGrid, *sequencer.Engine) {
	t.Helper()
	e := sequencer.New(sequencer.Options{SequencesInBank: 2})
	e.SetSequencesInBank(2, 1)
	g := newFakeGrid()
	return New(e, g, theme.New(nil)), g, e
}

// top grid row is sequence 0
const seq0Row = midi.GridRows - 1

func TestHandlePad(t *testing.T) {
	l, _, e := newTestLauncher(t)

	l.HandlePad(midi.PadEvent{Row: seq0Row - 1, Col: 0})
	if st := e.PlayState(1, 1); st != sequencer.Starting {
		t.Errorf("PlayState(1, 1) = %v, want starting", st)
	}
	// a column without a bank and a row without a sequence do nothing
	l.HandlePad(midi.PadEvent{Row: seq0Row, Col: 5})
	l.HandlePad(midi.PadEvent{Row: 0, Col: 1})

	l.HandlePad(midi.PadEvent{Row: seq0Row, Col: midi.GridCols})
	if e.PlayState(1, 0) != sequencer.Starting || e.PlayState(2, 0) != sequencer.Starting {
		t.Errorf("scene launch: %v %v", e.PlayState(1, 0), e.PlayState(2, 0))
	}

	l.HandlePad(midi.PadEvent{Row: midi.GridRows, Col: buttonStopAll})
	for _, slot := range [][2]int{{1, 0}, {1, 1}, {2, 0}} {
		if st := e.PlayState(uint8(slot[0]), slot[1]); st == sequencer.Starting || st == sequencer.Playing {
			t.Errorf("bank %d seq %d still %v after stop all", slot[0], slot[1], st)
		}
	}

	rolling := e.Transport().IsRolling()
	l.HandlePad(midi.PadEvent{Row: midi.GridRows, Col: buttonTransport})
	if e.Transport().IsRolling() == rolling {
		t.Error("transport button did not toggle")
	}
}

func TestPaging(t *testing.T) {
	l, _, e := newTestLauncher(t)
	for b := uint8(3); b <= 10; b++ {
		e.SetSequencesInBank(b, 1)
	}
	// ten banks, eight columns
	l.HandlePad(midi.PadEvent{Row: midi.GridRows, Col: buttonPageLeft})
	if l.Page() != 0 {
		t.Errorf("Page() = %d after left at 0", l.Page())
	}
	for i := 0; i < 5; i++ {
		l.HandlePad(midi.PadEvent{Row: midi.GridRows, Col: buttonPageRight})
	}
	if l.Page() != 2 {
		t.Errorf("Page() = %d, want 2", l.Page())
	}
	l.HandlePad(midi.PadEvent{Row: seq0Row, Col: 7})
	if st := e.PlayState(10, 0); st != sequencer.Starting {
		t.Errorf("PlayState(10, 0) = %v, want starting", st)
	}
}

func TestRefreshSendsChanges(t *testing.T) {
	l, g, e := newTestLauncher(t)
	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got, want := len(g.batches[0]), (midi.GridRows+1)*(midi.GridCols+1)-1; got != want {
		t.Errorf("first refresh sent %d pads, want %d", got, want)
	}

	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(g.batches) != 1 {
		t.Errorf("unchanged refresh sent %v", g.batches[1:])
	}

	e.SetPlayState(1, 0, sequencer.Playing)
	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	last := g.batches[len(g.batches)-1]
	found := false
	for _, u := range last {
		if u.Row == seq0Row && u.Col == 0 {
			found = true
			if u.Channel != midi.ChannelFlash {
				t.Errorf("starting pad channel = %d, want flash", u.Channel)
			}
		}
	}
	if !found {
		t.Errorf("started pad not refreshed: %+v", last)
	}
}

func TestRefreshErrorResends(t *testing.T) {
	l, g, _ := newTestLauncher(t)
	g.err = errors.New("unplugged")
	if err := l.Refresh(); err == nil {
		t.Fatal("Refresh() = nil error")
	}
	g.err = nil
	if err := l.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got, want := len(g.batches[0]), (midi.GridRows+1)*(midi.GridCols+1)-1; got != want {
		t.Errorf("refresh after error sent %d pads, want %d", got, want)
	}
}

func TestRun(t *testing.T) {
	l, g, e := newTestLauncher(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	g.pads <- midi.PadEvent{Row: seq0Row, Col: 1}

	deadline := time.Now().Add(2 * time.Second)
	for e.PlayState(2, 0) == sequencer.Stopped && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if e.PlayState(2, 0) == sequencer.Stopped {
		t.Error("pad press not handled by Run")
	}
}
