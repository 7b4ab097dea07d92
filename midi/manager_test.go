package midi

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func drain(w *PortWatcher) []PortEvent {
	var out []PortEvent
	for {
		select {
		case ev := <-w.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPortWatcherUpdate(t *testing.T) {
	w := NewPortWatcher()

	w.update([]string{"Keystep"}, []string{"IAC Bus 1", "Keystep"})
	if got := drain(w); len(got) != 3 {
		t.Fatalf("first scan events = %+v, want 3 connects", got)
	}

	w.update([]string{"Keystep"}, []string{"IAC Bus 1", "Keystep"})
	if got := drain(w); len(got) != 0 {
		t.Errorf("unchanged scan produced %+v", got)
	}

	w.update(nil, []string{"IAC Bus 1"})
	got := drain(w)
	if len(got) != 2 {
		t.Fatalf("unplug events = %+v, want 2", got)
	}
	for _, ev := range got {
		if ev.Type != PortDisconnected || ev.Name != "Keystep" {
			t.Errorf("event %+v, want Keystep disconnected", ev)
		}
	}
	if ins := w.Inputs(); len(ins) != 0 {
		t.Errorf("Inputs() = %v, want none", ins)
	}
	outs := w.Outputs()
	sort.Strings(outs)
	if len(outs) != 1 || outs[0] != "IAC Bus 1" {
		t.Errorf("Outputs() = %v", outs)
	}
}

func TestPortWatcherRun(t *testing.T) {
	w := NewPortWatcher()
	w.pollRate = 5 * time.Millisecond
	calls := 0
	w.list = func() ([]string, []string, error) {
		calls++
		if calls == 1 {
			return nil, nil, errors.New("timed out")
		}
		return []string{"Beatstep"}, nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-w.Events():
		if ev.Type != PortConnected || !ev.Input || ev.Name != "Beatstep" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connect event")
	}
	cancel()
	<-done
	if _, ok := <-w.Events(); ok {
		t.Error("events channel not closed after cancel")
	}
}

func TestMatchesPort(t *testing.T) {
	tests := []struct {
		want, name string
		ok         bool
	}{
		{"IAC", "IAC Driver Bus 1", true},
		{"iac driver", "IAC Driver Bus 1", true},
		{"Launch", "IAC Driver Bus 1", false},
		{"", "IAC Driver Bus 1", false},
	}
	for _, tt := range tests {
		if got := MatchesPort(tt.want, tt.name); got != tt.ok {
			t.Errorf("MatchesPort(%q, %q) = %v, want %v", tt.want, tt.name, got, tt.ok)
		}
	}
}
