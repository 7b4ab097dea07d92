package midi

import (
	"context"
	"sync"
	"time"
)

// PortEvent is emitted when a port appears or disappears
type PortEvent struct {
	Type  PortEventType
	Input bool
	Name  string
}

type PortEventType int

const (
	PortConnected PortEventType = iota
	PortDisconnected
)

func (t PortEventType) String() string {
	if t == PortConnected {
		return "connected"
	}
	return "disconnected"
}

// PortWatcher polls the driver for port hot-plug
type PortWatcher struct {
	mu       sync.RWMutex
	ins      map[string]bool
	outs     map[string]bool
	events   chan PortEvent
	pollRate time.Duration
	list     func() (ins, outs []string, err error)
}

// NewPortWatcher creates a watcher that polls once a second
func NewPortWatcher() *PortWatcher {
	return &PortWatcher{
		ins:      make(map[string]bool),
		outs:     make(map[string]bool),
		events:   make(chan PortEvent, 16),
		pollRate: time.Second,
		list:     Ports,
	}
}

// Events returns a channel of connect/disconnect events
func (w *PortWatcher) Events() <-chan PortEvent {
	return w.events
}

// Inputs returns the input port names seen by the last scan
func (w *PortWatcher) Inputs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return keys(w.ins)
}

// Outputs returns the output port names seen by the last scan
func (w *PortWatcher) Outputs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return keys(w.outs)
}

// Run starts the polling loop (blocking - run in goroutine)
func (w *PortWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	w.poll()

	for {
		select {
		case <-ctx.Done():
			close(w.events)
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *PortWatcher) poll() {
	ins, outs, err := w.list()
	if err != nil {
		// driver hung, skip this scan
		return
	}
	w.update(ins, outs)
}

// update diffs the given port lists against the previous scan.
func (w *PortWatcher) update(ins, outs []string) {
	w.mu.Lock()
	var pending []PortEvent
	pending = diffPorts(w.ins, ins, true, pending)
	pending = diffPorts(w.outs, outs, false, pending)
	w.mu.Unlock()

	for _, ev := range pending {
		select {
		case w.events <- ev:
		default:
		}
	}
}

func diffPorts(known map[string]bool, now []string, input bool, out []PortEvent) []PortEvent {
	seen := make(map[string]bool, len(now))
	for _, name := range now {
		seen[name] = true
		if !known[name] {
			known[name] = true
			out = append(out, PortEvent{Type: PortConnected, Input: input, Name: name})
		}
	}
	for name := range known {
		if !seen[name] {
			delete(known, name)
			out = append(out, PortEvent{Type: PortDisconnected, Input: input, Name: name})
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// MatchesPort reports whether a port name satisfies a configured name
// (exact, else case-insensitive substring).
func MatchesPort(want, name string) bool {
	return want != "" && matchPort(want, []string{name}) == 0
}
