package sequencer

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go-stepseq/debug"
	"go-stepseq/midi"
)

// ErrOutputFull is returned by Manager.Send when the output queue is full.
var ErrOutputFull = errors.New("MIDI output queue full")

const (
	// DefaultPeriod is the number of frames processed per clock cycle.
	DefaultPeriod = 256
	outputQueue   = 4096
	uiFPS         = 30
)

// Manager runs an Engine in real time: a clock goroutine turns wall time
// into frames and processes them, an output goroutine writes the resulting
// events to a port and an input goroutine feeds incoming MIDI back in.
type Manager struct {
	engine *Engine
	period uint32

	mu     sync.RWMutex
	out    Output
	in     <-chan midi.Event
	inStop chan struct{}

	events  chan midi.Event
	dropped atomic.Uint64

	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// NewManager wraps e. period is the cycle size in frames.
func NewManager(e *Engine, period uint32) *Manager {
	if period == 0 {
		period = DefaultPeriod
	}
	m := &Manager{
		engine:     e,
		period:     period,
		events:     make(chan midi.Event, outputQueue),
		UpdateChan: make(chan struct{}, 1),
	}
	e.SetOutput(m)
	return m
}

func (m *Manager) Engine() *Engine { return m.engine }

// SetOutput sets where events are written. nil discards them.
func (m *Manager) SetOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = out
}

func (m *Manager) output() Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.out
}

// SetInput sets the incoming event stream. While running, the previous
// stream is abandoned and the new one is read from immediately.
func (m *Manager) SetInput(in <-chan midi.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.in = in
	if !m.running.Load() {
		return
	}
	if m.inStop != nil {
		close(m.inStop)
		m.inStop = nil
	}
	if in != nil {
		m.startInput(in)
	}
}

// startInput requires m.mu.
func (m *Manager) startInput(in <-chan midi.Event) {
	m.inStop = make(chan struct{})
	m.wg.Add(1)
	go m.inputLoop(in, m.inStop)
}

// Send queues one event for the output goroutine. It never blocks.
func (m *Manager) Send(ev midi.Event) error {
	select {
	case m.events <- ev:
		return nil
	default:
		m.dropped.Add(1)
		return ErrOutputFull
	}
}

// Dropped counts events lost because the output queue was full.
func (m *Manager) Dropped() uint64 { return m.dropped.Load() }

// Start launches the runtime goroutines. It is a no-op when running.
func (m *Manager) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.stopChan = make(chan struct{})

	m.wg.Add(2)
	go m.clockLoop()
	go m.outputLoop()

	m.mu.Lock()
	if m.in != nil && m.inStop == nil {
		m.startInput(m.in)
	}
	m.mu.Unlock()
	debug.Log("runtime", "started period=%d rate=%d", m.period, m.engine.transport.SampleRate())
}

// Stop ends the runtime goroutines and waits for them.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopChan)
	m.mu.Lock()
	m.inStop = nil
	m.mu.Unlock()
	m.wg.Wait()
	debug.Log("runtime", "stopped dropped=%d", m.Dropped())
}

func (m *Manager) Running() bool { return m.running.Load() }

// clockLoop processes one period of frames per wake-up, measuring the real
// elapsed time so a late wake-up catches up instead of drifting.
func (m *Manager) clockLoop() {
	defer m.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rate := float64(m.engine.transport.SampleRate())
	period := time.Duration(float64(m.period) / rate * float64(time.Second))
	ticker := time.NewTicker(period)
	uiTicker := time.NewTicker(time.Second / uiFPS)
	defer ticker.Stop()
	defer uiTicker.Stop()

	last := time.Now()
	var carry float64
	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			frames := now.Sub(last).Seconds()*rate + carry
			last = now
			n := uint32(frames)
			carry = frames - float64(n)
			for _, ev := range m.engine.Process(n) {
				if m.Send(ev) != nil {
					debug.LogEvery(100, "runtime", "output queue full")
				}
			}
		case <-uiTicker.C:
			m.notifyUpdate()
		}
	}
}

func (m *Manager) outputLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case ev := <-m.events:
			out := m.output()
			if out == nil {
				continue
			}
			if err := out.Send(ev); err != nil {
				debug.LogEvery(100, "output", "send type=%#x: %v", ev.Type, err)
			}
		}
	}
}

func (m *Manager) inputLoop(in <-chan midi.Event, quit <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case <-quit:
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			m.engine.HandleInput(ev)
			if ev.Type == midi.NoteOn {
				m.notifyUpdate()
			}
		}
	}
}

func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}
