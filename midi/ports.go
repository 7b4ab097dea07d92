package midi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
)

// ErrPortNotFound is returned when no port matches a requested name.
var ErrPortNotFound = errors.New("midi port not found")

// scanTimeout guards port enumeration (CoreMIDI can hang)
const scanTimeout = 3 * time.Second

// Ports lists input and output port names.
func Ports() (ins, outs []string, err error) {
	type portsResult struct {
		inPorts  []drivers.In
		outPorts []drivers.Out
	}

	ch := make(chan portsResult, 1)
	go func() {
		ch <- portsResult{inPorts: gomidi.GetInPorts(), outPorts: gomidi.GetOutPorts()}
	}()

	select {
	case r := <-ch:
		for _, p := range r.inPorts {
			ins = append(ins, p.String())
		}
		for _, p := range r.outPorts {
			outs = append(outs, p.String())
		}
		return ins, outs, nil
	case <-time.After(scanTimeout):
		return nil, nil, fmt.Errorf("port scan timed out after %s", scanTimeout)
	}
}

// matchPort prefers an exact name and falls back to a case-insensitive
// substring match.
func matchPort(name string, names []string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	lower := strings.ToLower(name)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), lower) {
			return i
		}
	}
	return -1
}

// FindInPort opens nothing; it resolves an input port by name.
func FindInPort(name string) (drivers.In, error) {
	ports := gomidi.GetInPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	if i := matchPort(name, names); i >= 0 {
		return ports[i], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrPortNotFound, name)
}

// PortOutput sends events to a named output port, opening it on first use.
// A failed send drops the sender so the next event retries the open, which
// is how an unplugged and replugged interface comes back.
type PortOutput struct {
	name string

	mu     sync.RWMutex
	port   drivers.Out
	sender func(gomidi.Message) error
}

// NewPortOutput creates an output for the named port. Nothing is opened yet.
func NewPortOutput(name string) *PortOutput {
	return &PortOutput{name: name}
}

func (o *PortOutput) Name() string { return o.name }

// getSender returns a sender for the port, lazily opening it
func (o *PortOutput) getSender() (func(gomidi.Message) error, error) {
	o.mu.RLock()
	if o.sender != nil {
		sender := o.sender
		o.mu.RUnlock()
		return sender, nil
	}
	o.mu.RUnlock()

	o.mu.Lock()
	defer o.mu.Unlock()

	// Double-check after acquiring write lock
	if o.sender != nil {
		return o.sender, nil
	}

	outs := gomidi.GetOutPorts()
	names := make([]string, len(outs))
	for i, p := range outs {
		names[i] = p.String()
	}
	i := matchPort(o.name, names)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, o.name)
	}
	sender, err := gomidi.SendTo(outs[i])
	if err != nil {
		return nil, fmt.Errorf("open output %q: %w", names[i], err)
	}
	o.port = outs[i]
	o.sender = sender
	return sender, nil
}

// Send writes one event to the port.
func (o *PortOutput) Send(ev Event) error {
	msg := ev.Message()
	if msg == nil {
		return nil
	}
	sender, err := o.getSender()
	if err != nil {
		return err
	}
	if err := sender(msg); err != nil {
		o.mu.Lock()
		o.sender = nil
		o.mu.Unlock()
		return fmt.Errorf("send to %q: %w", o.name, err)
	}
	return nil
}

// Close releases the port.
func (o *PortOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = nil
	if o.port != nil {
		err := o.port.Close()
		o.port = nil
		return err
	}
	return nil
}

// CloseDriver shuts the MIDI driver down. Call once at exit.
func CloseDriver() {
	gomidi.CloseDriver()
}
