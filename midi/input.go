package midi

import (
	"fmt"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// inputBuffer is sized for a burst of clock pulses plus notes
const inputBuffer = 256

// Input listens on a port and delivers parsed events on a channel.
type Input struct {
	name     string
	stopFunc func()
	events   chan Event
	dropped  atomic.Uint64
}

// NewInput starts listening on the given port.
func NewInput(inPort drivers.In) (*Input, error) {
	in := &Input{
		name:   inPort.String(),
		events: make(chan Event, inputBuffer),
	}

	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		in.Deliver(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	in.stopFunc = stop
	return in, nil
}

// Deliver parses msg and queues it without blocking the driver callback.
func (in *Input) Deliver(msg gomidi.Message) {
	ev, ok := ParseMessage(msg)
	if !ok {
		return
	}
	select {
	case in.events <- ev:
	default:
		in.dropped.Add(1)
	}
}

func (in *Input) Name() string { return in.name }

func (in *Input) Events() <-chan Event { return in.events }

// Dropped counts events discarded because the channel was full.
func (in *Input) Dropped() uint64 { return in.dropped.Load() }

func (in *Input) Close() error {
	if in.stopFunc != nil {
		in.stopFunc()
		in.stopFunc = nil
	}
	return nil
}
