package midi

import (
	"fmt"
	"strings"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"go-stepseq/debug"
)

// Launchpad drives a Novation Launchpad X in programmer mode
type Launchpad struct {
	name     string
	outPort  drivers.Out
	send     func(msg gomidi.Message) error
	stopFunc func()

	padChan chan PadEvent
	sent    atomic.Uint64
}

// IsLaunchpad reports whether a port name looks like a Launchpad's MIDI port.
func IsLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}

// OpenLaunchpad opens the input and output ports matching name.
func OpenLaunchpad(name string) (*Launchpad, error) {
	inPort, err := FindInPort(name)
	if err != nil {
		return nil, err
	}
	outs := gomidi.GetOutPorts()
	names := make([]string, len(outs))
	for i, p := range outs {
		names[i] = p.String()
	}
	i := matchPort(name, names)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrPortNotFound, name)
	}
	send, err := gomidi.SendTo(outs[i])
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	lp := newLaunchpad(inPort.String(), send)
	lp.outPort = outs[i]
	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		lp.handle(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	lp.stopFunc = stop
	return lp, nil
}

func newLaunchpad(name string, send func(gomidi.Message) error) *Launchpad {
	lp := &Launchpad{
		name:    name,
		send:    send,
		padChan: make(chan PadEvent, 32),
	}
	// Programmer mode: F0 00 20 29 02 0C 00 7F F7
	lp.send(gomidi.SysEx([]byte{0x00, 0x20, 0x29, 0x02, 0x0C, 0x00, 0x7F}))
	// Brightness to maximum: F0 00 20 29 02 0C 08 <brightness> F7
	lp.send(gomidi.SysEx([]byte{0x00, 0x20, 0x29, 0x02, 0x0C, 0x08, 0x7F}))
	// External LED feedback: F0 00 20 29 02 0C 0A 01 01 F7
	lp.send(gomidi.SysEx([]byte{0x00, 0x20, 0x29, 0x02, 0x0C, 0x0A, 0x01, 0x01}))
	return lp
}

// handle turns a press into a pad event without blocking the driver.
func (lp *Launchpad) handle(msg gomidi.Message) {
	var channel, note, velocity uint8
	row, col := -1, -1
	switch {
	case msg.GetNoteOn(&channel, &note, &velocity) && velocity > 0:
		row, col = noteToRowCol(note)
	case msg.GetControlChange(&channel, &note, &velocity) && velocity > 0:
		row, col = ccToRowCol(note)
	}
	if row < 0 {
		return
	}
	select {
	case lp.padChan <- PadEvent{Row: row, Col: col, Velocity: velocity}:
	default:
	}
}

func (lp *Launchpad) Name() string { return lp.name }

func (lp *Launchpad) PadEvents() <-chan PadEvent { return lp.padChan }

// SetLEDBatch sends one NoteOn per update. Callers diff against the last
// frame so only changed pads are sent.
func (lp *Launchpad) SetLEDBatch(updates []LEDUpdate) error {
	for _, u := range updates {
		note := rowColToNote(u.Row, u.Col)
		if err := lp.send(gomidi.NoteOn(u.Channel, note, mapRGBToLaunchpad(u.Color))); err != nil {
			return fmt.Errorf("led %d,%d: %w", u.Row, u.Col, err)
		}
	}
	count := lp.sent.Add(uint64(len(updates)))
	if count%100 < uint64(len(updates)) {
		debug.Log("lp-send", "batch count=%d (this batch=%d)", count, len(updates))
	}
	return nil
}

// mapRGBToLaunchpad finds the nearest Launchpad X palette color for an RGB value
func mapRGBToLaunchpad(rgb [3]uint8) uint8 {
	// {velocity, R, G, B}
	palette := [][4]uint8{
		{0, 0, 0, 0},         // off
		{5, 255, 0, 0},       // red
		{7, 180, 60, 60},     // dim red
		{9, 255, 100, 0},     // orange
		{13, 255, 200, 0},    // yellow
		{19, 0, 100, 0},      // dim green
		{21, 0, 255, 0},      // bright green
		{37, 0, 200, 200},    // cyan
		{43, 40, 60, 120},    // dim blue
		{45, 0, 100, 255},    // blue
		{49, 150, 0, 200},    // purple
		{53, 255, 80, 180},   // pink
		{84, 255, 150, 50},   // bright orange
		{119, 255, 255, 255}, // white
	}

	best := uint8(0)
	bestDist := 1 << 30
	r, g, b := int(rgb[0]), int(rgb[1]), int(rgb[2])
	for _, p := range palette {
		dr, dg, db := r-int(p[1]), g-int(p[2]), b-int(p[3])
		if dist := dr*dr + dg*dg + db*db; dist < bestDist {
			bestDist = dist
			best = p[0]
		}
	}
	return best
}

// Close darkens every pad and stops listening.
func (lp *Launchpad) Close() error {
	var updates []LEDUpdate
	for row := 0; row <= GridRows; row++ {
		for col := 0; col <= GridCols; col++ {
			if row == GridRows && col == GridCols {
				continue // no LED at 8,8
			}
			updates = append(updates, LEDUpdate{Row: row, Col: col})
		}
	}
	err := lp.SetLEDBatch(updates)
	if lp.stopFunc != nil {
		lp.stopFunc()
		lp.stopFunc = nil
		close(lp.padChan)
	}
	if lp.outPort != nil {
		lp.outPort.Close()
	}
	return err
}

// Launchpad X note mapping
// 8x8 Grid:  Row 0 (bottom) = notes 11-18, Row 7 = notes 81-88
// Side col:  Col 8 (scene buttons) = notes 19, 29, ..., 89
// Top row:   Row 8 = CC 91-98

func rowColToNote(row, col int) uint8 {
	if row == GridRows {
		return uint8(91 + col)
	}
	return uint8((row+1)*10 + col + 1)
}

func noteToRowCol(note uint8) (row, col int) {
	if note >= 91 && note <= 98 {
		return GridRows, int(note - 91)
	}
	row = int(note/10) - 1
	col = int(note%10) - 1
	if row < 0 || row >= GridRows || col < 0 || col > GridCols {
		return -1, -1
	}
	return row, col
}

func ccToRowCol(cc uint8) (row, col int) {
	if cc >= 91 && cc <= 98 {
		return GridRows, int(cc - 91)
	}
	return -1, -1
}
