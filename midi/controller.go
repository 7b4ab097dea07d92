package midi

// PadEvent is sent when a pad/button is pressed on a grid controller.
// Row 0 is the bottom row, row 8 the top control row and col 8 the side
// (scene) column.
type PadEvent struct {
	Row, Col int
	Velocity uint8
}

// LEDUpdate sets one pad light.
type LEDUpdate struct {
	Row, Col int
	Color    [3]uint8
	Channel  uint8 // ChannelStatic, ChannelFlash or ChannelPulse
}

// Grid is a pad controller used as a launch surface
type Grid interface {
	Name() string
	PadEvents() <-chan PadEvent
	SetLEDBatch(updates []LEDUpdate) error
	Close() error
}

const (
	GridRows = 8
	GridCols = 8

	// Channel modes (use as LEDUpdate.Channel)
	ChannelStatic uint8 = 0 // solid color
	ChannelFlash  uint8 = 1 // flashing A/B alternating
	ChannelPulse  uint8 = 2 // pulsing (fades)
)
