// Package panel drives a locally attached ST7789 TFT over SPI so the live
// frame can be mirrored onto real hardware next to the editor. The driver
// builds on linux only; other platforms get a stub that refuses to open.
package panel

// ST7789 command bytes used by the wake sequence and frame push.
const (
	cmdSWRESET = 0x01
	cmdSLPOUT  = 0x11
	cmdNORON   = 0x13
	cmdINVON   = 0x21
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
)

const (
	DefaultWidth  = 240
	DefaultHeight = 135

	// The controller RAM is 240x320. The visible 240x135 window in
	// landscape orientation starts at these offsets.
	defaultXOffset = 40
	defaultYOffset = 53
)

// Config selects the SPI port and control pins for the panel.
type Config struct {
	// Port is a spireg port name, e.g. "SPI0.0". Empty picks the first
	// available port.
	Port string

	// DCPin is the data/command select line, e.g. "GPIO25".
	DCPin string

	// ResetPin is the hardware reset line, e.g. "GPIO27".
	ResetPin string

	// BacklightPin drives the backlight. Empty leaves the backlight to
	// whatever the board wiring does.
	BacklightPin string

	// Width and Height give the visible panel geometry. Zero means the
	// 240x135 default.
	Width  int
	Height int

	// XOffset and YOffset position the visible window inside the
	// controller RAM. Both zero selects the defaults for the 240x135
	// geometry.
	XOffset int
	YOffset int

	// SpeedHz sets the SPI clock. Zero means 32 MHz.
	SpeedHz int
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.Height <= 0 {
		c.Height = DefaultHeight
	}
	if c.DCPin == "" {
		c.DCPin = "GPIO25"
	}
	if c.ResetPin == "" {
		c.ResetPin = "GPIO27"
	}
	if c.SpeedHz <= 0 {
		c.SpeedHz = 32_000_000
	}
	if c.XOffset == 0 && c.YOffset == 0 && c.Width == DefaultWidth && c.Height == DefaultHeight {
		c.XOffset = defaultXOffset
		c.YOffset = defaultYOffset
	}
	return c
}

// rect16 encodes the inclusive axis range start..start+size-1 as the
// big-endian CASET/RASET payload.
func rect16(start, size int) []byte {
	end := start + size - 1
	return []byte{byte(start >> 8), byte(start), byte(end >> 8), byte(end)}
}
