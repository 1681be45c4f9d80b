//go:build linux

package panel

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/vuckos/T-display-web-editor/internal/convert"
	"github.com/vuckos/T-display-web-editor/internal/log"
)

// Panel is an open ST7789 display.
type Panel struct {
	cfg  Config
	port spi.PortCloser
	conn spi.Conn
	dc   gpio.PinOut
	rst  gpio.PinOut
	bl   gpio.PinOut
}

// Open initializes periph, claims the SPI port and control pins, runs the
// ST7789 wake sequence, and turns the backlight on.
func Open(cfg Config) (*Panel, error) {
	cfg = cfg.withDefaults()

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("panel: periph host init: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("panel: open SPI port %q: %w", cfg.Port, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SpeedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("panel: connect SPI: %w", err)
	}

	claimOut := func(name string, lvl gpio.Level) (gpio.PinOut, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("panel: gpio %s not found", name)
		}
		if err := p.Out(lvl); err != nil {
			return nil, fmt.Errorf("panel: gpio %s: %w", name, err)
		}
		return p, nil
	}

	dc, err := claimOut(cfg.DCPin, gpio.Low)
	if err != nil {
		port.Close()
		return nil, err
	}
	rst, err := claimOut(cfg.ResetPin, gpio.High)
	if err != nil {
		port.Close()
		return nil, err
	}
	var bl gpio.PinOut
	if cfg.BacklightPin != "" {
		if bl, err = claimOut(cfg.BacklightPin, gpio.Low); err != nil {
			port.Close()
			return nil, err
		}
	}

	p := &Panel{cfg: cfg, port: port, conn: conn, dc: dc, rst: rst, bl: bl}
	if err := p.wake(); err != nil {
		port.Close()
		return nil, err
	}
	if p.bl != nil {
		_ = p.bl.Out(gpio.High)
	}

	log.Info("panel ready",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"spi_hz", cfg.SpeedHz)
	return p, nil
}

func (p *Panel) hardReset() {
	_ = p.rst.Out(gpio.High)
	time.Sleep(50 * time.Millisecond)
	_ = p.rst.Out(gpio.Low)
	time.Sleep(50 * time.Millisecond)
	_ = p.rst.Out(gpio.High)
	time.Sleep(150 * time.Millisecond)
}

// wake runs the ST7789 power-up sequence: software reset, leave sleep,
// 16bpp pixel format, landscape orientation, inversion on (these panels
// ship inverted), then display on.
func (p *Panel) wake() error {
	p.hardReset()

	seq := []struct {
		reg   byte
		data  []byte
		delay time.Duration
	}{
		{reg: cmdSWRESET, delay: 150 * time.Millisecond},
		{reg: cmdSLPOUT, delay: 120 * time.Millisecond},
		{reg: cmdCOLMOD, data: []byte{0x55}, delay: 10 * time.Millisecond},
		{reg: cmdMADCTL, data: []byte{0x60}},
		{reg: cmdINVON},
		{reg: cmdNORON, delay: 10 * time.Millisecond},
		{reg: cmdDISPON, delay: 120 * time.Millisecond},
	}
	for _, c := range seq {
		if err := p.command(c.reg, c.data...); err != nil {
			return err
		}
		if c.delay > 0 {
			time.Sleep(c.delay)
		}
	}
	return nil
}

func (p *Panel) command(reg byte, data ...byte) error {
	if err := p.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := p.conn.Tx([]byte{reg}, nil); err != nil {
		return fmt.Errorf("panel: command %#02x: %w", reg, err)
	}
	if len(data) == 0 {
		return nil
	}
	return p.data(data)
}

// data streams parameter or pixel bytes, split to fit the spidev transfer
// buffer.
func (p *Panel) data(buf []byte) error {
	if err := p.dc.Out(gpio.High); err != nil {
		return err
	}
	const maxTransfer = 4096
	for len(buf) > 0 {
		n := len(buf)
		if n > maxTransfer {
			n = maxTransfer
		}
		if err := p.conn.Tx(buf[:n], nil); err != nil {
			return fmt.Errorf("panel: data: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Push writes a full frame of big-endian RGB565 pixels to the panel RAM.
func (p *Panel) Push(frame []byte) error {
	if err := convert.ValidatePlane(frame, p.cfg.Width, p.cfg.Height); err != nil {
		return err
	}
	if err := p.command(cmdCASET, rect16(p.cfg.XOffset, p.cfg.Width)...); err != nil {
		return err
	}
	if err := p.command(cmdRASET, rect16(p.cfg.YOffset, p.cfg.Height)...); err != nil {
		return err
	}
	if err := p.command(cmdRAMWR); err != nil {
		return err
	}
	return p.data(frame)
}

// Close blanks the backlight and releases the SPI port.
func (p *Panel) Close() error {
	if p.bl != nil {
		_ = p.bl.Out(gpio.Low)
	}
	return p.port.Close()
}
