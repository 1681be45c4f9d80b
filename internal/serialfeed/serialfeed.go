// Package serialfeed reads newline-delimited JSON telemetry from a USB
// serial port and hands each decoded message to the live pipeline. It
// covers benches where the device is cabled instead of reachable over
// wifi.
package serialfeed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/vuckos/T-display-web-editor/internal/live"
	"github.com/vuckos/T-display-web-editor/internal/log"
)

const openRetryDelay = 5 * time.Second

// Feed pumps one serial port into a message handler.
type Feed struct {
	port string
	baud int
	fn   func(live.Message)
}

// New returns a feed for the named port. fn receives every decoded line.
func New(port string, baud int, fn func(live.Message)) *Feed {
	if baud <= 0 {
		baud = 115200
	}
	return &Feed{port: port, baud: baud, fn: fn}
}

// Run opens the port and pumps lines until ctx is cancelled. Open
// failures and dropped connections retry with a fixed pause; USB
// enumeration comes and goes with the device.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := serial.Open(f.port, &serial.Mode{BaudRate: f.baud})
		if err != nil {
			log.Error("serial open failed", err, "port", f.port)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(openRetryDelay):
			}
			continue
		}

		log.Info("serial feed open", "port", f.port, "baud", f.baud)
		f.pump(ctx, port)
		if ctx.Err() == nil {
			log.Info("serial feed closed, reopening", "port", f.port)
		}
	}
}

// pump reads the open port until it fails or ctx ends. A watcher closes
// the port on cancellation to unblock the reader.
func (f *Feed) pump(ctx context.Context, port serial.Port) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-done:
		}
	}()

	if err := f.pumpLines(port); err != nil && ctx.Err() == nil {
		log.Error("serial read failed", err, "port", f.port)
	}
	_ = port.Close()
}

// pumpLines decodes newline-delimited JSON from r and dispatches each
// message. Undecodable lines are skipped; serial links carry boot noise.
func (f *Feed) pumpLines(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg live.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Warn("serial line decode failed", "err", err.Error())
			continue
		}
		f.fn(msg)
	}
	return sc.Err()
}
