//go:build !linux

package panel

import "fmt"

// Panel is only backed by real hardware on linux. This stub keeps the
// package buildable everywhere else.
type Panel struct{}

// Open always fails off linux.
func Open(Config) (*Panel, error) {
	return nil, fmt.Errorf("panel: SPI driver is only available on linux")
}

// Push is never reachable through the stub; Open refuses first.
func (p *Panel) Push([]byte) error {
	return fmt.Errorf("panel: not supported on this platform")
}

// Close is a no-op on the stub.
func (p *Panel) Close() error { return nil }
