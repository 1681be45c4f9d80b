// Package capture produces PNG screenshots of the editor UI through a
// headless Chromium instance. It backs the -capture CLI mode, which grabs
// a shareable picture of the current editor state without opening a
// browser by hand.
package capture

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// Defaults sized for the editor page rather than the panel; the screenshot
// shows the whole editing surface, not the device framebuffer.
const (
	DefaultWidth   = 1280
	DefaultHeight  = 800
	DefaultTimeout = 30 * time.Second
)

// Options configures a single screenshot run.
type Options struct {
	// URL of the editor page, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG is written.
	OutputPath string

	// Width and Height set the viewport in pixels. Zero means the
	// package defaults.
	Width  int
	Height int

	// Timeout bounds the whole navigate-wait-shoot sequence.
	Timeout time.Duration
}

// EditorPNG navigates a headless Chromium to the editor page, waits for
// the page to mark itself ready, and writes a full-page PNG screenshot.
//
// The editor root element sets data-ready="true" once the configuration
// document has loaded and the first preview has been drawn; the capture
// waits on that attribute so screenshots never show a half-initialized
// page.
func EditorPNG(parentCtx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Let the final preview paint settle.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	return nil
}
