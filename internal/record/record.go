// Package record captures live feed traffic into zstd-compressed JSON
// lines and plays it back at the recorded pace. Recordings make device
// sessions reproducible without the device.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/vuckos/T-display-web-editor/internal/live"
)

// entry is one recorded message. Offsets are relative to the first entry
// so a recording replays with the same rhythm it was captured with.
type entry struct {
	OffsetMS int64        `json:"offset_ms"`
	Msg      live.Message `json:"msg"`
}

// Recorder appends live messages to a compressed recording file. It is
// safe to call Record from the feed callback goroutine while the rest of
// the process runs.
type Recorder struct {
	mu    sync.Mutex
	f     *os.File
	zw    *zstd.Encoder
	enc   *json.Encoder
	start time.Time
	n     int

	now func() time.Time
}

// NewRecorder creates (or truncates) the recording at path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &Recorder{
		f:   f,
		zw:  zw,
		enc: json.NewEncoder(zw),
		now: time.Now,
	}, nil
}

// Record appends one message. The first message anchors the time axis.
func (r *Recorder) Record(msg live.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := r.now()
	if r.start.IsZero() {
		r.start = at
	}
	e := entry{OffsetMS: at.Sub(r.start).Milliseconds(), Msg: msg}
	if err := r.enc.Encode(&e); err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	r.n++
	return nil
}

// Entries returns how many messages have been recorded so far.
func (r *Recorder) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Close flushes the compressed stream and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.zw.Close(); err != nil {
		r.f.Close()
		return fmt.Errorf("zstd close: %w", err)
	}
	if err := r.f.Sync(); err != nil {
		r.f.Close()
		return fmt.Errorf("sync recording: %w", err)
	}
	return r.f.Close()
}

// Replay reads the recording at path and hands each message to fn,
// sleeping so deliveries land at their recorded offsets. It returns the
// number of messages delivered. Cancelling ctx stops playback between
// entries.
func Replay(ctx context.Context, path string, fn func(live.Message)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	start := time.Now()
	count := 0
	for {
		var e entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("decode recording: %w", err)
		}

		due := start.Add(time.Duration(e.OffsetMS) * time.Millisecond)
		if d := time.Until(due); d > 0 {
			select {
			case <-ctx.Done():
				return count, ctx.Err()
			case <-time.After(d):
			}
		} else if err := ctx.Err(); err != nil {
			return count, err
		}

		fn(e.Msg)
		count++
	}
}
