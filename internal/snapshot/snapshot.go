// Package snapshot writes periodic PNG captures of the live frame, driven
// by a cron expression from the config file. Frames that have not changed
// since the previous capture are skipped.
package snapshot

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vuckos/T-display-web-editor/internal/live"
	"github.com/vuckos/T-display-web-editor/internal/log"
)

const (
	filePrefix = "live-"
	fileSuffix = ".png"

	// keep bounds how many captures stay on disk; snapshot dirs live on
	// small SD cards.
	defaultKeep = 96
)

// Scheduler saves the pipeline's latest frame on a cron schedule.
type Scheduler struct {
	p    *live.Pipeline
	dir  string
	keep int
	c    *cron.Cron

	mu      sync.Mutex
	lastVer uint64

	now func() time.Time
}

// New returns a scheduler capturing into dir, retaining at most keep
// files. keep <= 0 means the default retention.
func New(p *live.Pipeline, dir string, keep int) *Scheduler {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Scheduler{
		p:    p,
		dir:  dir,
		keep: keep,
		c:    cron.New(),
		now:  time.Now,
	}
}

// Start begins captures on the given cron spec (five fields, standard
// syntax, e.g. "*/15 * * * *").
func (s *Scheduler) Start(spec string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if _, err := s.c.AddFunc(spec, func() {
		if _, err := s.CaptureNow(); err != nil {
			log.Error("scheduled snapshot failed", err)
		}
	}); err != nil {
		return fmt.Errorf("parse snapshot schedule %q: %w", spec, err)
	}
	s.c.Start()
	log.Info("snapshot schedule started", "spec", spec, "dir", s.dir)
	return nil
}

// Stop halts the schedule and waits for a running capture to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// CaptureNow writes the current frame to disk and returns the file path.
// An empty path means the frame was unchanged and the capture skipped.
func (s *Scheduler) CaptureNow() (string, error) {
	frame, version := s.p.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if version == s.lastVer {
		return "", nil
	}

	name := filePrefix + s.now().UTC().Format("20060102-150405.000") + fileSuffix
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(f, frame); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	s.lastVer = version
	log.Info("snapshot written", "path", path, "version", version)

	if err := s.prune(); err != nil {
		log.Error("snapshot prune failed", err, "dir", s.dir)
	}
	return path, nil
}

// prune removes the oldest captures beyond the retention count. Names
// embed a UTC timestamp, so lexicographic order is capture order.
func (s *Scheduler) prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var captures []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			captures = append(captures, name)
		}
	}
	if len(captures) <= s.keep {
		return nil
	}

	sort.Strings(captures)
	for _, name := range captures[:len(captures)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}
