package layout

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vuckos/T-display-web-editor/internal/events"
	applog "github.com/vuckos/T-display-web-editor/internal/log"
)

// Sentinel errors callers can map to API responses.
var (
	ErrNotLoaded = errors.New("layout: document not loaded")
	ErrNoScreen  = errors.New("layout: no such screen")
	ErrNoCell    = errors.New("layout: cell index out of range")
)

// ChangeOp names a document mutation kind for change subscribers.
type ChangeOp string

const (
	ChangeLoad         ChangeOp = "load"
	ChangeReplace      ChangeOp = "replace"
	ChangeScreenAdd    ChangeOp = "screen_add"
	ChangeScreenRemove ChangeOp = "screen_remove"
	ChangeCellAdd      ChangeOp = "cell_add"
	ChangeCellUpdate   ChangeOp = "cell_update"
	ChangeCellRemove   ChangeOp = "cell_remove"
	ChangeSetting      ChangeOp = "setting"
)

// Change describes one document mutation.
type Change struct {
	Op     ChangeOp
	Screen string
	Index  int
}

// Store owns the in-memory document and its persistence. All accessors
// hand out copies; mutation happens only through Store methods. Consumers
// that must not run before a document exists wait on WaitReady.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  *Document

	ready     chan struct{}
	readyOnce sync.Once

	changed events.Signal[Change]
}

// NewStore creates a store persisting to path. No document is loaded yet.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		ready: make(chan struct{}),
	}
}

// OnChange subscribes to document mutations; returns an unsubscribe func.
func (s *Store) OnChange(fn func(Change)) func() {
	return s.changed.Subscribe(fn)
}

// Ready exposes the readiness barrier as a channel for select loops.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until a document has been loaded, the context is
// canceled, or the timeout elapses.
func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("layout: waiting for document: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("layout: no document loaded within %s", timeout)
	}
}

func (s *Store) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Load reads the document from disk. On first run (no file yet) it starts
// from a factory document and persists it, mirroring how the device
// initializes its own config.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			applog.Info("no document on disk, starting from factory layout", "path", s.path)
			doc := NewDocument()
			s.mu.Lock()
			s.doc = doc
			s.mu.Unlock()
			if err := s.Save(); err != nil {
				return err
			}
			s.markReady()
			s.changed.Emit(Change{Op: ChangeLoad})
			return nil
		}
		return fmt.Errorf("layout: read %s: %w", s.path, err)
	}

	doc := &Document{}
	if err := doc.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("layout: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	s.markReady()
	s.changed.Emit(Change{Op: ChangeLoad})
	applog.Info("document loaded", "path", s.path, "screens", len(doc.Screens))
	return nil
}

// Replace swaps in a whole new document (the PUT /api/document path).
func (s *Store) Replace(doc *Document) {
	s.mu.Lock()
	s.doc = doc.Clone()
	s.mu.Unlock()

	s.markReady()
	s.changed.Emit(Change{Op: ChangeReplace})
}

// Document returns a deep copy of the current document.
func (s *Store) Document() (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNotLoaded
	}
	return s.doc.Clone(), nil
}

// ScreenKeys lists the loaded screens in numeric order; empty before load.
func (s *Store) ScreenKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil
	}
	return s.doc.ScreenKeys()
}

// Cells returns a copy of one screen's cell array.
func (s *Store) Cells(screen string) ([]Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNotLoaded
	}
	cells, ok := s.doc.Screens[screen]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoScreen, screen)
	}
	cp := make([]Cell, len(cells))
	copy(cp, cells)
	return cp, nil
}

// AddScreen appends the next free SCREEN_<n> and returns its key.
func (s *Store) AddScreen() (string, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return "", ErrNotLoaded
	}
	key := s.doc.NextScreenKey()
	s.doc.Screens[key] = []Cell{}
	s.mu.Unlock()

	s.changed.Emit(Change{Op: ChangeScreenAdd, Screen: key})
	return key, nil
}

// RemoveScreen deletes a screen and its cells.
func (s *Store) RemoveScreen(screen string) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if _, ok := s.doc.Screens[screen]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoScreen, screen)
	}
	delete(s.doc.Screens, screen)
	s.mu.Unlock()

	s.changed.Emit(Change{Op: ChangeScreenRemove, Screen: screen})
	return nil
}

// AddCell appends a cell to a screen and returns its index.
func (s *Store) AddCell(screen string, c Cell) (int, error) {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return 0, ErrNotLoaded
	}
	cells, ok := s.doc.Screens[screen]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNoScreen, screen)
	}
	s.doc.Screens[screen] = append(cells, c)
	idx := len(cells)
	s.mu.Unlock()

	s.changed.Emit(Change{Op: ChangeCellAdd, Screen: screen, Index: idx})
	return idx, nil
}

// UpdateCell replaces the cell at index idx.
func (s *Store) UpdateCell(screen string, idx int, c Cell) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	cells, ok := s.doc.Screens[screen]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoScreen, screen)
	}
	if idx < 0 || idx >= len(cells) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s[%d]", ErrNoCell, screen, idx)
	}
	cells[idx] = c
	s.mu.Unlock()

	s.changed.Emit(Change{Op: ChangeCellUpdate, Screen: screen, Index: idx})
	return nil
}

// RemoveCell deletes the cell at index idx, shifting later cells down.
// Cell indexes are positional, not stable identifiers.
func (s *Store) RemoveCell(screen string, idx int) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	cells, ok := s.doc.Screens[screen]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoScreen, screen)
	}
	if idx < 0 || idx >= len(cells) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s[%d]", ErrNoCell, screen, idx)
	}
	s.doc.Screens[screen] = append(cells[:idx], cells[idx+1:]...)
	s.mu.Unlock()

	s.changed.Emit(Change{Op: ChangeCellRemove, Screen: screen, Index: idx})
	return nil
}

// SetSetting updates one settings key.
func (s *Store) SetSetting(key string, value any) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	err := s.doc.SetSetting(key, value)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.changed.Emit(Change{Op: ChangeSetting})
	return nil
}

// Settings returns a copy of the settings object.
func (s *Store) Settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return map[string]any{}
	}
	return s.doc.Settings()
}

// ExportJSON renders the current document pretty-printed.
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNotLoaded
	}
	return s.doc.ExportJSON()
}

// Save writes the document to disk atomically: temp file in the target
// directory, sync, then rename over the destination.
func (s *Store) Save() error {
	data, err := s.ExportJSON()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("layout: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".layout-*.tmp")
	if err != nil {
		return fmt.Errorf("layout: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("layout: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("layout: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("layout: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("layout: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("layout: rename to %s: %w", s.path, err)
	}
	return nil
}
