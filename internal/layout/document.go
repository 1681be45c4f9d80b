package layout

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// screenPrefix is the document key prefix for screens: SCREEN_1, SCREEN_2...
const screenPrefix = "SCREEN_"

// Document is the full display configuration: screen keys mapping to cell
// arrays, plus any other top-level keys ("settings", firmware extras),
// which round-trip through load and export untouched.
type Document struct {
	Screens map[string][]Cell
	Extra   map[string]json.RawMessage
}

// NewDocument returns a document with a single empty screen, the shape a
// factory-fresh device reports.
func NewDocument() *Document {
	return &Document{
		Screens: map[string][]Cell{ScreenKey(1): {}},
		Extra:   map[string]json.RawMessage{},
	}
}

// ScreenKey builds the document key for screen number n.
func ScreenKey(n int) string {
	return screenPrefix + strconv.Itoa(n)
}

// IsScreenKey reports whether k names a screen (SCREEN_ followed by a
// decimal number).
func IsScreenKey(k string) bool {
	suffix, ok := strings.CutPrefix(k, screenPrefix)
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

// screenNumber extracts n from SCREEN_<n>; -1 when k is not a screen key.
func screenNumber(k string) int {
	suffix, ok := strings.CutPrefix(k, screenPrefix)
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return -1
	}
	return n
}

// ScreenKeys returns the document's screen keys in numeric order
// (SCREEN_2 before SCREEN_10).
func (d *Document) ScreenKeys() []string {
	keys := make([]string, 0, len(d.Screens))
	for k := range d.Screens {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return screenNumber(keys[i]) < screenNumber(keys[j])
	})
	return keys
}

// NextScreenKey returns the first unused SCREEN_<n> key, counting from 1.
func (d *Document) NextScreenKey() string {
	n := 1
	for {
		k := ScreenKey(n)
		if _, exists := d.Screens[k]; !exists {
			return k
		}
		n++
	}
}

// Settings decodes the document's "settings" object into a map. A missing
// or malformed settings entry yields an empty map.
func (d *Document) Settings() map[string]any {
	out := map[string]any{}
	raw, ok := d.Extra["settings"]
	if !ok {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// SetSetting updates one key in the "settings" object, creating the object
// if the document has none.
func (d *Document) SetSetting(key string, value any) error {
	settings := d.Settings()
	settings[key] = value
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("layout: encode settings: %w", err)
	}
	if d.Extra == nil {
		d.Extra = map[string]json.RawMessage{}
	}
	d.Extra["settings"] = raw
	return nil
}

// Clone deep-copies the document so callers can hand out snapshots without
// exposing internal state.
func (d *Document) Clone() *Document {
	out := &Document{
		Screens: make(map[string][]Cell, len(d.Screens)),
		Extra:   make(map[string]json.RawMessage, len(d.Extra)),
	}
	for k, cells := range d.Screens {
		cp := make([]Cell, len(cells))
		copy(cp, cells)
		out.Screens[k] = cp
	}
	for k, raw := range d.Extra {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out.Extra[k] = cp
	}
	return out
}

// MarshalJSON flattens screens and extras back into one top-level object.
// encoding/json sorts the keys, so output is deterministic.
func (d *Document) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Screens)+len(d.Extra))
	for k, cells := range d.Screens {
		flat[k] = cells
	}
	for k, raw := range d.Extra {
		flat[k] = raw
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a top-level object into screens and extras. A
// SCREEN_<n> key whose value is not a cell array is kept verbatim in Extra
// instead of failing the whole document.
func (d *Document) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	d.Screens = map[string][]Cell{}
	d.Extra = map[string]json.RawMessage{}

	for k, raw := range flat {
		if IsScreenKey(k) {
			var cells []Cell
			if err := json.Unmarshal(raw, &cells); err == nil {
				if cells == nil {
					cells = []Cell{}
				}
				d.Screens[k] = cells
				continue
			}
		}
		d.Extra[k] = raw
	}
	return nil
}

// ExportJSON renders the document pretty-printed, the form served as the
// downloadable export artifact.
func (d *Document) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("layout: export document: %w", err)
	}
	return data, nil
}
