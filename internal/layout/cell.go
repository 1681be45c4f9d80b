// Package layout owns the display configuration document: screens of
// renderable cells, device settings, load/save/export, and the readiness
// barrier consumers wait on before touching the document.
package layout

import (
	"encoding/json"

	"github.com/vuckos/T-display-web-editor/internal/convert"
)

// Cell is one rectangular display element. Geometry and colors tolerate the
// loose typing found in device documents and telemetry frames: numbers may
// arrive as strings, booleans as the literal text "true"/"false", packed
// colors as hex strings (document) or numbers (wire). Anything malformed
// coerces to the zero value; parsing a cell never fails.
type Cell struct {
	Name          string
	PosX          int
	PosY          int
	SizeX         int
	SizeY         int
	BgColor       uint16
	Font1Color    uint16
	Font2Color    uint16
	Enabled       bool
	StrValue      string
	Value         float64
	DecimalPlaces int
	DataValid     bool
	DataSource    string
}

// cellJSON is the document/wire shape of a Cell. Colors serialize as the
// canonical 4-digit hex form.
type cellJSON struct {
	Name          string  `json:"name"`
	PosX          int     `json:"posx"`
	PosY          int     `json:"posy"`
	SizeX         int     `json:"sizex"`
	SizeY         int     `json:"sizey"`
	BgColor       string  `json:"bg_color"`
	Font1Color    string  `json:"font1_color"`
	Font2Color    string  `json:"font2_color"`
	Enabled       bool    `json:"enabled"`
	StrValue      string  `json:"str_value,omitempty"`
	Value         float64 `json:"value,omitempty"`
	DecimalPlaces int     `json:"decimalPlaces,omitempty"`
	DataValid     bool    `json:"data1_valid"`
	DataSource    string  `json:"data_source,omitempty"`
}

// MarshalJSON writes the document form of the cell.
func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(cellJSON{
		Name:          c.Name,
		PosX:          c.PosX,
		PosY:          c.PosY,
		SizeX:         c.SizeX,
		SizeY:         c.SizeY,
		BgColor:       convert.FormatPacked(c.BgColor),
		Font1Color:    convert.FormatPacked(c.Font1Color),
		Font2Color:    convert.FormatPacked(c.Font2Color),
		Enabled:       c.Enabled,
		StrValue:      c.StrValue,
		Value:         c.Value,
		DecimalPlaces: c.DecimalPlaces,
		DataValid:     c.DataValid,
		DataSource:    c.DataSource,
	})
}

// UnmarshalJSON accepts both the document form and the looser wire form.
// Field-level type mismatches coerce instead of failing; only malformed
// JSON itself is an error.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = CellFromMap(raw)
	return nil
}

// CellFromMap builds a Cell from an already-decoded JSON object. The live
// pipeline uses this directly for telemetry frames.
func CellFromMap(raw map[string]any) Cell {
	return Cell{
		Name:          asString(raw["name"]),
		PosX:          nonNegative(asInt(raw["posx"])),
		PosY:          nonNegative(asInt(raw["posy"])),
		SizeX:         nonNegative(asInt(raw["sizex"])),
		SizeY:         nonNegative(asInt(raw["sizey"])),
		BgColor:       asPacked(raw["bg_color"]),
		Font1Color:    asPacked(raw["font1_color"]),
		Font2Color:    asPacked(raw["font2_color"]),
		Enabled:       asBool(raw["enabled"]),
		StrValue:      asString(raw["str_value"]),
		Value:         asFloat(raw["value"]),
		DecimalPlaces: nonNegative(asInt(raw["decimalPlaces"])),
		DataValid:     asBool(raw["data1_valid"]),
		DataSource:    asString(raw["data_source"]),
	}
}
