// Package render draws layout cells onto RGBA surfaces: the editor preview,
// the live telemetry view, and the frames mirrored to an attached panel.
// Geometry arrives pre-coerced (non-negative) from the layout package;
// a zero-area fill is a no-op, never an error.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/vuckos/T-display-web-editor/internal/convert"
	"github.com/vuckos/T-display-web-editor/internal/layout"
)

// Mode selects how a cell is drawn.
type Mode int

const (
	// ModeNormal fills the background and draws the cell name near the
	// top-left corner.
	ModeNormal Mode = iota
	// ModeDimmed lays a 70%-opaque black veil over the cell, used to
	// de-emphasize everything but the selection.
	ModeDimmed
	// ModeSelected draws the highlight outline and glow inside the cell
	// boundary, leaving the interior untouched.
	ModeSelected
	// ModeLive fills the background and draws the current value, bold and
	// centered, with a red outline when the sample is stale or invalid.
	ModeLive
)

const (
	labelFontSize = 12
	labelInsetX   = 5
	labelInsetY   = 15

	selectedStroke = 3
	invalidStroke  = 2
	liveFontMax    = 24

	// dimAlpha is 70% of full opacity.
	dimAlpha = 178
)

var (
	dimVeil        = color.RGBA{A: dimAlpha}
	highlightColor = color.RGBA{R: 255, G: 165, A: 255}
	invalidColor   = color.RGBA{R: 255, A: 255}

	// glowColor is non-premultiplied; draw premultiplies on blend.
	glowColor = color.NRGBA{R: 255, G: 165, A: 96}
)

// Renderer draws individual cells. It is safe for concurrent use; the
// face caches serialize their own access.
type Renderer struct{}

// NewRenderer parses the embedded fonts (once per process) and returns a
// cell renderer.
func NewRenderer() (*Renderer, error) {
	if err := loadFonts(); err != nil {
		return nil, err
	}
	return &Renderer{}, nil
}

// Render draws one cell in the given mode.
func (r *Renderer) Render(dst *image.RGBA, c layout.Cell, mode Mode) {
	switch mode {
	case ModeNormal:
		r.renderNormal(dst, c)
	case ModeDimmed:
		fillRect(dst, c.PosX, c.PosY, c.SizeX, c.SizeY, dimVeil)
	case ModeSelected:
		r.renderSelected(dst, c)
	case ModeLive:
		r.renderLive(dst, c)
	}
}

func (r *Renderer) renderNormal(dst *image.RGBA, c layout.Cell) {
	fillRect(dst, c.PosX, c.PosY, c.SizeX, c.SizeY, decode(c.BgColor))
	r.drawLabel(dst, c.Name, c.PosX+labelInsetX, c.PosY+labelInsetY, decode(c.Font1Color))
}

// renderSelected strokes a 3-unit outline just inside the cell boundary
// (the stroke path is inset 1.5 units, so the band covers insets 0..3)
// and adds a one-unit glow ring outside it.
func (r *Renderer) renderSelected(dst *image.RGBA, c layout.Cell) {
	strokeRect(dst, c.PosX, c.PosY, c.SizeX, c.SizeY, selectedStroke, highlightColor)
	strokeRect(dst, c.PosX-1, c.PosY-1, c.SizeX+2, c.SizeY+2, 1, glowColor)
}

func (r *Renderer) renderLive(dst *image.RGBA, c layout.Cell) {
	fillRect(dst, c.PosX, c.PosY, c.SizeX, c.SizeY, decode(c.BgColor))

	text := c.StrValue
	if text == "" {
		text = strconv.FormatFloat(c.Value, 'f', c.DecimalPlaces, 64)
	}

	size := c.SizeX / 4
	if h := c.SizeY / 2; h < size {
		size = h
	}
	if size > liveFontMax {
		size = liveFontMax
	}
	if size >= 1 {
		r.drawCentered(dst, text, c, size, decode(c.Font1Color))
	}

	if !c.DataValid {
		strokeRect(dst, c.PosX, c.PosY, c.SizeX, c.SizeY, invalidStroke, invalidColor)
	}
}

// drawLabel draws text with its baseline at (x, y) in the label face.
func (r *Renderer) drawLabel(dst *image.RGBA, text string, x, y int, col color.Color) {
	if text == "" {
		return
	}
	face, err := monoCache.face(labelFontSize)
	if err != nil {
		return
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// drawCentered draws bold text centered both ways within the cell rect.
func (r *Renderer) drawCentered(dst *image.RGBA, text string, c layout.Cell, size int, col color.Color) {
	face, err := boldCache.face(size)
	if err != nil {
		return
	}
	adv := font.MeasureString(face, text).Round()
	m := face.Metrics()

	x := c.PosX + (c.SizeX-adv)/2
	baseline := c.PosY + (c.SizeY+m.Ascent.Round()-m.Descent.Round())/2

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

func decode(packed uint16) color.RGBA {
	rr, gg, bb := convert.Decode(packed)
	return color.RGBA{R: rr, G: gg, B: bb, A: 255}
}

// fillRect fills a w×h rect at (x, y), clipped to the surface. Zero or
// negative extents are no-ops. Alpha in col blends over existing pixels.
func fillRect(dst *image.RGBA, x, y, w, h int, col color.Color) {
	if w <= 0 || h <= 0 {
		return
	}
	r := image.Rect(x, y, x+w, y+h).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(col), image.Point{}, draw.Over)
}

// strokeRect draws an outline of the given thickness just inside the
// x, y, w, h boundary as four filled bands.
func strokeRect(dst *image.RGBA, x, y, w, h, thickness int, col color.Color) {
	if w <= 0 || h <= 0 || thickness <= 0 {
		return
	}
	fillRect(dst, x, y, w, thickness, col)             // top
	fillRect(dst, x, y+h-thickness, w, thickness, col) // bottom
	fillRect(dst, x, y, thickness, h, col)             // left
	fillRect(dst, x+w-thickness, y, thickness, h, col) // right
}
