package render

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/vuckos/T-display-web-editor/internal/layout"
)

// background is the cleared surface color; the panel is dark glass.
var background = color.RGBA{A: 255}

// Compositor draws whole screens. Cell array order is z-order: later cells
// overdraw earlier ones, and the array index doubles as the user-facing
// selection index.
type Compositor struct {
	r *Renderer
}

// NewCompositor wraps a Renderer.
func NewCompositor(r *Renderer) *Compositor {
	return &Compositor{r: r}
}

// Clear fills the whole surface with the background color.
func (cp *Compositor) Clear(dst *image.RGBA) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
}

// DrawScreen clears the surface and renders every cell in array order in
// normal mode.
func (cp *Compositor) DrawScreen(dst *image.RGBA, cells []layout.Cell) {
	cp.Clear(dst)
	for _, c := range cells {
		cp.r.Render(dst, c, ModeNormal)
	}
}

// DrawLive clears the surface and renders every cell in array order in
// live mode. Callers filter to enabled cells first.
func (cp *Compositor) DrawLive(dst *image.RGBA, cells []layout.Cell) {
	cp.Clear(dst)
	for _, c := range cells {
		cp.r.Render(dst, c, ModeLive)
	}
}

// Highlight dims every cell except the selected index, which gets the
// selection outline instead. It draws over an already-composited screen.
// A selected index of -1 (or anything out of range) dims everything.
func (cp *Compositor) Highlight(dst *image.RGBA, cells []layout.Cell, selected int) {
	for i, c := range cells {
		if i == selected {
			cp.r.Render(dst, c, ModeSelected)
		} else {
			cp.r.Render(dst, c, ModeDimmed)
		}
	}
}

// HitTest returns the index of the first cell (scanning from index 0)
// whose rectangle contains the point, using inclusive bounds on all four
// edges. Scanning order follows the selection index, not the draw order:
// when cells overlap, the lowest index wins even if a later-drawn cell is
// visually on top.
func HitTest(x, y int, cells []layout.Cell) (int, bool) {
	for i, c := range cells {
		if x >= c.PosX && x <= c.PosX+c.SizeX && y >= c.PosY && y <= c.PosY+c.SizeY {
			return i, true
		}
	}
	return -1, false
}
