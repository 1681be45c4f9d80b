package live

import (
	"image"
	"sync"
	"time"

	"github.com/vuckos/T-display-web-editor/internal/layout"
	"github.com/vuckos/T-display-web-editor/internal/log"
	"github.com/vuckos/T-display-web-editor/internal/render"
)

// windowCap is how many arrival timestamps feed the rate estimate.
const windowCap = 10

// Pipeline turns decoded feed messages into rendered frames. It keeps the
// latest frame, the enabled cell set behind it, and an update-rate
// estimate. Wire HandleMessage as the Manager's message subscriber.
type Pipeline struct {
	comp *render.Compositor

	mu      sync.Mutex
	frame   *image.RGBA
	cells   []layout.Cell
	rate    *RateWindow
	version uint64

	now func() time.Time
}

// NewPipeline returns a pipeline rendering into a w×h frame.
func NewPipeline(comp *render.Compositor, w, h int) *Pipeline {
	p := &Pipeline{
		comp:  comp,
		frame: image.NewRGBA(image.Rect(0, 0, w, h)),
		rate:  NewRateWindow(windowCap),
		now:   time.Now,
	}
	comp.Clear(p.frame)
	return p
}

// HandleMessage ingests one decoded message. Messages without an
// array-typed cells field are discarded without disturbing the current
// frame. Disabled cells are dropped before rendering.
func (p *Pipeline) HandleMessage(msg Message) {
	raw, ok := msg["cells"].([]any)
	if !ok {
		log.Debug("live message without cells array, discarded")
		return
	}

	cells := make([]layout.Cell, 0, len(raw))
	for _, e := range raw {
		obj, ok := e.(map[string]any)
		if !ok {
			continue
		}
		c := layout.CellFromMap(obj)
		if !c.Enabled {
			continue
		}
		cells = append(cells, c)
	}

	p.mu.Lock()
	p.cells = cells
	p.comp.DrawLive(p.frame, cells)
	p.rate.Push(p.now())
	p.version++
	p.mu.Unlock()
}

// Snapshot returns a copy of the latest frame and its version. The
// version increments once per accepted message.
func (p *Pipeline) Snapshot() (*image.RGBA, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	dup := image.NewRGBA(p.frame.Rect)
	copy(dup.Pix, p.frame.Pix)
	return dup, p.version
}

// Cells returns a copy of the cell set behind the latest frame.
func (p *Pipeline) Cells() []layout.Cell {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]layout.Cell, len(p.cells))
	copy(out, p.cells)
	return out
}

// Rate returns the estimated message frequency in messages per second.
func (p *Pipeline) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate.Rate()
}
