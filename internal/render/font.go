package render

import (
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// faceCache lazily builds and reuses font.Face instances per pixel size.
// Faces are not cheap to construct and cells re-render constantly in live
// mode, so the cache is keyed by integer pixel size.
type faceCache struct {
	mu    sync.Mutex
	font  *sfnt.Font
	faces map[int]font.Face
}

func newFaceCache(ttf []byte) (*faceCache, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("render: parse font: %w", err)
	}
	return &faceCache{font: f, faces: map[int]font.Face{}}, nil
}

// face returns a face for the given pixel size. At 72 DPI one point equals
// one pixel, which keeps cell font sizing in device pixels.
func (fc *faceCache) face(size int) (font.Face, error) {
	if size < 1 {
		size = 1
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if f, ok := fc.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(fc.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("render: build %dpx face: %w", size, err)
	}
	fc.faces[size] = f
	return f, nil
}

var (
	fontsOnce sync.Once
	monoCache *faceCache
	boldCache *faceCache
	fontsErr  error
)

// loadFonts parses the embedded Go Mono (labels) and Go Bold (live values)
// faces once per process.
func loadFonts() error {
	fontsOnce.Do(func() {
		monoCache, fontsErr = newFaceCache(gomono.TTF)
		if fontsErr != nil {
			return
		}
		boldCache, fontsErr = newFaceCache(gobold.TTF)
	})
	return fontsErr
}
