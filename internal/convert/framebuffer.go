package convert

import (
	"fmt"
	"image"
)

// PackRGB565 flattens an RGBA surface into a row-major RGB565 plane, two
// bytes per pixel, big-endian. That is the layout the ST7789 RAM write
// (0x2C) consumes directly.
//
// Behavior:
//
//   - The whole bounds of img are packed; the caller is responsible for
//     sizing the surface to the panel.
//   - Alpha is ignored. Editor surfaces are opaque, so premultiplication
//     does not distort the channels.
//   - The image stride is used directly instead of At() to keep the
//     per-frame cost down.
func PackRGB565(img *image.RGBA) []byte {
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()

	out := make([]byte, w*h*2)

	o := 0
	for py := 0; py < h; py++ {
		rowOff := py * img.Stride
		for px := 0; px < w; px++ {
			i := rowOff + px*4
			v := Encode(img.Pix[i+0], img.Pix[i+1], img.Pix[i+2])
			out[o] = byte(v >> 8)
			out[o+1] = byte(v)
			o += 2
		}
	}

	return out
}

// ValidatePlane checks that a packed plane matches the given panel
// geometry. Used by the panel driver before a RAM write.
func ValidatePlane(plane []byte, w, h int) error {
	if want := w * h * 2; len(plane) != want {
		return fmt.Errorf("convert: plane is %d bytes, want %d for %dx%d", len(plane), want, w, h)
	}
	return nil
}
