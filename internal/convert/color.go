// Package convert holds the color and framebuffer conversions between the
// editor's 24-bit RGBA surfaces and the display's 16-bit RGB565 wire format.
package convert

import (
	"fmt"
	"strconv"
	"strings"
)

// Decode expands a 16-bit packed RGB565 value into 8-bit channels.
//
// Field extraction:
//
//   - red   = bits 15..11 (5 bits), shifted left 3
//   - green = bits 10..5  (6 bits), shifted left 2
//   - blue  = bits 4..0   (5 bits), shifted left 3
//
// Each channel then receives a rounding correction (r += r>>5, g += g>>6,
// b += b>>5) that redistributes the low-order bits lost in expansion, so a
// full-scale field (0x1F/0x3F/0x1F) expands to 255 rather than 248/252/248.
func Decode(packed uint16) (r, g, b uint8) {
	rr := int((packed>>11)&0x1F) << 3
	gg := int((packed>>5)&0x3F) << 2
	bb := int(packed&0x1F) << 3

	rr += rr >> 5
	gg += gg >> 6
	bb += bb >> 5

	return uint8(rr), uint8(gg), uint8(bb)
}

// Encode packs 8-bit channels into RGB565: the top 5 bits of red, top 6 of
// green and top 5 of blue. The down-conversion truncates; Decode(Encode(x))
// is not guaranteed to reproduce x except at channel extremes.
func Encode(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// EncodeHex packs a 6-digit hex color string ("ff0000" or "#ff0000") into
// RGB565. Anything that is not exactly six hex digits after the optional
// '#' prefix is an error.
func EncodeHex(s string) (uint16, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) != 6 {
		return 0, fmt.Errorf("convert: hex color %q must have 6 digits", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("convert: invalid hex color %q: %w", s, err)
	}
	return Encode(uint8(v>>16), uint8(v>>8), uint8(v)), nil
}

// ParsePacked reads a packed color stored as hex text in the layout
// document ("f800", "#f800", also shorter forms like "1f"). Malformed or
// out-of-range input coerces to 0; the document format never raises parse
// errors for color fields.
func ParsePacked(s string) uint16 {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if h == "" {
		return 0
	}
	v, err := strconv.ParseUint(h, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// FormatPacked renders a packed color in the document's canonical form:
// four lowercase hex digits, no prefix.
func FormatPacked(p uint16) string {
	return fmt.Sprintf("%04x", p)
}
