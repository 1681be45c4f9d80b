package convert

import (
	"image"
	"image/color"
	"testing"
)

func TestDecodeKnownValues(t *testing.T) {
	tests := []struct {
		packed  uint16
		r, g, b uint8
	}{
		{0xF800, 255, 0, 0},
		{0x07E0, 0, 255, 0},
		{0x001F, 0, 0, 255},
		{0xFFFF, 255, 255, 255},
		{0x0000, 0, 0, 0},
	}
	for _, tt := range tests {
		r, g, b := Decode(tt.packed)
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("Decode(%#04x) = (%d,%d,%d), want (%d,%d,%d)",
				tt.packed, r, g, b, tt.r, tt.g, tt.b)
		}
	}
}

func TestEncodeDecodeRoundTripAtExtremes(t *testing.T) {
	// The expansion rounding fully compensates truncation at channel
	// extremes, so primaries and white/black survive a round trip.
	tests := []struct{ r, g, b uint8 }{
		{255, 0, 0},
		{0, 255, 0},
		{0, 0, 255},
		{255, 255, 255},
		{0, 0, 0},
	}
	for _, tt := range tests {
		r, g, b := Decode(Encode(tt.r, tt.g, tt.b))
		if r != tt.r || g != tt.g || b != tt.b {
			t.Errorf("Decode(Encode(%d,%d,%d)) = (%d,%d,%d), want input back",
				tt.r, tt.g, tt.b, r, g, b)
		}
	}
}

func TestEncodeHex(t *testing.T) {
	tests := []struct {
		in     string
		packed uint16
	}{
		{"#ff0000", 0xF800},
		{"ff0000", 0xF800},
		{"#00ff00", 0x07E0},
		{"#0000ff", 0x001F},
		{"#ffffff", 0xFFFF},
	}
	for _, tt := range tests {
		got, err := EncodeHex(tt.in)
		if err != nil {
			t.Fatalf("EncodeHex(%q) returned error: %v", tt.in, err)
		}
		if got != tt.packed {
			t.Errorf("EncodeHex(%q) = %#04x, want %#04x", tt.in, got, tt.packed)
		}
	}
}

func TestEncodeHexRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "#fff", "zzzzzz", "#ff00000", "12345"} {
		if _, err := EncodeHex(in); err == nil {
			t.Errorf("EncodeHex(%q) succeeded, want error", in)
		}
	}
}

func TestParsePacked(t *testing.T) {
	tests := []struct {
		in   string
		want uint16
	}{
		{"f800", 0xF800},
		{"#f800", 0xF800},
		{"F800", 0xF800},
		{"1f", 0x001F},
		{"", 0},
		{"not-hex", 0},
		{"12345", 0}, // overflows 16 bits, coerces to 0
	}
	for _, tt := range tests {
		if got := ParsePacked(tt.in); got != tt.want {
			t.Errorf("ParsePacked(%q) = %#04x, want %#04x", tt.in, got, tt.want)
		}
	}
}

func TestFormatPacked(t *testing.T) {
	if got := FormatPacked(0xF800); got != "f800" {
		t.Errorf("FormatPacked(0xF800) = %q, want %q", got, "f800")
	}
	if got := FormatPacked(0x001F); got != "001f" {
		t.Errorf("FormatPacked(0x001F) = %q, want %q", got, "001f")
	}
}

func TestPackRGB565(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{B: 255, A: 255})

	plane := PackRGB565(img)
	if len(plane) != 4 {
		t.Fatalf("plane length = %d, want 4", len(plane))
	}
	// Red pixel packs to 0xF800, blue to 0x001F, big-endian.
	want := []byte{0xF8, 0x00, 0x00, 0x1F}
	for i := range want {
		if plane[i] != want[i] {
			t.Errorf("plane[%d] = %#02x, want %#02x", i, plane[i], want[i])
		}
	}

	if err := ValidatePlane(plane, 2, 1); err != nil {
		t.Errorf("ValidatePlane rejected a correct plane: %v", err)
	}
	if err := ValidatePlane(plane, 2, 2); err == nil {
		t.Error("ValidatePlane accepted a short plane")
	}
}
