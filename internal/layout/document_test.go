package layout

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCellCoercion(t *testing.T) {
	raw := []byte(`{
		"name": "Speed",
		"posx": "10",
		"posy": 20,
		"sizex": "not-a-number",
		"sizey": -5,
		"bg_color": "#f800",
		"font1_color": "07e0",
		"font2_color": 31,
		"enabled": "true",
		"value": "12.5",
		"decimalPlaces": "2",
		"data1_valid": true,
		"data_source": "speed"
	}`)

	var c Cell
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("unmarshal cell: %v", err)
	}

	if c.Name != "Speed" {
		t.Errorf("Name = %q, want %q", c.Name, "Speed")
	}
	if c.PosX != 10 || c.PosY != 20 {
		t.Errorf("position = (%d,%d), want (10,20)", c.PosX, c.PosY)
	}
	if c.SizeX != 0 {
		t.Errorf("SizeX = %d, want 0 for malformed input", c.SizeX)
	}
	if c.SizeY != 0 {
		t.Errorf("SizeY = %d, want 0 for negative input", c.SizeY)
	}
	if c.BgColor != 0xF800 {
		t.Errorf("BgColor = %#04x, want 0xf800", c.BgColor)
	}
	if c.Font1Color != 0x07E0 {
		t.Errorf("Font1Color = %#04x, want 0x07e0", c.Font1Color)
	}
	if c.Font2Color != 31 {
		t.Errorf("Font2Color = %d, want 31 from numeric form", c.Font2Color)
	}
	if !c.Enabled {
		t.Error("Enabled = false, want true from literal \"true\"")
	}
	if c.Value != 12.5 {
		t.Errorf("Value = %v, want 12.5", c.Value)
	}
	if c.DecimalPlaces != 2 {
		t.Errorf("DecimalPlaces = %d, want 2", c.DecimalPlaces)
	}
	if !c.DataValid {
		t.Error("DataValid = false, want true")
	}
	if c.DataSource != "speed" {
		t.Errorf("DataSource = %q, want %q", c.DataSource, "speed")
	}
}

func TestCellCoercionDefaults(t *testing.T) {
	var c Cell
	if err := json.Unmarshal([]byte(`{"enabled":"yes-ish"}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.Enabled {
		t.Error("Enabled = true for unparseable flag, want false")
	}
	if c.PosX != 0 || c.SizeX != 0 || c.BgColor != 0 {
		t.Errorf("missing fields did not default to zero: %+v", c)
	}
}

func TestDocumentRoundTripPreservesExtras(t *testing.T) {
	src := []byte(`{
		"SCREEN_1": [{"name":"A","posx":0,"posy":0,"sizex":50,"sizey":40,"bg_color":"f800","font1_color":"ffff","font2_color":"0000","enabled":true}],
		"SCREEN_2": [],
		"settings": {"brightness": 200, "wifi_ssid": "shop-floor"},
		"fw_version": "1.4.2"
	}`)

	var doc Document
	if err := json.Unmarshal(src, &doc); err != nil {
		t.Fatalf("unmarshal document: %v", err)
	}

	if len(doc.Screens) != 2 {
		t.Fatalf("screens = %d, want 2", len(doc.Screens))
	}
	if got := doc.ScreenKeys(); got[0] != "SCREEN_1" || got[1] != "SCREEN_2" {
		t.Fatalf("ScreenKeys() = %v", got)
	}

	out, err := doc.ExportJSON()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var back Document
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-unmarshal export: %v", err)
	}

	settings := back.Settings()
	if settings["wifi_ssid"] != "shop-floor" {
		t.Errorf("settings lost in round trip: %v", settings)
	}
	if string(back.Extra["fw_version"]) != `"1.4.2"` {
		t.Errorf("unknown key lost in round trip: %s", back.Extra["fw_version"])
	}
	if !strings.Contains(string(out), "\n  ") {
		t.Error("export is not pretty-printed")
	}
}

func TestDocumentScreenKeyOrdering(t *testing.T) {
	doc := &Document{Screens: map[string][]Cell{
		"SCREEN_10": {},
		"SCREEN_2":  {},
		"SCREEN_1":  {},
	}}
	got := doc.ScreenKeys()
	want := []string{"SCREEN_1", "SCREEN_2", "SCREEN_10"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ScreenKeys() = %v, want %v", got, want)
		}
	}
}

func TestIsScreenKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"SCREEN_1", true},
		{"SCREEN_42", true},
		{"SCREEN_", false},
		{"SCREEN_x", false},
		{"settings", false},
		{"screen_1", false},
	}
	for _, tt := range tests {
		if got := IsScreenKey(tt.key); got != tt.want {
			t.Errorf("IsScreenKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNextScreenKey(t *testing.T) {
	doc := NewDocument()
	if got := doc.NextScreenKey(); got != "SCREEN_2" {
		t.Errorf("NextScreenKey() = %q, want SCREEN_2", got)
	}
	doc.Screens["SCREEN_2"] = []Cell{}
	doc.Screens["SCREEN_4"] = []Cell{}
	if got := doc.NextScreenKey(); got != "SCREEN_3" {
		t.Errorf("NextScreenKey() = %q, want SCREEN_3 (first gap)", got)
	}
}

func TestMalformedScreenValueKeptVerbatim(t *testing.T) {
	src := []byte(`{"SCREEN_1": "oops", "SCREEN_2": []}`)
	var doc Document
	if err := json.Unmarshal(src, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc.Screens["SCREEN_1"]; ok {
		t.Error("malformed screen value parsed as screen")
	}
	if string(doc.Extra["SCREEN_1"]) != `"oops"` {
		t.Errorf("malformed screen value not preserved: %s", doc.Extra["SCREEN_1"])
	}
	if _, ok := doc.Screens["SCREEN_2"]; !ok {
		t.Error("valid empty screen missing")
	}
}
