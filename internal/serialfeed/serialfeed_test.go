package serialfeed

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/vuckos/T-display-web-editor/internal/live"
	"github.com/vuckos/T-display-web-editor/internal/log"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestPumpLinesDecodesAndSkipsNoise(t *testing.T) {
	input := strings.Join([]string{
		`{"cells":[{"name":"volts","enabled":true}]}`,
		"",
		"boot: rst cause 1",
		`{"cells":[]}`,
		"   ",
	}, "\n") + "\n"

	var got []live.Message
	f := New("/dev/ttyUSB0", 115200, func(msg live.Message) {
		got = append(got, msg)
	})

	if err := f.pumpLines(strings.NewReader(input)); err != nil {
		t.Fatalf("pumpLines: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("decoded %d messages, want 2", len(got))
	}
	cells, ok := got[0]["cells"].([]any)
	if !ok || len(cells) != 1 {
		t.Errorf("first message cells = %#v", got[0]["cells"])
	}
}

func TestPumpLinesHandlesCRLF(t *testing.T) {
	var count int
	f := New("/dev/ttyUSB0", 0, func(live.Message) { count++ })

	if err := f.pumpLines(strings.NewReader("{\"cells\":[]}\r\n{\"cells\":[]}\r\n")); err != nil {
		t.Fatalf("pumpLines: %v", err)
	}
	if count != 2 {
		t.Errorf("decoded %d messages, want 2", count)
	}
}
