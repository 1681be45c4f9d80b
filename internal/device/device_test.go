package device

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/vuckos/T-display-web-editor/internal/log"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestPullCachesAndRevalidates(t *testing.T) {
	const doc = `{"SCREEN_1":[]}`
	sawConditional := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config.json" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawConditional = true
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	c := NewClient(hostOf(srv), false, t.TempDir())

	first, err := c.Pull(context.Background())
	if err != nil {
		t.Fatalf("first Pull: %v", err)
	}
	if first.FromCache || string(first.Body) != doc {
		t.Fatalf("first Pull = %+v, want fresh body", first)
	}

	second, err := c.Pull(context.Background())
	if err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if !sawConditional {
		t.Error("second Pull sent no If-None-Match header")
	}
	if !second.FromCache || string(second.Body) != doc {
		t.Errorf("second Pull = fromCache=%v body=%q, want cached body", second.FromCache, second.Body)
	}
}

func TestPullFallsBackToCacheWhenDeviceUnreachable(t *testing.T) {
	const doc = `{"SCREEN_1":[{"name":"volts"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, doc)
	}))

	c := NewClient(hostOf(srv), false, t.TempDir())
	if _, err := c.Pull(context.Background()); err != nil {
		t.Fatalf("priming Pull: %v", err)
	}

	srv.Close()

	res, err := c.Pull(context.Background())
	if err != nil {
		t.Fatalf("Pull with device down: %v", err)
	}
	if !res.FromCache || string(res.Body) != doc {
		t.Errorf("Pull = fromCache=%v body=%q, want cached body", res.FromCache, res.Body)
	}
}

func TestPullWithoutCacheFailsWhenDeviceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(hostOf(srv), false, t.TempDir())
	if _, err := c.Pull(context.Background()); err == nil {
		t.Fatal("Pull with no cache and no device succeeded")
	}
}

func TestPush(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(hostOf(srv), false, t.TempDir())
	doc := []byte(`{"SCREEN_1":[]}`)
	if err := c.Push(context.Background(), doc); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if gotPath != "/config" {
		t.Errorf("push path = %q, want /config", gotPath)
	}
	if gotType != "application/json" {
		t.Errorf("push content type = %q", gotType)
	}
	if string(gotBody) != string(doc) {
		t.Errorf("push body = %q", gotBody)
	}
}

func TestPushRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad document", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(hostOf(srv), false, t.TempDir())
	if err := c.Push(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("Push against rejecting device succeeded")
	}
}

func TestRedactURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://192.168.4.1/config.json?token=secret", "http://192.168.4.1/...(redacted)"},
		{"https://panel.local:8443/config", "https://panel.local:8443/...(redacted)"},
		{"not-a-url", "...(redacted)"},
	}
	for _, tc := range cases {
		if got := redactURL(tc.in); got != tc.want {
			t.Errorf("redactURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
