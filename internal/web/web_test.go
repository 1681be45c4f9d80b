package web

import (
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vuckos/T-display-web-editor/internal/config"
	"github.com/vuckos/T-display-web-editor/internal/device"
	"github.com/vuckos/T-display-web-editor/internal/layout"
	"github.com/vuckos/T-display-web-editor/internal/live"
	"github.com/vuckos/T-display-web-editor/internal/log"
	"github.com/vuckos/T-display-web-editor/internal/render"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type testEnv struct {
	srv   *httptest.Server
	store *layout.Store
	pipe  *live.Pipeline
}

// newTestEnv builds a Server on a fresh factory document. The manager
// points at a dead endpoint and is never connected.
func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Display.Width, cfg.Display.Height = 64, 48

	store := layout.NewStore(filepath.Join(t.TempDir(), "document.json"))
	if err := store.Load(); err != nil {
		t.Fatalf("store load: %v", err)
	}

	r, err := render.NewRenderer()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	comp := render.NewCompositor(r)
	pipe := live.NewPipeline(comp, 64, 48)

	mgr := live.NewManager(live.Options{Endpoint: "ws://127.0.0.1:9/ws"})
	t.Cleanup(mgr.Close)

	d := Deps{
		Config:     cfg,
		Store:      store,
		Manager:    mgr,
		Pipeline:   pipe,
		Compositor: comp,
		Device:     device.NewClient("127.0.0.1:9", false, filepath.Join(t.TempDir(), "cache")),
	}
	for _, o := range opts {
		o(&d)
	}

	srv := httptest.NewServer(NewServer(d).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, pipe: pipe}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthBypassesBasicAuth(t *testing.T) {
	e := newTestEnv(t, func(d *Deps) {
		d.Config.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	})

	resp := e.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/api/screens", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated GET /api/screens = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/screens", nil)
	req.SetBasicAuth("ops", "secret")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authenticated GET /api/screens = %d, want 200", authed.StatusCode)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	e := newTestEnv(t)

	doc := `{
		"SCREEN_1": [{"name":"volts","posx":1,"posy":2,"sizex":10,"sizey":8,
		              "bg_color":"0xF800","font1_color":"0xFFFF","font2_color":"0xFFFF",
		              "enabled":true,"data1_valid":true}],
		"SCREEN_2": [],
		"settings": {"brightness": 128}
	}`
	resp := e.do(t, http.MethodPut, "/api/document", doc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/document = %d", resp.StatusCode)
	}
	var put screensResponse
	decodeJSON(t, resp, &put)
	if len(put.Screens) != 2 || put.Screens[0] != "SCREEN_1" || put.Screens[1] != "SCREEN_2" {
		t.Errorf("screens after PUT = %v", put.Screens)
	}

	resp = e.do(t, http.MethodGet, "/api/document", "")
	var got map[string]json.RawMessage
	decodeJSON(t, resp, &got)
	if _, ok := got["SCREEN_1"]; !ok {
		t.Error("document missing SCREEN_1")
	}
	if _, ok := got["settings"]; !ok {
		t.Error("document dropped the settings object")
	}

	resp = e.do(t, http.MethodGet, "/api/settings", "")
	var settings map[string]any
	decodeJSON(t, resp, &settings)
	if settings["brightness"] != float64(128) {
		t.Errorf("settings brightness = %v", settings["brightness"])
	}
}

func TestDocumentRejectsMalformedBody(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPut, "/api/document", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("PUT malformed document = %d, want 400", resp.StatusCode)
	}
}

func TestSettingsMergeKeepsUnmentionedKeys(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPut, "/api/settings", `{"brightness": 200, "theme": "dark"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT /api/settings = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPut, "/api/settings", `{"brightness": 64}`)
	var settings map[string]any
	decodeJSON(t, resp, &settings)
	if settings["brightness"] != float64(64) {
		t.Errorf("brightness after second PUT = %v", settings["brightness"])
	}
	if settings["theme"] != "dark" {
		t.Error("merge dropped keys set by the first PUT")
	}
}

func TestScreenAndCellCRUD(t *testing.T) {
	e := newTestEnv(t)

	// Factory document starts with SCREEN_1; add a second screen.
	resp := e.do(t, http.MethodPost, "/api/screens", "")
	var added map[string]string
	decodeJSON(t, resp, &added)
	if added["screen"] != "SCREEN_2" {
		t.Fatalf("added screen = %q, want SCREEN_2", added["screen"])
	}

	cell := `{"name":"rpm","posx":0,"posy":0,"sizex":20,"sizey":10,
	          "bg_color":"0x001F","font1_color":"0xFFFF","font2_color":"0xFFFF","enabled":true}`
	resp = e.do(t, http.MethodPost, "/api/screens/SCREEN_2/cells", cell)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST cell = %d", resp.StatusCode)
	}
	var idx map[string]int
	decodeJSON(t, resp, &idx)
	if idx["index"] != 0 {
		t.Errorf("first cell index = %d", idx["index"])
	}

	update := strings.Replace(cell, `"name":"rpm"`, `"name":"speed"`, 1)
	resp = e.do(t, http.MethodPut, "/api/screens/SCREEN_2/cells/0", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT cell = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodGet, "/api/screens/SCREEN_2/cells", "")
	var cells []layout.Cell
	decodeJSON(t, resp, &cells)
	if len(cells) != 1 || cells[0].Name != "speed" {
		t.Fatalf("cells after update = %+v", cells)
	}

	resp = e.do(t, http.MethodDelete, "/api/screens/SCREEN_2/cells/0", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE cell = %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodDelete, "/api/screens/SCREEN_2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE screen = %d", resp.StatusCode)
	}
	var left screensResponse
	decodeJSON(t, resp, &left)
	if len(left.Screens) != 1 || left.Screens[0] != "SCREEN_1" {
		t.Errorf("screens after delete = %v", left.Screens)
	}
}

func TestUnknownScreenIs404(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/screens/SCREEN_9/cells", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET unknown screen cells = %d, want 404", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPut, "/api/screens/SCREEN_1/cells/5", `{"name":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("PUT out-of-range cell = %d, want 404", resp.StatusCode)
	}
}

func TestExportIsDownloadableJSON(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/export = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var doc map[string]json.RawMessage
	decodeJSON(t, resp, &doc)
	if _, ok := doc["SCREEN_1"]; !ok {
		t.Error("export missing SCREEN_1")
	}
}

func TestPreviewPNG(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/preview.png?screen=SCREEN_1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /preview.png = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("preview bounds = %v, want 64x48", b)
	}

	// Highlight pass plus unknown screen handling.
	resp = e.do(t, http.MethodGet, "/preview.png?screen=SCREEN_1&selected=-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET highlighted preview = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/preview.png?screen=SCREEN_9", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET preview of unknown screen = %d, want 404", resp.StatusCode)
	}
}

func TestLivePNGCarriesFrameVersion(t *testing.T) {
	e := newTestEnv(t)

	e.pipe.HandleMessage(live.Message{"cells": []any{}})

	resp := e.do(t, http.MethodGet, "/live.png", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /live.png = %d", resp.StatusCode)
	}
	if v := resp.Header.Get("X-Frame-Version"); v != "1" {
		t.Errorf("X-Frame-Version = %q, want 1", v)
	}
	if _, err := png.Decode(resp.Body); err != nil {
		t.Fatalf("decode live frame: %v", err)
	}
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/status", "")
	var st struct {
		Connection struct {
			State    string `json:"state"`
			Endpoint string `json:"endpoint"`
			Messages uint64 `json:"messages"`
		} `json:"connection"`
		Live struct {
			RateHz float64 `json:"rate_hz"`
			Cells  int     `json:"cells"`
		} `json:"live"`
		Screens []string `json:"screens"`
	}
	decodeJSON(t, resp, &st)

	if st.Connection.State != "disconnected" {
		t.Errorf("state = %q", st.Connection.State)
	}
	if st.Connection.Endpoint != "ws://192.168.4.1/ws" {
		t.Errorf("endpoint = %q", st.Connection.Endpoint)
	}
	if st.Live.RateHz != 0 || st.Live.Cells != 0 {
		t.Errorf("live = %+v", st.Live)
	}
	if len(st.Screens) != 1 {
		t.Errorf("screens = %v", st.Screens)
	}
}

func TestDevicePullReplacesDocument(t *testing.T) {
	deviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"SCREEN_7":[{"name":"amps","posx":0,"posy":0,"sizex":5,"sizey":5,
		    "bg_color":"0x0000","font1_color":"0xFFFF","font2_color":"0xFFFF","enabled":true}]}`))
	}))
	defer deviceSrv.Close()

	e := newTestEnv(t, func(d *Deps) {
		host := strings.TrimPrefix(deviceSrv.URL, "http://")
		d.Device = device.NewClient(host, false, filepath.Join(t.TempDir(), "cache"))
	})

	resp := e.do(t, http.MethodPost, "/api/device/pull", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/device/pull = %d", resp.StatusCode)
	}
	var pulled pullResponse
	decodeJSON(t, resp, &pulled)
	if pulled.FromCache {
		t.Error("first pull reported from_cache")
	}
	if len(pulled.Screens) != 1 || pulled.Screens[0] != "SCREEN_7" {
		t.Errorf("screens after pull = %v", pulled.Screens)
	}
}

func TestDevicePullFailureLeavesDocumentAlone(t *testing.T) {
	e := newTestEnv(t) // device client points at a dead host

	resp := e.do(t, http.MethodPost, "/api/device/pull", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("pull from dead device = %d, want 502", resp.StatusCode)
	}

	keys := e.store.ScreenKeys()
	if len(keys) != 1 || keys[0] != "SCREEN_1" {
		t.Errorf("document changed after failed pull: %v", keys)
	}
}

func TestDevicePushSendsDocument(t *testing.T) {
	var pushed []byte
	deviceSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/config" {
			pushed, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer deviceSrv.Close()

	e := newTestEnv(t, func(d *Deps) {
		host := strings.TrimPrefix(deviceSrv.URL, "http://")
		d.Device = device.NewClient(host, false, filepath.Join(t.TempDir(), "cache"))
	})

	resp := e.do(t, http.MethodPost, "/api/device/push", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/device/push = %d", resp.StatusCode)
	}
	if !strings.Contains(string(pushed), "SCREEN_1") {
		t.Errorf("pushed body missing document: %s", pushed)
	}
}

func TestHistoryDisabled(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/history", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /api/history without recorder = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodDelete, "/api/document", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /api/document = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); !strings.Contains(allow, http.MethodGet) {
		t.Errorf("Allow = %q", allow)
	}
}

func TestStaticUIAndAPIFallthrough(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "T-Display Editor") {
		t.Error("editor page not served at /")
	}

	// Unknown API paths must 404, never fall through to HTML.
	resp = e.do(t, http.MethodGet, "/api/definitely-not-a-route", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET unknown API route = %d, want 404", resp.StatusCode)
	}
}
