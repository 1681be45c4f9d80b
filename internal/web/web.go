// Package web serves the editor UI and the JSON API in front of the
// document store, the live feed, and the device client.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vuckos/T-display-web-editor/internal/config"
	"github.com/vuckos/T-display-web-editor/internal/device"
	"github.com/vuckos/T-display-web-editor/internal/history"
	"github.com/vuckos/T-display-web-editor/internal/layout"
	"github.com/vuckos/T-display-web-editor/internal/live"
	appLog "github.com/vuckos/T-display-web-editor/internal/log"
	"github.com/vuckos/T-display-web-editor/internal/render"
)

// maxDocumentBytes bounds PUT /api/document and device pull bodies well
// above any real document size.
const maxDocumentBytes = 1 << 20

// Deps collects everything the HTTP layer serves. History may be nil when
// the event log is disabled.
type Deps struct {
	Config     *config.Config
	Store      *layout.Store
	Manager    *live.Manager
	Pipeline   *live.Pipeline
	Compositor *render.Compositor
	Device     *device.Client
	History    *history.Recorder
}

// Server provides the HTTP API and the embedded editor UI.
type Server struct {
	cfg   *config.Config
	store *layout.Store
	mgr   *live.Manager
	pipe  *live.Pipeline
	comp  *render.Compositor
	dev   *device.Client
	hist  *history.Recorder
	mux   *http.ServeMux
}

// embeddedStatic contains the single-page editor UI.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server and registers all routes.
func NewServer(d Deps) *Server {
	s := &Server{
		cfg:   d.Config,
		store: d.Store,
		mgr:   d.Manager,
		pipe:  d.Pipeline,
		comp:  d.Compositor,
		dev:   d.Device,
		hist:  d.History,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	appLog.Info("HTTP server listening", "listen", "http://"+s.cfg.Listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// username or password counts as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays open for probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tdeditor", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/document", s.handleDocument)
	s.mux.HandleFunc("/api/export", s.handleExport)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/screens", s.handleScreens)
	s.mux.HandleFunc("/api/screens/", s.handleScreenSubtree)

	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)

	s.mux.HandleFunc("/api/device/pull", s.handleDevicePull)
	s.mux.HandleFunc("/api/device/push", s.handleDevicePush)

	s.mux.HandleFunc("/api/history", s.handleHistory)

	s.mux.HandleFunc("/preview.png", s.handlePreviewPNG)
	s.mux.HandleFunc("/live.png", s.handleLivePNG)

	// Embedded editor UI. All non-API paths fall back to this handler.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleDocument serves the whole configuration document.
//
//	GET  /api/document  -> current document
//	PUT  /api/document  -> replace document and persist
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.store.Document()
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		doc := &layout.Document{}
		if err := doc.UnmarshalJSON(body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed document: "+err.Error())
			return
		}
		s.store.Replace(doc)
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, screensResponse{Screens: s.store.ScreenKeys()})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// handleExport serves the pretty-printed document as a download.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	data, err := s.store.ExportJSON()
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="document.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleSettings reads or updates the document's settings object.
//
//	GET /api/settings  -> settings map
//	PUT /api/settings  -> merge the given keys, persist
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Settings())

	case http.MethodPut:
		var patch map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "malformed settings: "+err.Error())
			return
		}
		for k, v := range patch {
			if err := s.store.SetSetting(k, v); err != nil {
				s.storeError(w, err)
				return
			}
		}
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, s.store.Settings())

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// handleScreens lists screens or adds a new one.
//
//	GET  /api/screens  -> {"screens": [...]}
//	POST /api/screens  -> add SCREEN_<n>, n lowest free number
func (s *Server) handleScreens(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, screensResponse{Screens: s.store.ScreenKeys()})

	case http.MethodPost:
		key, err := s.store.AddScreen()
		if err != nil {
			s.storeError(w, err)
			return
		}
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"screen": key})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleScreenSubtree routes per-screen operations:
//
//	DELETE /api/screens/<key>             -> remove screen
//	GET    /api/screens/<key>/cells       -> list cells
//	POST   /api/screens/<key>/cells       -> append cell
//	PUT    /api/screens/<key>/cells/<i>   -> replace cell
//	DELETE /api/screens/<key>/cells/<i>   -> remove cell (later cells shift down)
func (s *Server) handleScreenSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/screens/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleScreen(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cells":
		s.handleCells(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "cells":
		idx, err := strconv.Atoi(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "cell index must be a number")
			return
		}
		s.handleCell(w, r, parts[0], idx)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := s.store.RemoveScreen(key); err != nil {
		s.storeError(w, err)
		return
	}
	if !s.persist(w) {
		return
	}
	writeJSON(w, http.StatusOK, screensResponse{Screens: s.store.ScreenKeys()})
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request, key string) {
	switch r.Method {
	case http.MethodGet:
		cells, err := s.store.Cells(key)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cells)

	case http.MethodPost:
		c, ok := decodeCell(w, r)
		if !ok {
			return
		}
		idx, err := s.store.AddCell(key, c)
		if err != nil {
			s.storeError(w, err)
			return
		}
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"index": idx})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request, key string, idx int) {
	switch r.Method {
	case http.MethodPut:
		c, ok := decodeCell(w, r)
		if !ok {
			return
		}
		if err := s.store.UpdateCell(key, idx, c); err != nil {
			s.storeError(w, err)
			return
		}
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"index": idx})

	case http.MethodDelete:
		if err := s.store.RemoveCell(key, idx); err != nil {
			s.storeError(w, err)
			return
		}
		if !s.persist(w) {
			return
		}
		writeJSON(w, http.StatusOK, screensResponse{Screens: s.store.ScreenKeys()})

	default:
		methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

// statusResponse is the JSON shape of /api/status.
type statusResponse struct {
	Connection connectionDTO `json:"connection"`
	Live       liveDTO       `json:"live"`
	Screens    []string      `json:"screens"`
}

type connectionDTO struct {
	State       string     `json:"state"`
	Endpoint    string     `json:"endpoint"`
	Messages    uint64     `json:"messages"`
	LastMessage *time.Time `json:"last_message,omitempty"`
	Attempts    int        `json:"attempts"`
}

type liveDTO struct {
	RateHz float64 `json:"rate_hz"`
	Cells  int     `json:"cells"`
}

type screensResponse struct {
	Screens []string `json:"screens"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	stats := s.mgr.Stats()
	conn := connectionDTO{
		State:    stats.State.String(),
		Endpoint: live.Endpoint(s.cfg.Device.Host, s.cfg.Device.Secure),
		Messages: stats.Messages,
		Attempts: stats.Attempts,
	}
	if !stats.LastMessage.IsZero() {
		t := stats.LastMessage
		conn.LastMessage = &t
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Connection: conn,
		Live: liveDTO{
			RateHz: s.pipe.Rate(),
			Cells:  len(s.pipe.Cells()),
		},
		Screens: s.store.ScreenKeys(),
	})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.mgr.Connect()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.mgr.State().String()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.mgr.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"state": s.mgr.State().String()})
}

// pullResponse is the JSON shape of /api/device/pull.
type pullResponse struct {
	FromCache bool     `json:"from_cache"`
	Screens   []string `json:"screens"`
}

// handleDevicePull fetches the document from the device and replaces the
// working copy with it.
func (s *Server) handleDevicePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	res, err := s.dev.Pull(r.Context())
	if err != nil {
		appLog.Error("device pull failed", err)
		writeError(w, http.StatusBadGateway, "device pull failed: "+err.Error())
		return
	}

	doc := &layout.Document{}
	if err := doc.UnmarshalJSON(res.Body); err != nil {
		appLog.Error("device sent malformed document", err)
		writeError(w, http.StatusBadGateway, "device sent malformed document: "+err.Error())
		return
	}

	s.store.Replace(doc)
	if !s.persist(w) {
		return
	}
	writeJSON(w, http.StatusOK, pullResponse{
		FromCache: res.FromCache,
		Screens:   s.store.ScreenKeys(),
	})
}

// handleDevicePush sends the working document to the device.
func (s *Server) handleDevicePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	data, err := s.store.ExportJSON()
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.dev.Push(r.Context(), data); err != nil {
		appLog.Error("device push failed", err)
		writeError(w, http.StatusBadGateway, "device push failed: "+err.Error())
		return
	}
	s.logDocument("push", "")
	writeJSON(w, http.StatusOK, map[string]bool{"pushed": true})
}

// handleHistory lists recent events from the SQLite log.
//
//	GET /api/history?limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.hist == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		appLog.Error("history query failed", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handlePreviewPNG renders one screen of the working document.
//
//	GET /preview.png?screen=SCREEN_1&selected=0
//
// Without screen, the first screen is used. With selected present, the
// editor highlight pass runs on top: the chosen cell gets the selection
// treatment and every other cell dims. selected=-1 dims everything.
func (s *Server) handlePreviewPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	screen := q.Get("screen")
	if screen == "" {
		keys := s.store.ScreenKeys()
		if len(keys) == 0 {
			writeError(w, http.StatusServiceUnavailable, "no document loaded")
			return
		}
		screen = keys[0]
	}

	cells, err := s.store.Cells(screen)
	if err != nil {
		s.storeError(w, err)
		return
	}

	img := image.NewRGBA(image.Rect(0, 0, s.cfg.Display.Width, s.cfg.Display.Height))
	s.comp.DrawScreen(img, cells)
	if sel := q.Get("selected"); sel != "" {
		s.comp.Highlight(img, cells, parseIntDefault(sel, -1))
	}

	servePNG(w, img)
}

// handleLivePNG serves the latest composited telemetry frame.
func (s *Server) handleLivePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	frame, version := s.pipe.Snapshot()
	w.Header().Set("X-Frame-Version", strconv.FormatUint(version, 10))
	servePNG(w, frame)
}

// staticFileServer serves the embedded editor page. API paths never fall
// through to it; a missing handler must 404, not return HTML.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// decodeCell reads a cell body, answering 400 itself on failure.
func decodeCell(w http.ResponseWriter, r *http.Request) (layout.Cell, bool) {
	var c layout.Cell
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDocumentBytes)).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "malformed cell: "+err.Error())
		return layout.Cell{}, false
	}
	return c, true
}

// persist saves the document after a mutation. The mutation stays applied
// in memory even when the write fails.
func (s *Server) persist(w http.ResponseWriter) bool {
	if err := s.store.Save(); err != nil {
		appLog.Error("persist document failed", err)
		writeError(w, http.StatusInternalServerError, "document not persisted: "+err.Error())
		return false
	}
	return true
}

// logDocument records a document event that does not flow through the
// store's change feed (main wires store changes into history itself).
func (s *Server) logDocument(detail, value string) {
	if s.hist != nil {
		s.hist.Log(history.KindDocument, detail, value)
	}
}

// storeError maps store sentinel errors onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, layout.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, layout.ErrNoScreen), errors.Is(err, layout.ErrNoCell):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func servePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		appLog.Error("failed to write PNG response", err)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
