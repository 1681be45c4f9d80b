package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vuckos/T-display-web-editor/internal/capture"
	"github.com/vuckos/T-display-web-editor/internal/config"
	"github.com/vuckos/T-display-web-editor/internal/convert"
	"github.com/vuckos/T-display-web-editor/internal/device"
	"github.com/vuckos/T-display-web-editor/internal/history"
	"github.com/vuckos/T-display-web-editor/internal/layout"
	"github.com/vuckos/T-display-web-editor/internal/live"
	appLog "github.com/vuckos/T-display-web-editor/internal/log"
	"github.com/vuckos/T-display-web-editor/internal/monitor"
	"github.com/vuckos/T-display-web-editor/internal/panel"
	"github.com/vuckos/T-display-web-editor/internal/record"
	"github.com/vuckos/T-display-web-editor/internal/render"
	"github.com/vuckos/T-display-web-editor/internal/serialfeed"
	"github.com/vuckos/T-display-web-editor/internal/snapshot"
	"github.com/vuckos/T-display-web-editor/internal/web"
)

// flagConfig holds CLI flag values. Flags that duplicate config file keys
// override them when set.
type flagConfig struct {
	configPath  string
	listen      string
	deviceHost  string
	connect     bool
	monitorUI   bool
	capturePath string
	exportPath  string
	renderPath  string
	screenKey   string
	pull        bool
	push        bool
	replayPath  string
	recordPath  string
}

func main() {
	appLog.Info("tdeditor starting", "version", "0.1.0-dev")

	// Parse CLI flags.
	flags := parseFlags()

	// The dashboard owns the terminal, so logs move to a file in that mode.
	if flags.monitorUI {
		logFile, err := os.OpenFile("tdeditor.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			appLog.SetOutput(logFile)
			defer logFile.Close()
		} else {
			appLog.SetOutput(io.Discard)
		}
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI overrides for the most commonly switched settings.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.deviceHost != "" {
		conf.Device.Host = flags.deviceHost
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"device", conf.Device.Host,
		"document", conf.Document,
		"display", fmt.Sprintf("%dx%d", conf.Display.Width, conf.Display.Height),
		"history", conf.History.Enabled,
		"snapshot_cron", conf.Snapshot.Cron,
		"serial_port", conf.Serial.Port,
		"panel", conf.Panel.Enabled,
		"connect", flags.connect,
		"monitor", flags.monitorUI,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("tdeditor failed", err)
		os.Exit(1)
	}

	// Give cleanup hooks a moment (panel backlight, open sockets).
	time.Sleep(100 * time.Millisecond)
	appLog.Info("tdeditor exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	store := layout.NewStore(conf.Document)
	if err := store.Load(); err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	dev := device.NewClient(conf.Device.Host, conf.Device.Secure, conf.Device.CacheDir)

	// Single-shot modes run against the loaded document and exit without
	// bringing up the server.
	if flags.exportPath != "" {
		return exportDocument(store, flags.exportPath)
	}
	if flags.renderPath != "" {
		return renderScreen(store, conf, flags.renderPath, flags.screenKey)
	}
	if flags.pull {
		return pullDocument(ctx, dev, store)
	}
	if flags.push {
		return pushDocument(ctx, dev, store)
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	comp := render.NewCompositor(renderer)
	pipe := live.NewPipeline(comp, conf.Display.Width, conf.Display.Height)

	mgr := live.NewManager(live.Options{
		Endpoint:    live.Endpoint(conf.Device.Host, conf.Device.Secure),
		MaxAttempts: conf.Reconnect.MaxAttempts,
		Delay:       time.Duration(conf.Reconnect.DelayMS) * time.Millisecond,
	})
	defer mgr.Close()

	var hist *history.Recorder
	if conf.History.Enabled {
		hist, err = history.Open(conf.History.Path)
		if err != nil {
			appLog.Error("history disabled, open failed", err, "path", conf.History.Path)
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	var rec *record.Recorder
	if flags.recordPath != "" {
		rec, err = record.NewRecorder(flags.recordPath)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				appLog.Error("close recording", err, "path", flags.recordPath)
				return
			}
			appLog.Info("recording closed", "path", flags.recordPath, "messages", rec.Entries())
		}()
	}

	// The manager has one message slot and one status slot, so main fans
	// out to every interested consumer here.
	mgr.OnMessage(func(msg live.Message) {
		pipe.HandleMessage(msg)
		if rec != nil {
			if err := rec.Record(msg); err != nil {
				appLog.Error("record live message", err)
			}
		}
	})
	mgr.OnStatusChange(func(st live.Status) {
		appLog.Info("live status", "state", st.State.String(), "detail", st.Detail)
		if hist != nil {
			hist.Log(history.KindConnection, st.State.String(), st.Detail)
		}
	})
	if hist != nil {
		store.OnChange(func(ch layout.Change) {
			hist.Log(history.KindDocument, string(ch.Op), ch.Screen)
		})
	}

	// Alternative feeds into the live view besides the websocket.
	if flags.replayPath != "" {
		go func() {
			n, err := record.Replay(ctx, flags.replayPath, pipe.HandleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("replay failed", err, "path", flags.replayPath)
				return
			}
			appLog.Info("replay finished", "path", flags.replayPath, "messages", n)
		}()
	}
	if conf.Serial.Port != "" {
		feed := serialfeed.New(conf.Serial.Port, conf.Serial.Baud, pipe.HandleMessage)
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("serial feed stopped", err, "port", conf.Serial.Port)
			}
		}()
	}

	if conf.Snapshot.Cron != "" {
		snap := snapshot.New(pipe, conf.Snapshot.Dir, conf.Snapshot.Keep)
		if err := snap.Start(conf.Snapshot.Cron); err != nil {
			return fmt.Errorf("start snapshot schedule: %w", err)
		}
		defer snap.Stop()
	}

	if conf.Panel.Enabled {
		startPanelMirror(ctx, conf, pipe)
	}

	srv := web.NewServer(web.Deps{
		Config:     conf,
		Store:      store,
		Manager:    mgr,
		Pipeline:   pipe,
		Compositor: comp,
		Device:     dev,
		History:    hist,
	})
	webErr := make(chan error, 1)
	go func() { webErr <- srv.Serve(ctx) }()

	if flags.connect {
		mgr.Connect()
	}

	if flags.capturePath != "" {
		return captureEditor(ctx, conf.Listen, flags.capturePath)
	}

	if flags.monitorUI {
		endpoint := live.Endpoint(conf.Device.Host, conf.Device.Secure)
		return monitor.Run(ctx, monitor.NewModel(mgr, pipe, endpoint))
	}

	select {
	case err := <-webErr:
		return err
	case <-ctx.Done():
		// Serve shuts down gracefully once ctx is canceled; wait for it.
		return <-webErr
	}
}

// startPanelMirror opens the local SPI panel and pushes every new composited
// frame to it. Open failures disable the mirror instead of killing the
// process, so the editor still works on machines without the display wired.
func startPanelMirror(ctx context.Context, conf *config.Config, pipe *live.Pipeline) {
	pnl, err := panel.Open(panel.Config{
		Port:         conf.Panel.Port,
		DCPin:        conf.Panel.DCPin,
		ResetPin:     conf.Panel.ResetPin,
		BacklightPin: conf.Panel.BacklightPin,
		Width:        conf.Display.Width,
		Height:       conf.Display.Height,
		SpeedHz:      conf.Panel.SpeedHz,
	})
	if err != nil {
		appLog.Error("panel mirror disabled", err)
		return
	}
	appLog.Info("panel mirror running")

	go func() {
		defer pnl.Close()

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		var shown uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, version := pipe.Snapshot()
				if version == shown {
					continue
				}
				if err := pnl.Push(convert.PackRGB565(frame)); err != nil {
					appLog.Error("panel push failed", err)
					continue
				}
				shown = version
			}
		}
	}()
}

// captureEditor waits for the local server to answer health checks, then
// screenshots the editor page and returns.
func captureEditor(ctx context.Context, listen, outPath string) error {
	if err := waitHealthy(ctx, "http://"+listen+"/health", 5*time.Second); err != nil {
		return err
	}
	err := capture.EditorPNG(ctx, capture.Options{
		URL:        "http://" + listen + "/",
		OutputPath: outPath,
	})
	if err != nil {
		return err
	}
	appLog.Info("editor captured", "path", outPath)
	return nil
}

func waitHealthy(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s not healthy within %s", url, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// renderScreen draws one screen of the loaded document to a PNG file,
// without bringing up the server.
func renderScreen(store *layout.Store, conf *config.Config, path, screen string) error {
	if screen == "" {
		keys := store.ScreenKeys()
		if len(keys) == 0 {
			return errors.New("document has no screens")
		}
		screen = keys[0]
	}
	cells, err := store.Cells(screen)
	if err != nil {
		return err
	}
	renderer, err := render.NewRenderer()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}
	comp := render.NewCompositor(renderer)
	img := image.NewRGBA(image.Rect(0, 0, conf.Display.Width, conf.Display.Height))
	comp.DrawScreen(img, cells)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create render output: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode render: %w", err)
	}
	appLog.Info("screen rendered", "screen", screen, "path", path)
	return nil
}

func exportDocument(store *layout.Store, path string) error {
	data, err := store.ExportJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	appLog.Info("document exported", "path", path)
	return nil
}

func pullDocument(ctx context.Context, dev *device.Client, store *layout.Store) error {
	res, err := dev.Pull(ctx)
	if err != nil {
		return fmt.Errorf("device pull: %w", err)
	}
	doc := &layout.Document{}
	if err := doc.UnmarshalJSON(res.Body); err != nil {
		return fmt.Errorf("device sent malformed document: %w", err)
	}
	store.Replace(doc)
	if err := store.Save(); err != nil {
		return fmt.Errorf("persist pulled document: %w", err)
	}
	appLog.Info("document pulled from device",
		"screens", len(store.ScreenKeys()),
		"from_cache", res.FromCache,
	)
	return nil
}

func pushDocument(ctx context.Context, dev *device.Client, store *layout.Store) error {
	data, err := store.ExportJSON()
	if err != nil {
		return err
	}
	if err := dev.Push(ctx, data); err != nil {
		return fmt.Errorf("device push: %w", err)
	}
	appLog.Info("document pushed to device")
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./tdeditor.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.deviceHost, "device", "", "Device host (overrides config if set)")
	flag.BoolVar(&cfg.connect, "connect", false, "Connect the live telemetry feed at startup")
	flag.BoolVar(&cfg.monitorUI, "monitor", false, "Run the terminal dashboard instead of headless serving")
	flag.StringVar(&cfg.capturePath, "capture", "", "Screenshot the editor UI to this PNG path and exit")
	flag.StringVar(&cfg.exportPath, "export", "", "Write the exported document to this path and exit")
	flag.StringVar(&cfg.renderPath, "render", "", "Render a document screen to this PNG path and exit")
	flag.StringVar(&cfg.screenKey, "screen", "", "Screen key for -render (default: first screen)")
	flag.BoolVar(&cfg.pull, "pull", false, "Pull the document from the device, persist it and exit")
	flag.BoolVar(&cfg.push, "push", false, "Push the working document to the device and exit")
	flag.StringVar(&cfg.replayPath, "replay", "", "Replay a recorded telemetry session into the live view")
	flag.StringVar(&cfg.recordPath, "record", "", "Record live telemetry messages to this file")

	flag.Parse()

	return cfg
}
