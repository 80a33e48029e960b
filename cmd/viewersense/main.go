// Command viewersense watches a camera for a nearby viewer and hand swipes
// and pushes detection events to websocket clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/viewersense/internal/app"
	"github.com/ayusman/viewersense/internal/broadcast"
	"github.com/ayusman/viewersense/internal/capture"
	"github.com/ayusman/viewersense/internal/config"
	"github.com/ayusman/viewersense/internal/detector"
	"github.com/ayusman/viewersense/internal/emitter"
	"github.com/ayusman/viewersense/internal/event"
	"github.com/ayusman/viewersense/internal/hook"
	"github.com/ayusman/viewersense/internal/logging"
	"github.com/ayusman/viewersense/internal/params"
	"github.com/ayusman/viewersense/internal/server"
	"github.com/ayusman/viewersense/internal/store"
	"github.com/ayusman/viewersense/internal/tray"
)

const (
	flagConfig       = "config"
	flagHost         = "host"
	flagPort         = "port"
	flagCamera       = "camera"
	flagDB           = "db"
	flagLogLevel     = "log-level"
	flagTray         = "tray"
	flagPresenceOnly = "presence-only"
	flagMQTTBroker   = "mqtt-broker"
	flagHooksDir     = "hooks-dir"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "viewersense:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "viewersense",
		Usage: "detect a nearby viewer and hand swipes, broadcast them over websocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"VIEWERSENSE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagHost,
				Usage: "listen host",
			},
			&cli.IntFlag{
				Name:  flagPort,
				Usage: "listen port",
			},
			&cli.IntFlag{
				Name:  flagCamera,
				Usage: "camera device index",
			},
			&cli.StringFlag{
				Name:  flagDB,
				Usage: "settings database `PATH`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:  flagTray,
				Usage: "show a system tray menu",
			},
			&cli.BoolFlag{
				Name:  flagPresenceOnly,
				Usage: "report presence only, without swipe detection",
			},
			&cli.StringFlag{
				Name:  flagMQTTBroker,
				Usage: "mirror events to the MQTT broker at `HOST:PORT`",
			},
			&cli.StringFlag{
				Name:  flagHooksDir,
				Usage: "run event hooks found in `DIR`",
			},
		},
		Action: run,
	}
}

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if c.IsSet(flagHost) {
		cfg.Server.Host = c.String(flagHost)
	}
	if c.IsSet(flagPort) {
		cfg.Server.Port = c.Int(flagPort)
	}
	if c.IsSet(flagCamera) {
		cfg.Camera.Device = c.Int(flagCamera)
	}
	if c.IsSet(flagDB) {
		cfg.Store.Path = c.String(flagDB)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if c.IsSet(flagTray) {
		cfg.Tray.Enabled = c.Bool(flagTray)
	}
	if c.IsSet(flagPresenceOnly) {
		cfg.Detection.PresenceOnly = c.Bool(flagPresenceOnly)
	}
	if c.IsSet(flagMQTTBroker) {
		cfg.MQTT.Broker = c.String(flagMQTTBroker)
	}
	if c.IsSet(flagHooksDir) {
		cfg.Hooks.Dir = c.String(flagHooksDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath, err := cfg.StorePath()
	if err != nil {
		return err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	provider, err := params.NewSettings(st.Settings(), cfg.Detection.Params, logger)
	if err != nil {
		return fmt.Errorf("failed to load parameters: %w", err)
	}
	if c.IsSet(flagPresenceOnly) {
		if _, err := provider.Apply(presenceOnlyPatch(c.Bool(flagPresenceOnly))); err != nil {
			return err
		}
	}

	det, err := detector.NewMediaPipeDetector(cfg.Landmarks.Detector(), logger)
	if err != nil {
		return fmt.Errorf("landmark service unavailable: %w", err)
	}

	hub := broadcast.NewHub(broadcast.Config{
		SendTimeout: cfg.Server.WriteTimeout,
		Logger:      logger,
	})

	var publishers []app.Publisher
	if cfg.MQTT.Enabled() {
		m := emitter.NewMQTT(cfg.MQTT, logger)
		if err := m.Connect(ctx); err != nil {
			logger.Warn("mqtt not connected yet, events are mirrored once it is", "error", err)
		}
		defer m.Disconnect()
		publishers = append(publishers, m)
	}

	hooks, err := loadHooks(cfg, logger)
	if err != nil {
		return err
	}
	if hooks != nil {
		defer hooks.Close()
		publishers = append(publishers, hooks)
	}

	var tr *tray.Tray
	if cfg.Tray.Enabled {
		tr = tray.New()
	}

	a := app.New(app.Config{
		Camera:      capture.NewCamera(cfg.Camera),
		Detector:    det,
		Params:      provider,
		Hub:         hub,
		Publishers:  publishers,
		MaxFailures: cfg.Detection.MaxConsecutiveFailures,
		OnEvent: func(ev event.DetectionEvent) {
			if tr != nil {
				tr.HandleEvent(ev)
			}
		},
		Logger: logger,
	})

	srv := server.New(server.Config{
		Addr:      cfg.Server.Addr(),
		Hub:       hub,
		Params:    provider,
		Presence:  a,
		ReadLimit: cfg.Server.ReadLimit,
		Logger:    logger,
	})

	if tr == nil {
		return a.Run(ctx, srv.Serve)
	}
	return runWithTray(ctx, tr, a, srv, hub, provider, "http://"+cfg.Server.Addr()+"/api/params", logger)
}

// runWithTray keeps the tray on the main goroutine, as systray requires, and
// runs the app beside it. Quitting from the menu cancels the app; the app
// stopping on its own removes the tray.
func runWithTray(ctx context.Context, tr *tray.Tray, a *app.App, srv *server.Server, hub *broadcast.Hub, provider params.Updater, paramsURL string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr.SetSwipesEnabled(!provider.Snapshot().PresenceOnly)
	tr.OnQuit(cancel)
	tr.OnToggle(func(enabled bool) {
		if _, err := provider.Apply(presenceOnlyPatch(!enabled)); err != nil {
			logger.Error("toggle swipe detection", "error", err)
		}
	})
	tr.OnSettings(func() {
		if err := openURL(paramsURL); err != nil {
			logger.Warn("open browser", "url", paramsURL, "error", err)
		}
	})

	clients := func(ctx context.Context) error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tr.SetClients(hub.ClientCount())
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx, srv.Serve, clients)
		tr.Quit()
	}()

	tr.Run()
	cancel()
	return <-errCh
}

func presenceOnlyPatch(on bool) []byte {
	return []byte(fmt.Sprintf(`{"presence_only": %t}`, on))
}

// loadHooks returns a dispatcher for the discovered hooks, or nil when there are none.
func loadHooks(cfg *config.Config, logger *slog.Logger) (*hook.Dispatcher, error) {
	dir, err := cfg.HooksDir()
	if err != nil {
		return nil, err
	}
	manager := hook.NewManager(dir, logger)
	if err := manager.Discover(); err != nil {
		return nil, fmt.Errorf("failed to discover hooks: %w", err)
	}
	if len(manager.List()) == 0 {
		return nil, nil
	}
	return hook.NewDispatcher(manager, hook.NewExecutor(cfg.Hooks.Timeout), cfg.Hooks.MaxConcurrent, logger), nil
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
