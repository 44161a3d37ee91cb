package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	go2tvadapters "go2tv.app/castqueue/internal/adapters/go2tv"
	"go2tv.app/castqueue/internal/buildinfo"
	"go2tv.app/castqueue/internal/config"
	"go2tv.app/castqueue/internal/connstate"
	"go2tv.app/castqueue/internal/discovery"
	"go2tv.app/castqueue/internal/domain"
	"go2tv.app/castqueue/internal/library"
	"go2tv.app/castqueue/internal/mcpserver"
	"go2tv.app/castqueue/internal/player"
	"go2tv.app/castqueue/internal/queue"
	"go2tv.app/castqueue/internal/session"
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Go2TVAdapters struct {
		DiscoveryWired bool `json:"discovery_wired"`
		CastWired      bool `json:"cast_wired"`
	} `json:"go2tv_adapters"`
	Library struct {
		Dir    string `json:"dir"`
		Tracks int    `json:"tracks"`
	} `json:"library"`
}

func main() {
	selfTest := flag.Bool("self-test", false, "run wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	bundle := go2tvadapters.NewBundle()

	catalog := library.NewCatalog(cfg.LibraryDir, logger)
	if cfg.LibraryDir != "" {
		if err := catalog.Scan(); err != nil {
			logger.Error("library_scan_failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *selfTest {
		out := selfTestOutput{}
		out.Server.Name = "castqueue"
		out.Server.Version = buildinfo.Version
		out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
		out.Go2TVAdapters.CastWired = bundle.CastFactory != nil
		out.Library.Dir = cfg.LibraryDir
		out.Library.Tracks = catalog.Len()

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	runCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	logger.Info(
		"castqueue_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
		slog.Int("library_tracks", catalog.Len()),
	)

	stateStore, err := connstate.NewStore(cfg.StateDir)
	if err != nil {
		logger.Warn("connection_state_unavailable", slog.String("error", err.Error()))
	}

	discoverySvc := discovery.NewService(bundle.Discovery, runCtx, logger)
	sessions := session.NewManager(bundle.CastFactory, discoverySvc, logger)
	sessions.SetResolveWait(cfg.DiscoveryTimeout)
	queueStore := queue.NewStore()

	var lastDevice player.LastDeviceSource
	if stateStore != nil {
		lastDevice = stateStore
	}
	recovery := player.NewRecovery(sessions, lastDevice, logger)
	controller := player.NewController(sessions, queueStore, catalog, recovery, logger)
	controller.SetVerifyTimeout(cfg.VerifyTimeout)
	engine := player.NewEngine(sessions, queueStore, controller, logger)

	mediaServer := library.NewServer(catalog, logger)
	sessions.Subscribe(engine.HandleStatus)
	sessions.OnConnected(func(device domain.Device) {
		if err := mediaServer.Start(device.Address); err != nil {
			logger.Error("media_server_start_failed",
				slog.String("device", device.Name), slog.String("error", err.Error()))
		}
		if stateStore != nil {
			if err := stateStore.Save(device.Name); err != nil {
				logger.Warn("connection_state_save_failed", slog.String("error", err.Error()))
			}
		}
	})
	sessions.OnDisconnected(func() {
		engine.Abandon()
		queueStore.Clear()
		if stateStore != nil {
			if err := stateStore.Clear(); err != nil {
				logger.Warn("connection_state_clear_failed", slog.String("error", err.Error()))
			}
		}
	})

	srv := mcpserver.New(os.Stdin, os.Stdout, mcpserver.Config{
		ServerName:    "castqueue",
		ServerVersion: buildinfo.Version,
		Logger:        logger,
		Devices:       discoverySvc,
		Sessions:      sessions,
		Playback:      controller,
		Queue:         queueStore,
		Library:       catalog,
	})

	if cfg.DeviceName != "" {
		if out := sessions.Connect(runCtx, cfg.DeviceName); out.IsError() {
			logger.Warn("initial_connect_failed",
				slog.String("device", cfg.DeviceName), slog.String("error", out.Message))
		}
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("castqueue_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("castqueue_stopping", slog.String("reason", "clean_eof"))
	}

	engine.Abandon()
	sessions.Disconnect()
	mediaServer.Stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(1)
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid CASTQUEUE_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
