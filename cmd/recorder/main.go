package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/capture"
	"github.com/webolmo/recorder/internal/config"
	"github.com/webolmo/recorder/internal/session"
	"github.com/webolmo/recorder/internal/storage"
	"github.com/webolmo/recorder/internal/upload"
	"github.com/webolmo/recorder/internal/watch"
	"github.com/webolmo/recorder/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	browserPID := flag.Int("browser-pid", 0, "Capture-target browser process to watch")
	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("loading config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *browserPID > 0 {
		cfg.Recorder.BrowserPID = *browserPID
	}

	var store storage.Store
	if cfg.Storage.Path != "" {
		store, err = storage.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			logger.WithError(err).Fatal("opening session store")
		}
	} else {
		logger.Warn("no storage path configured, session state will not survive restarts")
		store = storage.NewMemory()
	}
	defer store.Close()

	hub := ws.NewHub(logger)
	shots := capture.NewCoordinator(nil, logger)
	recorder := capture.NewRecorder(logger)
	uploader := upload.NewPipeline(&http.Client{Timeout: cfg.Upload.Timeout}, logger)

	orch := session.New(session.Config{
		Store:       store,
		Screenshots: shots,
		Recorder:    recorder,
		Uploader:    uploader,
		Notifier:    hub,
		UnloadWait: session.RetryPolicy{
			Attempts: cfg.Recorder.UnloadWaitAttempts,
			Interval: cfg.Recorder.UnloadWaitInterval,
		},
		ClickDelay: cfg.Recorder.ClickCaptureDelay,
		UploadURL:  cfg.Upload.URL,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Resume(ctx); err != nil {
		logger.WithError(err).Warn("resuming persisted session")
	}

	if cfg.Recorder.BrowserPID > 0 {
		dog := watch.New(int32(cfg.Recorder.BrowserPID), cfg.Recorder.WatchInterval, func() {
			if err := orch.Finish(context.Background()); err != nil {
				logger.WithError(err).Error("finishing session after browser exit")
			}
		}, logger)
		go dog.Run(ctx)
	}

	server := ws.NewServer(hub, orch, recorder, nil, logger)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		os.Exit(0)
	}()

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("recorder bridge listening")
	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		logger.WithError(err).Fatal("server error")
	}
}
