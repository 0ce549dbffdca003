package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"midimon/config"
	"midimon/driver"
	"midimon/driver/gomididrv"
	"midimon/driver/portmididrv"
	"midimon/driver/serialdrv"
	"midimon/monitoring"
	"midimon/output"
	"midimon/session"

	// Registers the platform MIDI driver the gomidi backend enumerates.
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	appName    = "Midimon"
	appVersion = "1.0.0"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Handle version flag
	if *version {
		fmt.Printf("%s v%s\n", appName, appVersion)
		os.Exit(0)
	}

	// Load configuration, falling back to built-in defaults
	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	// Setup logging
	logger := setupLogging(cfg, *debug)
	logger.Info("Starting Midimon",
		"version", appVersion,
		"instance", cfg.App.InstanceID,
		"backend", cfg.Driver.Backend)

	drv, err := newDriver(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize MIDI backend", "backend", cfg.Driver.Backend, "error", err)
		os.Exit(1)
	}
	defer drv.Close()

	controller, err := session.New(session.Config{
		ClientName:        cfg.App.ClientName,
		PollInterval:      cfg.Session.PollInterval(),
		BatchSize:         cfg.Session.BatchSize,
		MaxBatchesPerPoll: cfg.Session.MaxBatchesPerPoll,
		MessageBuffer:     cfg.Session.MessageBuffer,
		AutoConnect:       cfg.Session.AutoConnect,
	}, drv, logger)
	if err != nil {
		logger.Error("Failed to create session controller", "error", err)
		os.Exit(1)
	}

	// Optional NATS event publishing
	var natsConn *output.NATSConnection
	var publisher *output.EventPublisher
	if cfg.NATS.Enabled {
		natsConn, err = output.NewNATSConnection(cfg.NATS.URL, cfg.NATS.MaxReconnects, logger)
		if err != nil {
			logger.Warn("NATS connection failed, continuing without event publishing", "error", err)
		} else {
			publisher = output.NewEventPublisher(&output.EventPublisherConfig{
				Conn:       natsConn,
				Subject:    output.BuildEventsSubject(cfg.NATS.SubjectPrefix, cfg.App.InstanceID),
				InstanceID: cfg.App.InstanceID,
				Logger:     logger,
			})
			controller.SetEventCallback(publisher.Publish)
		}
	}

	// Optional monitoring server; its SSE clients are the repaint sink
	var monServer *monitoring.Server
	if cfg.Monitoring.Enabled {
		monServer = monitoring.NewServer(&cfg.Monitoring, controller, logger)
		controller.SetRepaintFunc(monServer.Notify)
	}

	if err := controller.Start(); err != nil {
		logger.Error("Failed to start session controller", "error", err)
		os.Exit(1)
	}

	if monServer != nil {
		if err := monServer.Start(); err != nil {
			logger.Error("Failed to start monitoring server", "error", err)
			os.Exit(1)
		}
	}

	publisher.PublishServiceStart(appVersion)
	logger.Info("Midimon started successfully", "instance", cfg.App.InstanceID)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	publisher.PublishServiceStop(sig.String())

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down gracefully...")

	if monServer != nil {
		if err := monServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping monitoring server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		controller.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timed out, forcing exit")
	}

	if natsConn != nil {
		natsConn.Close()
	}

	logger.Info("Midimon stopped")
}

// newDriver builds the configured MIDI input backend
func newDriver(cfg *config.Config, logger *slog.Logger) (driver.Driver, error) {
	switch cfg.Driver.Backend {
	case "gomidi":
		return gomididrv.New(logger)
	case "portmidi":
		return portmididrv.New()
	case "serial":
		return serialdrv.New(serialdrv.Config{
			ReadTimeout: cfg.Driver.Serial.ReadTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Driver.Backend)
	}
}

// setupLogging configures logging with optional file rotation
func setupLogging(cfg *config.Config, debug bool) *slog.Logger {
	// Determine log level
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	} else {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler

	// If log base path is configured, write to rotating log file
	if cfg.Logging.BasePath != "" {
		// Create log directory if it doesn't exist
		if err := os.MkdirAll(cfg.Logging.BasePath, 0755); err != nil {
			log.Printf("Warning: failed to create log directory: %v", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			logPath := filepath.Join(cfg.Logging.BasePath, "midimon.log")
			writer := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
				Compress:   cfg.Logging.Compress,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		// Log to stdout
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
