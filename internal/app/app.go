package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"lora-gateway/internal/cloud"
	"lora-gateway/internal/config"
	"lora-gateway/internal/gateway"
	"lora-gateway/internal/httpapi"
	"lora-gateway/internal/journal"
	"lora-gateway/internal/mqtt"
	"lora-gateway/internal/serial"
)

// StartupError means the gateway never entered its loop.
type StartupError struct {
	Component string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup %s: %v", e.Component, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Run opens the port and the optional subsystems, then runs the gateway
// loop until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing gateway",
		"serial_port", cfg.SerialPort,
		"serial_baud", cfg.SerialBaud,
		"cloud_url", cfg.CloudURL,
		"channel_id", cfg.CloudChannelID,
		"poll_interval", cfg.CommandPollInterval,
		"mqtt_broker", cfg.MQTTBroker,
		"sqlite_path", cfg.SQLitePath,
		"http_addr", cfg.HTTPAddr,
	)

	port, err := serial.Open(cfg, logger)
	if err != nil {
		return &StartupError{Component: "serial", Err: err}
	}
	defer func() {
		if err := port.Close(); err != nil {
			logger.Error("serial: close failed", "error", err)
		}
	}()

	cloudClient := cloud.NewClient(cfg, nil, logger)

	opts := gateway.Options{
		PollInterval: cfg.CommandPollInterval,
		LoopInterval: cfg.LoopInterval,
		ErrorPause:   cfg.ErrorPause,
		Logger:       logger,
	}

	var store *journal.Journal
	if cfg.SQLitePath != "" {
		store, err = journal.Open(cfg, logger)
		if err != nil {
			return &StartupError{Component: "journal", Err: err}
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("journal: close failed", "error", err)
			}
		}()
		opts.Journal = store
	}

	if cfg.MQTTBroker != "" {
		mirror, err := mqtt.NewClient(cfg, logger)
		if err != nil {
			return &StartupError{Component: "mqtt", Err: err}
		}
		// The broker is optional: the loop starts right away and mirroring
		// begins whenever the connection comes up.
		go func() {
			if err := mirror.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mqtt: connect failed, continuing without mirror", "error", err)
			}
		}()
		defer mirror.Disconnect()
		opts.Mirror = mirror
	}

	var (
		srv   *http.Server
		errCh chan error
	)
	if cfg.HTTPAddr != "" {
		if store == nil {
			return &StartupError{Component: "http", Err: errors.New("status API needs the journal")}
		}
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return &StartupError{Component: "http", Err: err}
		}
		srv = httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(store, cloudClient, logger), logger)
		errCh = make(chan error, 1)
		go func() {
			logger.Info("http: listening", "addr", ln.Addr().String())
			errCh <- srv.Serve(ln)
		}()
	}

	runErr := gateway.New(port, cloudClient, opts).Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("http: shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http: shutdown failed", "error", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http: server error", "error", err)
		}
	}

	logger.Info("gateway shutting down")
	return runErr
}
