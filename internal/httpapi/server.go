// Package httpapi serves the gateway's local status API: recent readings and
// directives from the journal, and a sprinkler switch that writes the cloud
// command field.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"lora-gateway/internal/journal"
)

// Store is the read side of the journal.
type Store interface {
	Ping(ctx context.Context) error
	LatestReadings(ctx context.Context, limit int) ([]journal.Reading, error)
	LatestDirectives(ctx context.Context, limit int) ([]journal.DirectiveRecord, error)
}

// Commander sets the remote sprinkler command.
type Commander interface {
	SetCommand(ctx context.Context, on bool) error
}

func NewMux(store Store, commander Commander, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, store, logger)

	api := &statusAPI{store: store, commander: commander, logger: logger}
	api.RegisterRoutes(mux)
	return mux
}

func NewServer(addr string, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
