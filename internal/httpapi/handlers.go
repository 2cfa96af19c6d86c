package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"lora-gateway/internal/journal"
	"lora-gateway/internal/utils"
)

const maxRequestBody = 1 << 10

type statusAPI struct {
	store     Store
	commander Commander
	logger    *slog.Logger
}

func (a *statusAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/readings/latest", a.handleLatestReadings)
	mux.HandleFunc("GET /api/v1/directives/latest", a.handleLatestDirectives)
	mux.HandleFunc("POST /api/v1/sprinkler", a.handleSetSprinkler)
}

func (a *statusAPI) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, err := a.store.LatestReadings(r.Context(), limit)
	if err != nil {
		a.logger.Error("http: latest readings failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	annotate(r, slog.Int("limit", limit), slog.Int("rows", len(readings)))
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (a *statusAPI) handleLatestDirectives(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	directives, err := a.store.LatestDirectives(r.Context(), limit)
	if err != nil {
		a.logger.Error("http: latest directives failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load directives")
		return
	}
	annotate(r, slog.Int("limit", limit), slog.Int("rows", len(directives)))
	utils.WriteJSON(w, http.StatusOK, directives)
}

type sprinklerRequest struct {
	On *bool `json:"on"`
}

// handleSetSprinkler only writes the cloud command field. The gateway loop
// picks it up on its next poll like any dashboard change.
func (a *statusAPI) handleSetSprinkler(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	var req sprinklerRequest
	if err := dec.Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.On == nil {
		utils.WriteError(w, http.StatusBadRequest, `missing boolean field "on"`)
		return
	}

	annotate(r, slog.Bool("sprinkler_on", *req.On))
	if err := a.commander.SetCommand(r.Context(), *req.On); err != nil {
		annotate(r, slog.String("command", "rejected"))
		a.logger.Warn("http: sprinkler command not stored", "on", *req.On, "error", err)
		utils.WriteError(w, http.StatusBadGateway, "cloud rejected the command")
		return
	}
	annotate(r, slog.String("command", "queued"))
	utils.WriteJSON(w, http.StatusAccepted, map[string]any{"on": *req.On, "status": "queued"})
}

// parseLimit reads ?limit=N. Default 1, bounded by journal.MaxLimit.
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'limit' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'limit' must be > 0")
	}
	if n > journal.MaxLimit {
		return 0, fmt.Errorf("'limit' must be <= %d", journal.MaxLimit)
	}
	return n, nil
}
