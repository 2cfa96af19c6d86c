package httpapi

import (
	"log/slog"
	"net/http"

	"lora-gateway/internal/utils"
)

type healthchecker struct {
	store  Store
	logger *slog.Logger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("http: journal unreachable", "error", err)
		utils.WriteError(w, http.StatusServiceUnavailable, "journal unreachable")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(mux *http.ServeMux, store Store, logger *slog.Logger) {
	h := &healthchecker{store: store, logger: logger}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
