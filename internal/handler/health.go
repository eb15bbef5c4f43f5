package handler

import (
	"net/http"
	"time"
)

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.repository.Ping(r.Context()); err != nil {
		h.logInternalServerError(r, err)
		h.writeJSON(w, r, http.StatusServiceUnavailable, Response{
			Success: false,
			Message: "database unavailable",
		})
		return
	}

	h.successResponse(w, r, "ok", map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
