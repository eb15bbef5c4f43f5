package handler

import "net/http"

// GetMyAssignments returns only the caller's own assignments.
func (h *Handler) GetMyAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.repository.GetAssignmentsByAgent(r.Context(), identity(r).UserID)
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "assignments fetched successfully", assignments)
}
