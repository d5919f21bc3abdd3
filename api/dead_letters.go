package api

import "net/http"

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	dels, err := h.dead.ListDead(r.Context(), r.PathValue("schema"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(dels))
}

func (h *Handler) requeue(w http.ResponseWriter, r *http.Request) {
	delID, ok := pathDeliveryID(w, r)
	if !ok {
		return
	}

	d, err := h.dead.Requeue(r.Context(), r.PathValue("schema"), delID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}
