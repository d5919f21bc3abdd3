package api

import (
	"net/http"

	"github.com/xraph/courier/delivery"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st := delivery.Status(v)
		opts.Status = &st
	}

	dels, err := h.deliveries.List(r.Context(), r.PathValue("schema"), whID, opts)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(dels))
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, ok := pathDeliveryID(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.Get(r.Context(), r.PathValue("schema"), delID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) redeliver(w http.ResponseWriter, r *http.Request) {
	delID, ok := pathDeliveryID(w, r)
	if !ok {
		return
	}

	d, err := h.deliveries.Redeliver(r.Context(), r.PathValue("schema"), delID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}
