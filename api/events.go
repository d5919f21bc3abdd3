package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/courier/id"
)

type dispatchRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type dispatchResponse struct {
	DeliveryIDs []id.ID `json:"delivery_ids"`
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}

	dels, err := h.dispatcher.Dispatch(r.Context(), r.PathValue("schema"), req.Type, req.Data)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := dispatchResponse{DeliveryIDs: make([]id.ID, 0, len(dels))}
	for _, d := range dels {
		resp.DeliveryIDs = append(resp.DeliveryIDs, d.ID)
	}
	writeJSON(w, http.StatusAccepted, resp)
}
