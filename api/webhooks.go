package api

import (
	"net/http"
	"strconv"

	"github.com/xraph/courier/webhook"
)

// webhookWithSecret is the create and rotate response. It is the only shape
// that carries the signing secret.
type webhookWithSecret struct {
	*webhook.Webhook
	Secret string `json:"secret"`
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.webhooks.Create(r.Context(), r.PathValue("schema"), in)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, webhookWithSecret{Webhook: wh, Secret: wh.Secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	opts := webhook.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		opts.Active = &active
	}

	whs, err := h.webhooks.List(r.Context(), r.PathValue("schema"), opts)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(whs))
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}

	wh, err := h.webhooks.Get(r.Context(), r.PathValue("schema"), whID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}

	var in webhook.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.webhooks.Update(r.Context(), r.PathValue("schema"), whID, in)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.Delete(r.Context(), r.PathValue("schema"), whID); err != nil {
		h.serviceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}
	schema := r.PathValue("schema")

	secret, err := h.webhooks.RotateSecret(r.Context(), schema, whID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	wh, err := h.webhooks.Get(r.Context(), schema, whID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookWithSecret{Webhook: wh, Secret: secret})
}

func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request) {
	whID, ok := pathWebhookID(w, r)
	if !ok {
		return
	}

	res, err := h.deliveries.Test(r.Context(), r.PathValue("schema"), whID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
