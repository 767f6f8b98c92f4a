// Package webhook receives conversational agent fulfillment requests and
// dispatches them to the incident orchestrator.
package webhook

import (
	"net/http"

	"github.com/Horgix/incidents-automation-app/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds fulfillment request bodies.
const maxBodyBytes = 1 << 20

// Handler handles webhook HTTP requests.
type Handler struct {
	dispatcher *Dispatcher
	auth       httputil.Authenticator
	validator  *validator.Validate
}

// NewHandler creates a webhook handler. A nil auth accepts every caller.
func NewHandler(dispatcher *Dispatcher, auth httputil.Authenticator) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		auth:       auth,
		validator:  validator.New(),
	}
}

// RegisterRoutes registers the webhook route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(h.auth))
		r.Post("/webhook", h.Fulfill)
	})
}

// Fulfill decodes a fulfillment request and answers with the outcome of the
// intent.
func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httputil.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		httputil.HandleError(r.Context(), w, err, httputil.BodyErrorMappings)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), req.ToIntent())
	httputil.JSON(w, http.StatusOK, resp)
}
