// Package api provides the Twilio inbound webhook handler.
package api

import (
	"errors"
	"net/http"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/webhook"
)

// twilioWebhookHandler accepts Twilio's form-encoded inbound message
// callback. Well-formed callbacks are always acknowledged with 200 so
// the provider does not re-fire; processing outcomes ride in the body.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("Server twilioWebhookHandler form parse failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}

	payload, err := webhook.Normalize(
		r.FormValue("From"),
		r.FormValue("Body"),
		r.FormValue("MessageSid"),
	)
	if err != nil {
		if errors.Is(err, models.ErrMalformedPayload) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing From, Body, or MessageSid"))
			return
		}
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result := s.reconciler.Process(r.Context(), payload)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
