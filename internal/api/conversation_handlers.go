// Package api provides HTTP handlers for conversations, messages, and
// the send/generate pipeline.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	opts := store.ListConversationsOptions{
		Skip:   queryInt(r, "skip", 0),
		Limit:  queryInt(r, "limit", 100),
		LeadID: r.URL.Query().Get("lead_id"),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		cs := models.ConversationState(state)
		if !cs.IsValid() {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation state filter"))
			return
		}
		opts.State = cs
	}

	convs, err := s.store.ListConversations(r.Context(), opts)
	if err != nil {
		s.logger.Error("Server listConversationsHandler store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch conversation"))
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("Server listMessagesHandler store failed", "conversationID", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

type sendMessageRequest struct {
	LeadID      string `json:"lead_id"`
	PhoneNumber string `json:"phone_number"`
	Content     string `json:"content"`
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Content == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: content"))
		return
	}

	leadID := req.LeadID
	if leadID == "" {
		if req.PhoneNumber == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Either lead_id or phone_number is required"))
			return
		}
		canonical, err := models.CanonicalizePhone(req.PhoneNumber)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		lead, err := s.store.FindLeadByPhone(r.Context(), canonical)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
				return
			}
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
			return
		}
		leadID = lead.ID
	}

	result, conversationID, err := s.orch.SendToLead(r.Context(), leadID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		case errors.Is(err, models.ErrEmptyContent), errors.Is(err, models.ErrContentTooLong):
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		default:
			s.logger.Error("Server sendMessageHandler failed", "leadID", leadID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		}
		return
	}

	// A transport failure is a recorded outcome, not an HTTP error.
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"conversation_id": conversationID,
		"send":            result,
	}))
}

func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	result, err := s.orch.GenerateAndMaybeSend(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		s.logger.Error("Server generateHandler failed", "conversationID", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate reply"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
