// Package api provides HTTP handlers for lead management and scheduler
// control.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leadpulse/leadpulse/internal/models"
	"github.com/leadpulse/leadpulse/internal/store"
)

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("LeadPulse API", map[string]string{
		"service": "leadpulse",
	}))
}

type leadRequest struct {
	Name           string `json:"name"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email"`
	AdditionalInfo string `json:"additional_info"`
}

func (s *Server) createLeadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("Server createLeadHandler decode failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	lead := &models.Lead{
		Name:           req.Name,
		PhoneNumber:    req.PhoneNumber,
		Email:          req.Email,
		AdditionalInfo: req.AdditionalInfo,
	}
	if err := lead.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	canonical, _ := models.CanonicalizePhone(lead.PhoneNumber)
	lead.PhoneNumber = canonical

	if err := s.store.CreateLead(r.Context(), lead); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSONResponse(w, http.StatusConflict, models.Error("Phone number already registered"))
			return
		}
		s.logger.Error("Server createLeadHandler store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create lead"))
		return
	}

	s.logger.Info("Server createLeadHandler created lead", "leadID", lead.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(lead))
}

func (s *Server) listLeadsHandler(w http.ResponseWriter, r *http.Request) {
	opts := store.ListLeadsOptions{
		Skip:  queryInt(r, "skip", 0),
		Limit: queryInt(r, "limit", 100),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		cs := models.ConversationState(state)
		if !cs.IsValid() {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation state filter"))
			return
		}
		opts.State = cs
	}

	leads, total, err := s.store.ListLeads(r.Context(), opts)
	if err != nil {
		s.logger.Error("Server listLeadsHandler store failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"leads": leads,
		"total": total,
	}))
}

func (s *Server) getLeadHandler(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	lead, err := s.store.FindLeadByID(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		s.logger.Error("Server getLeadHandler store failed", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) updateLeadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	leadID := chi.URLParam(r, "leadID")
	lead, err := s.store.FindLeadByID(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
		return
	}

	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	// The phone identifier is immutable; only profile fields change.
	if req.Name != "" {
		lead.Name = req.Name
	}
	if req.Email != "" {
		lead.Email = req.Email
	}
	if req.AdditionalInfo != "" {
		lead.AdditionalInfo = req.AdditionalInfo
	}
	if err := lead.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.store.UpdateLead(r.Context(), lead); err != nil {
		s.logger.Error("Server updateLeadHandler store failed", "leadID", leadID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update lead"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) schedulerStartHandler(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSONResponse(w, http.StatusConflict, models.Error("Scheduler is not configured"))
		return
	}
	if err := s.sched.Start(); err != nil {
		s.logger.Error("Server schedulerStartHandler failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start scheduler"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scheduler started", nil))
}

func (s *Server) schedulerStopHandler(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSONResponse(w, http.StatusConflict, models.Error("Scheduler is not configured"))
		return
	}
	s.sched.Stop()
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Scheduler stopped", nil))
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
