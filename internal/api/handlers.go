package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veltar/pacer/internal/campaign"
	"github.com/veltar/pacer/internal/models"
)

// ContactInput is one recipient in a campaign creation request
type ContactInput struct {
	Phone     string            `json:"phone"`
	Name      string            `json:"name,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Name           string                `json:"name"`
	OwnerID        string                `json:"owner_id"`
	ChannelID      string                `json:"channel_id"`
	MessageType    string                `json:"message_type"`
	Body           string                `json:"body,omitempty"`
	MediaURL       string                `json:"media_url,omitempty"`
	DelayMinMs     int                   `json:"delay_min_ms"`
	DelayMaxMs     int                   `json:"delay_max_ms"`
	RandomizeOrder bool                  `json:"randomize_order"`
	SendingWindow  *models.SendingWindow `json:"sending_window,omitempty"`
	IsScheduled    bool                  `json:"is_scheduled"`
	ScheduledAt    *time.Time            `json:"scheduled_at,omitempty"`
	Contacts       []ContactInput        `json:"contacts"`
}

// CampaignResponse is a campaign as returned by the API
type CampaignResponse struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	OwnerID        string                `json:"owner_id,omitempty"`
	ChannelID      string                `json:"channel_id"`
	MessageType    string                `json:"message_type"`
	Body           string                `json:"body,omitempty"`
	MediaURL       string                `json:"media_url,omitempty"`
	DelayMinMs     int                   `json:"delay_min_ms"`
	DelayMaxMs     int                   `json:"delay_max_ms"`
	RandomizeOrder bool                  `json:"randomize_order"`
	SendingWindow  *models.SendingWindow `json:"sending_window,omitempty"`
	IsScheduled    bool                  `json:"is_scheduled"`
	ScheduledAt    *time.Time            `json:"scheduled_at,omitempty"`
	Status         string                `json:"status"`
	TotalContacts  int                   `json:"total_contacts"`
	SentCount      int                   `json:"sent_count"`
	FailedCount    int                   `json:"failed_count"`
	CurrentIndex   int                   `json:"current_index"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

// UpdateCampaignResponse is the response for PATCH /campaigns/{id}
type UpdateCampaignResponse struct {
	ID            string   `json:"id"`
	ChangedFields []string `json:"changed_fields"`
}

// ContactResponse is a campaign contact as returned by the API
type ContactResponse struct {
	ID           string     `json:"id"`
	Phone        string     `json:"phone"`
	Name         string     `json:"name,omitempty"`
	Status       string     `json:"status"`
	ErrorType    string     `json:"error_type,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	ActiveCampaigns int    `json:"active_campaigns"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fields := validateCreate(&req); len(fields) > 0 {
		s.sendValidationError(w, "invalid campaign", fields)
		return
	}

	c := &models.Campaign{
		Name:           req.Name,
		OwnerID:        req.OwnerID,
		ChannelID:      req.ChannelID,
		Type:           models.MessageType(req.MessageType),
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		DelayMinMs:     req.DelayMinMs,
		DelayMaxMs:     req.DelayMaxMs,
		RandomizeOrder: req.RandomizeOrder,
		SendingWindow:  req.SendingWindow,
		IsScheduled:    req.IsScheduled,
		ScheduledAt:    req.ScheduledAt,
	}

	if err := s.campaigns.Create(c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to create campaign")
		return
	}

	contacts := make([]models.Contact, len(req.Contacts))
	for i, in := range req.Contacts {
		contacts[i] = models.Contact{
			Phone:     in.Phone,
			Name:      in.Name,
			Variables: in.Variables,
		}
	}
	// Delivery order is fixed here, once. Resume after pause keeps it.
	campaign.AssignProcessingOrder(contacts, req.RandomizeOrder)

	if err := s.contacts.CreateBatch(c.ID, contacts); err != nil {
		s.logger.Error("failed to create contacts", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to create contacts")
		return
	}
	c.TotalContacts = len(contacts)

	s.logger.Info("campaign created",
		"campaign_id", c.ID,
		"name", c.Name,
		"contacts", len(contacts),
	)

	s.sendJSON(w, http.StatusCreated, toCampaignResponse(c))
}

// validateCreate returns the names of invalid request fields.
func validateCreate(req *CreateCampaignRequest) []string {
	var fields []string

	if req.Name == "" {
		fields = append(fields, "name")
	}
	if req.ChannelID == "" {
		fields = append(fields, "channel_id")
	}
	mt := models.MessageType(req.MessageType)
	if !models.ValidMessageType(mt) {
		fields = append(fields, "message_type")
	} else if mt == models.MessageText {
		if req.Body == "" {
			fields = append(fields, "body")
		}
	} else if req.MediaURL == "" {
		fields = append(fields, "media_url")
	}
	if req.DelayMinMs < 0 || req.DelayMaxMs < req.DelayMinMs {
		fields = append(fields, "delay_min_ms", "delay_max_ms")
	}
	if len(req.Contacts) == 0 {
		fields = append(fields, "contacts")
	}
	for _, c := range req.Contacts {
		if c.Phone == "" {
			fields = append(fields, "contacts.phone")
			break
		}
	}
	if req.IsScheduled && req.ScheduledAt == nil {
		fields = append(fields, "scheduled_at")
	}

	return fields
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Status:  models.CampaignStatus(r.URL.Query().Get("status")),
	}

	list, err := s.campaigns.List(filter)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to list campaigns")
		return
	}

	resp := make([]*CampaignResponse, len(list))
	for i := range list {
		resp[i] = toCampaignResponse(&list[i])
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	s.sendJSON(w, http.StatusOK, toCampaignResponse(c))
}

// handleUpdateCampaign handles PATCH /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	changed, err := s.scheduler.UpdateConfig(r.Context(), id, updates)
	if err != nil {
		s.sendCampaignError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, UpdateCampaignResponse{ID: id, ChangedFields: changed})
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if _, active := s.scheduler.ActiveQueue(id); active || c.Status == models.StatusRunning {
		s.sendError(w, http.StatusConflict, "Cannot delete a running campaign")
		return
	}

	if err := s.campaigns.Delete(id); err != nil {
		s.logger.Error("failed to delete campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to delete campaign")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStartCampaign handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.StartNow(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(models.StatusRunning)})
}

// handlePauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Pause(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusPaused)})
}

// handleResumeCampaign handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Resume(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(models.StatusRunning)})
}

// handleCancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scheduler.Cancel(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(models.StatusCancelled)})
}

// handleCampaignProgress handles GET /api/v1/campaigns/{id}/progress
func (s *Server) handleCampaignProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reporter.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, snap)
}

// handleCampaignContacts handles GET /api/v1/campaigns/{id}/contacts
func (s *Server) handleCampaignContacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	list, err := s.contacts.List(models.ContactFilter{
		CampaignID: id,
		Status:     models.ContactStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.logger.Error("failed to list contacts", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Failed to list contacts")
		return
	}

	resp := make([]ContactResponse, len(list))
	for i, ct := range list {
		resp[i] = ContactResponse{
			ID:           ct.ID,
			Phone:        ct.Phone,
			Name:         ct.Name,
			Status:       string(ct.Status),
			ErrorType:    string(ct.ErrorType),
			ErrorMessage: ct.ErrorMessage,
			SentAt:       ct.SentAt,
		}
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         "0.1.0",
		Uptime:          time.Since(s.startTime).String(),
		ActiveCampaigns: s.scheduler.ActiveCount(),
	})
}

func toCampaignResponse(c *models.Campaign) *CampaignResponse {
	return &CampaignResponse{
		ID:             c.ID,
		Name:           c.Name,
		OwnerID:        c.OwnerID,
		ChannelID:      c.ChannelID,
		MessageType:    string(c.Type),
		Body:           c.Body,
		MediaURL:       c.MediaURL,
		DelayMinMs:     c.DelayMinMs,
		DelayMaxMs:     c.DelayMaxMs,
		RandomizeOrder: c.RandomizeOrder,
		SendingWindow:  c.SendingWindow,
		IsScheduled:    c.IsScheduled,
		ScheduledAt:    c.ScheduledAt,
		Status:         string(c.Status),
		TotalContacts:  c.TotalContacts,
		SentCount:      c.SentCount,
		FailedCount:    c.FailedCount,
		CurrentIndex:   c.CurrentIndex,
		CreatedAt:      c.CreatedAt,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
	}
}

// sendCampaignError maps lifecycle errors to HTTP statuses.
func (s *Server) sendCampaignError(w http.ResponseWriter, err error) {
	var verr *campaign.ValidationError
	var terr *campaign.TransitionError

	switch {
	case errors.Is(err, campaign.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Campaign not found")
	case errors.As(err, &verr):
		s.sendValidationError(w, verr.Reason, verr.Fields)
	case errors.As(err, &terr):
		s.sendError(w, http.StatusConflict, terr.Error())
	case errors.Is(err, campaign.ErrAlreadyActive):
		s.sendError(w, http.StatusConflict, "Campaign is already being processed")
	case errors.Is(err, campaign.ErrNoPendingContacts):
		s.sendError(w, http.StatusConflict, "Campaign has no pending contacts")
	case errors.Is(err, campaign.ErrChannelDisconnected):
		s.sendError(w, http.StatusConflict, "Channel is not connected")
	case errors.Is(err, campaign.ErrQuotaExceeded):
		s.sendError(w, http.StatusForbidden, "Message quota exceeded")
	default:
		s.logger.Error("campaign operation failed", "error", err)
		s.sendError(w, http.StatusServiceUnavailable, "Operation failed")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) sendValidationError(w http.ResponseWriter, msg string, fields []string) {
	s.sendJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: msg, Fields: fields})
}
