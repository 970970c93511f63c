package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/internal/application/service"
	"github.com/danyuan/approvalflow/internal/application/workflow"
	"github.com/danyuan/approvalflow/internal/domain/entity"
	domainwf "github.com/danyuan/approvalflow/internal/domain/workflow"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine          workflow.Engine
	requestRepo     port.RequestRepository
	historyRepo     port.HistoryRepository
	templateService service.TemplateService
	logger          Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.Engine,
	requestRepo port.RequestRepository,
	historyRepo port.HistoryRepository,
	templateService service.TemplateService,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:          engine,
		requestRepo:     requestRepo,
		historyRepo:     historyRepo,
		templateService: templateService,
		logger:          logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// SubmitRequestBody is the payload for POST /api/v1/requests
type SubmitRequestBody struct {
	TemplateID  string          `json:"template_id" binding:"required"`
	RequestType string          `json:"request_type" binding:"required"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// DecisionBody is the payload for POST /api/v1/requests/:id/decision
type DecisionBody struct {
	Action string `json:"action" binding:"required"`
}

// StepBody is one step of a template creation payload. Required defaults to
// true when omitted.
type StepBody struct {
	StepID           string   `json:"step_id" binding:"required"`
	Order            int      `json:"order"`
	RequiredRole     string   `json:"required_role" binding:"required"`
	PermittedActions []string `json:"permitted_actions" binding:"required"`
	SLAHours         int      `json:"sla_hours"`
	Required         *bool    `json:"required"`
	EscalateTo       string   `json:"escalate_to"`
}

// CreateTemplateBody is the payload for POST /api/v1/templates
type CreateTemplateBody struct {
	Name              string              `json:"name" binding:"required"`
	Steps             []StepBody          `json:"steps" binding:"required"`
	Active            *bool               `json:"active"`
	NotificationRoles map[string][]string `json:"notification_roles,omitempty"`
}

// ListRequestsQuery represents query parameters for listing requests
type ListRequestsQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// SubmitRequest handles POST /api/v1/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var body SubmitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := actorFrom(c)
	request, err := h.engine.Submit(c.Request.Context(), workflow.SubmitInput{
		TemplateID:  body.TemplateID,
		RequestType: body.RequestType,
		Payload:     body.Payload,
		SubmitterID: actor.UserID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: request})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	request, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: request})
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var query ListRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	requests, err := h.requestRepo.List(c.Request.Context(), query.Limit, query.Offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: requests})
}

// GetRequestHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetRequestHistory(c *gin.Context) {
	// Resolve the request first so a missing ID yields 404 rather than an
	// empty history
	if _, err := h.engine.Get(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	history, err := h.historyRepo.ListByRequestID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// DecideRequest handles POST /api/v1/requests/:id/decision
func (h *Handlers) DecideRequest(c *gin.Context) {
	var body DecisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	action := entity.StepAction(body.Action)
	if !action.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "action must be approve or reject"})
		return
	}

	request, err := h.engine.Decide(c.Request.Context(), c.Param("id"), action, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: request})
}

// CancelRequest handles POST /api/v1/requests/:id/cancel
func (h *Handlers) CancelRequest(c *gin.Context) {
	request, err := h.engine.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: request})
}

// CreateTemplate handles POST /api/v1/templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var body CreateTemplateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	steps := make([]entity.StepDefinition, len(body.Steps))
	for i, s := range body.Steps {
		actions := make([]entity.StepAction, len(s.PermittedActions))
		for j, a := range s.PermittedActions {
			actions[j] = entity.StepAction(a)
		}
		required := true
		if s.Required != nil {
			required = *s.Required
		}
		steps[i] = entity.StepDefinition{
			StepID:           s.StepID,
			Order:            s.Order,
			RequiredRole:     s.RequiredRole,
			PermittedActions: actions,
			SLAHours:         s.SLAHours,
			Required:         required,
			EscalateTo:       s.EscalateTo,
		}
	}

	active := true
	if body.Active != nil {
		active = *body.Active
	}

	template, err := h.templateService.Create(c.Request.Context(), service.CreateTemplateInput{
		Name:              body.Name,
		Steps:             steps,
		Active:            active,
		NotificationRoles: body.NotificationRoles,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: template})
}

// GetTemplate handles GET /api/v1/templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	template, err := h.templateService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: template})
}

// ListTemplates handles GET /api/v1/templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	templates, err := h.templateService.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// ActivateTemplate handles POST /api/v1/templates/:id/activate
func (h *Handlers) ActivateTemplate(c *gin.Context) {
	h.setTemplateActive(c, true)
}

// DeactivateTemplate handles POST /api/v1/templates/:id/deactivate
func (h *Handlers) DeactivateTemplate(c *gin.Context) {
	h.setTemplateActive(c, false)
}

func (h *Handlers) setTemplateActive(c *gin.Context, active bool) {
	if err := h.templateService.SetActive(c.Request.Context(), c.Param("id"), active); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// respondError maps engine and service errors to HTTP status codes
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domainwf.ErrNotFound), errors.Is(err, domainwf.ErrTemplateNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domainwf.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domainwf.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domainwf.ErrActionNotPermitted), errors.Is(err, domainwf.ErrTemplateInactive):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidTemplate):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}

	c.JSON(status, Response{Success: false, Error: err.Error()})
}
