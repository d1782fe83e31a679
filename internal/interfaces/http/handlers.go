package http

import (
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/garyjia/portal-workflow/internal/application/workflow"
	"github.com/garyjia/portal-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/portal-workflow/internal/domain/workflow"
	"github.com/garyjia/portal-workflow/pkg/utils"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
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

// SubmitApplicationBody is the body of POST /api/v1/applications
type SubmitApplicationBody struct {
	ID               string     `json:"id"`
	OwnerUserID      string     `json:"owner_user_id" binding:"required"`
	SupervisorUserID string     `json:"supervisor_user_id" binding:"required"`
	Category         int        `json:"category" binding:"required"`
	ScheduledEndAt   *time.Time `json:"scheduled_end_at"`
}

// SubmitCertificateBody is the body of POST /api/v1/certificates
type SubmitCertificateBody struct {
	ID               string `json:"id"`
	OwnerUserID      string `json:"owner_user_id" binding:"required"`
	SupervisorUserID string `json:"supervisor_user_id" binding:"required"`
	Category         int    `json:"category"`
	Media            string `json:"media" binding:"required"`
}

// ApplicationActionBody is the body of POST /api/v1/applications/:id/actions
type ApplicationActionBody struct {
	Action      string `json:"action" binding:"required"`
	ActorUserID string `json:"actor_user_id" binding:"required"`
	SchoolCheck bool   `json:"school_check"`
}

// IssuanceActionBody is the body of POST /api/v1/certificates/:id/actions
type IssuanceActionBody struct {
	ButtonID    *int   `json:"button_id" binding:"required"`
	ActorUserID string `json:"actor_user_id" binding:"required"`
}

// UserBody is the body of PUT /api/v1/users/:id
type UserBody struct {
	Role  string `json:"role" binding:"required"`
	Name  string `json:"name"`
	Email string `json:"email"`
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

// SubmitApplication handles POST /api/v1/applications
func (h *Handlers) SubmitApplication(c *gin.Context) {
	var body SubmitApplicationBody
	if !h.bind(c, &body) {
		return
	}

	inst, err := h.services.Engine.SubmitApplication(c.Request.Context(), workflow.SubmitApplicationRequest{
		ID:               body.ID,
		OwnerUserID:      body.OwnerUserID,
		SupervisorUserID: body.SupervisorUserID,
		Category:         body.Category,
		ScheduledEndAt:   body.ScheduledEndAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// SubmitCertificate handles POST /api/v1/certificates
func (h *Handlers) SubmitCertificate(c *gin.Context) {
	var body SubmitCertificateBody
	if !h.bind(c, &body) {
		return
	}

	inst, err := h.services.Engine.SubmitCertificate(c.Request.Context(), workflow.SubmitCertificateRequest{
		ID:               body.ID,
		OwnerUserID:      body.OwnerUserID,
		SupervisorUserID: body.SupervisorUserID,
		Category:         body.Category,
		Media:            body.Media,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// GetApplication handles GET /api/v1/applications/:id
func (h *Handlers) GetApplication(c *gin.Context) {
	h.getInstance(c, entity.KindApplication)
}

// GetCertificate handles GET /api/v1/certificates/:id
func (h *Handlers) GetCertificate(c *gin.Context) {
	h.getInstance(c, entity.KindCertificate)
}

func (h *Handlers) getInstance(c *gin.Context, kind entity.Kind) {
	inst, err := h.services.Engine.GetInstance(c.Request.Context(), entity.InstanceRef{Kind: kind, ID: c.Param("id")})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// ApplicationHistory handles GET /api/v1/applications/:id/history
func (h *Handlers) ApplicationHistory(c *gin.Context) {
	h.history(c, entity.KindApplication)
}

// CertificateHistory handles GET /api/v1/certificates/:id/history
func (h *Handlers) CertificateHistory(c *gin.Context) {
	h.history(c, entity.KindCertificate)
}

func (h *Handlers) history(c *gin.Context, kind entity.Kind) {
	records, err := h.services.Engine.History(c.Request.Context(), entity.InstanceRef{Kind: kind, ID: c.Param("id")})
	if err != nil {
		h.fail(c, err)
		return
	}
	if records == nil {
		records = []*entity.TransitionHistory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// ApplyApplication handles POST /api/v1/applications/:id/actions
func (h *Handlers) ApplyApplication(c *gin.Context) {
	var body ApplicationActionBody
	if !h.bind(c, &body) {
		return
	}

	action, err := domainwf.ParseAction(body.Action)
	if err != nil {
		h.fail(c, err)
		return
	}

	result, err := h.services.Engine.ApplyApplication(c.Request.Context(), c.Param("id"), workflow.ApplicationCommand{
		Action:      action,
		ActorUserID: body.ActorUserID,
		SchoolCheck: body.SchoolCheck,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ApplyIssuance handles POST /api/v1/certificates/:id/actions
func (h *Handlers) ApplyIssuance(c *gin.Context) {
	var body IssuanceActionBody
	if !h.bind(c, &body) {
		return
	}

	result, err := h.services.Engine.ApplyIssuance(c.Request.Context(), c.Param("id"), workflow.IssuanceCommand{
		Button:      domainwf.Button(*body.ButtonID),
		ActorUserID: body.ActorUserID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// DeleteApplication handles DELETE /api/v1/applications/:id?actor_user_id=
func (h *Handlers) DeleteApplication(c *gin.Context) {
	if err := h.services.Engine.DeleteApplication(c.Request.Context(), c.Param("id"), c.Query("actor_user_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// DeleteCertificate handles DELETE /api/v1/certificates/:id?actor_user_id=
func (h *Handlers) DeleteCertificate(c *gin.Context) {
	if err := h.services.Engine.DeleteCertificate(c.Request.Context(), c.Param("id"), c.Query("actor_user_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListNotifications handles GET /api/v1/notifications?user_id=
func (h *Handlers) ListNotifications(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id is required"})
		return
	}

	rows, err := h.services.Ledger.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rows == nil {
		rows = []*entity.Notification{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rows})
}

// PutUser handles PUT /api/v1/users/:id
func (h *Handlers) PutUser(c *gin.Context) {
	var body UserBody
	if !h.bind(c, &body) {
		return
	}

	id := c.Param("id")
	if err := utils.ValidateUserID(id); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if err := utils.ValidateOneOf("role", body.Role, entity.RoleStudent, entity.RoleTeacher, entity.RoleOffice); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if body.Email != "" {
		if err := utils.ValidateEmail(body.Email); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
	}

	user := &entity.User{ID: id, Role: body.Role, Name: utils.SanitizeString(body.Name), Email: body.Email}
	if err := h.services.Users.Create(c.Request.Context(), user); err != nil {
		h.logger.Error("Failed to save user", "user_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to save user"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: user})
}

// RunBatch handles POST /api/v1/batch/run
func (h *Handlers) RunBatch(c *gin.Context) {
	report, err := h.services.Batch.RunOnce(c.Request.Context())
	if err != nil {
		h.logger.Error("Batch run failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Data: report, Error: err.Error()})
		return
	}
	if report == nil {
		c.JSON(http.StatusConflict, Response{Success: false, Error: "batch already running"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

func (h *Handlers) bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps the workflow error taxonomy to a status code
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "status", status, "error", err)
		msg = http.StatusText(status)
	}
	c.JSON(status, Response{Success: false, Error: msg})
}

// StatusFor returns the HTTP status for a workflow error
func StatusFor(err error) int {
	switch {
	case domainwf.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domainwf.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrNotificationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
