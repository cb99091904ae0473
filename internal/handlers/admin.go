package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/security"
	"github.com/charlesng35/credverify/internal/services"
	appErrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/response"
)

// AdminHandler serves the administrator dashboard: statistics, accounts, the outbox and audit trail.
type AdminHandler struct {
	users    *services.UserService
	outbox   *services.OutboxService
	audit    *services.AuditService
	security *security.AuditService
}

func NewAdminHandler(users *services.UserService, outbox *services.OutboxService, audit *services.AuditService, posture *security.AuditService) *AdminHandler {
	return &AdminHandler{users: users, outbox: outbox, audit: audit, security: posture}
}

// GET /api/admin/security
func (h *AdminHandler) Security(c *gin.Context) {
	response.Success(c, http.StatusOK, h.security.Run(requestContext(c)))
}

// GET /api/admin/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.users.Stats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/admin/users
func (h *AdminHandler) Users(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	var role models.Role
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		parsed, ok := models.ParseRole(raw)
		if !ok {
			response.Error(c, appErrors.NewBadRequest("unknown role"))
			return
		}
		role = parsed
	}

	users, total, err := h.users.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Role:     role,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(page, perPage, total))
}

// PATCH /api/admin/users/:id/toggle
func (h *AdminHandler) ToggleUser(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	user, err := h.users.ToggleActive(requestContext(c), principal.ID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// GET /api/admin/outbox
func (h *AdminHandler) Outbox(c *gin.Context) {
	var states []models.TaskState
	for _, raw := range strings.Split(c.Query("state"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		state, ok := models.ParseTaskState(raw)
		if !ok {
			response.Error(c, appErrors.NewBadRequest("unknown task state"))
			return
		}
		states = append(states, state)
	}

	tasks, err := h.outbox.List(requestContext(c), states, c.Query("certificate_id"), parseIntQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tasks)
}

// POST /api/admin/outbox/:id/retry
func (h *AdminHandler) RetryTask(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	task, err := h.outbox.Retry(requestContext(c), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, task)
}

// GET /api/admin/audit
func (h *AdminHandler) Audit(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("since must be an RFC 3339 timestamp"))
			return
		}
		filters.Since = &t
	}

	logs, total, err := h.audit.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: perPage, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, perPage, total))
}
