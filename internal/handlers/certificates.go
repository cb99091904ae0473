package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/services"
	appErrors "github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/response"
	appValidator "github.com/charlesng35/credverify/pkg/validator"
)

// IdempotencyHeader carries a caller-chosen key that de-duplicates retried uploads.
const IdempotencyHeader = "Idempotency-Key"

// CertificateHandler exposes issuance, listing and revocation.
type CertificateHandler struct {
	certs *services.CertificateService
}

func NewCertificateHandler(certs *services.CertificateService) *CertificateHandler {
	return &CertificateHandler{certs: certs}
}

type uploadCertificateRequest struct {
	StudentID      string  `json:"student_id" validate:"omitempty,uuid"`
	RecipientEmail string  `json:"recipient_email" validate:"omitempty,email"`
	RecipientName  string  `json:"recipient_name" validate:"omitempty,max=128"`
	Title          string  `json:"title" validate:"required,notblank,max=255"`
	Description    string  `json:"description" validate:"omitempty,max=2000"`
	CourseID       string  `json:"course_id" validate:"omitempty,max=64"`
	IssueDate      string  `json:"issue_date" validate:"required,isodate"`
	ExpiryDate     *string `json:"expiry_date" validate:"omitempty,isodate"`
}

type revokeCertificateRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// POST /api/certificates/upload
func (h *CertificateHandler) Upload(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req uploadCertificateRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.StudentID == "" && strings.TrimSpace(req.RecipientEmail) == "" {
		response.Error(c, appErrors.NewBadRequest("student_id or recipient_email is required"))
		return
	}

	issueDate, err := appValidator.ParseDate(req.IssueDate)
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("issue date must be a date in YYYY-MM-DD format"))
		return
	}
	expiry, err := parseOptionalDate("expiry date", req.ExpiryDate)
	if err != nil {
		response.Error(c, err)
		return
	}

	cert, created, err := h.certs.Issue(requestContext(c), principal, services.IssueInput{
		StudentID:      req.StudentID,
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
		Title:          req.Title,
		Description:    req.Description,
		CourseID:       req.CourseID,
		IssueDate:      issueDate,
		ExpiryDate:     expiry,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(IdempotencyHeader)),
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if !created {
		c.Header("Idempotent-Replay", "true")
		response.Success(c, http.StatusOK, cert)
		return
	}
	response.Created(c, cert)
}

// GET /api/certificates
func (h *CertificateHandler) List(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)
	var status models.CertificateStatus
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		parsed, ok := models.ParseCertificateStatus(raw)
		if !ok {
			response.Error(c, appErrors.NewBadRequest("unknown certificate status"))
			return
		}
		status = parsed
	}

	certs, total, err := h.certs.List(requestContext(c), principal, services.ListCertificatesOptions{
		Page:     page,
		PageSize: perPage,
		Status:   status,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, certs, response.NewMeta(page, perPage, total))
}

// GET /api/certificates/:id
func (h *CertificateHandler) Get(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	cert, err := h.certs.Get(requestContext(c), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, cert)
}

// POST /api/certificates/:id/revoke
func (h *CertificateHandler) Revoke(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req revokeCertificateRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	cert, err := h.certs.Revoke(requestContext(c), principal, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, cert)
}
