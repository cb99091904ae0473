package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/response"
)

// VerificationHandler serves public and employer certificate checks.
type VerificationHandler struct {
	verifier *services.VerificationService
}

func NewVerificationHandler(verifier *services.VerificationService) *VerificationHandler {
	return &VerificationHandler{verifier: verifier}
}

// POST /api/certificates/:id/verify and /api/certificates/verify/:id
func (h *VerificationHandler) VerifyByID(c *gin.Context) {
	h.verify(c, services.VerifyRequest{Identifier: c.Param("id"), By: services.LookupByID})
}

// POST /api/certificates/verify-by-hash/:hash
func (h *VerificationHandler) VerifyByHash(c *gin.Context) {
	h.verify(c, services.VerifyRequest{Identifier: c.Param("hash"), By: services.LookupByHash})
}

// POST /api/certificates/employer/:id/verify
func (h *VerificationHandler) EmployerVerify(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}
	h.verify(c, services.VerifyRequest{
		Identifier: c.Param("id"),
		By:         services.LookupByID,
		Verifier:   &principal,
	})
}

// GET /api/employer/verification-history
func (h *VerificationHandler) History(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	history, err := h.verifier.History(requestContext(c), principal.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

func (h *VerificationHandler) verify(c *gin.Context, req services.VerifyRequest) {
	result, err := h.verifier.Verify(requestContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
