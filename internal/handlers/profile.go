package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/response"
)

// ProfileHandler exposes current-user account management endpoints.
type ProfileHandler struct {
	users *services.UserService
}

func NewProfileHandler(users *services.UserService) *ProfileHandler {
	return &ProfileHandler{users: users}
}

type updateProfileRequest struct {
	Name        *string `json:"name" validate:"omitempty,notblank,max=128"`
	Institution *string `json:"institution" validate:"omitempty,max=255"`
}

// PATCH /api/users/me
func (h *ProfileHandler) Update(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.UpdateProfile(requestContext(c), principal.ID, services.ProfileInput{
		Name:        req.Name,
		Institution: req.Institution,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}
