package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/models"
	"github.com/charlesng35/credverify/internal/services"
	"github.com/charlesng35/credverify/pkg/errors"
	"github.com/charlesng35/credverify/pkg/response"
)

// AuthHandler manages registration, login and the current-user lookup.
type AuthHandler struct {
	users *services.UserService
	jwt   *iauth.JWTService
}

func NewAuthHandler(users *services.UserService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, jwt: jwt}
}

type registerRequest struct {
	Name        string `json:"name" validate:"required,notblank,max=128"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	Role        string `json:"role" validate:"required,oneof=student institution employer"`
	Institution string `json:"institution" validate:"omitempty,max=255"`
	InviteToken string `json:"invite_token" validate:"omitempty,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token               string       `json:"token"`
	ExpiresIn           int          `json:"expires_in"`
	User                *models.User `json:"user"`
	ClaimedCertificates int64        `json:"claimed_certificates,omitempty"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	role, _ := models.ParseRole(req.Role)
	result, err := h.users.Register(requestContext(c), services.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Role:        role,
		Institution: req.Institution,
		InviteToken: req.InviteToken,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, err := h.issueToken(result.User)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	payload.ClaimedCertificates = result.ClaimedCertificates
	response.Created(c, payload)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Email, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	payload, err := h.issueToken(user)
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := requirePrincipal(c)
	if !ok {
		return
	}

	user, err := h.users.GetByID(requestContext(c), principal.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

func (h *AuthHandler) issueToken(user *models.User) (authResponse, error) {
	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
	})
	if err != nil {
		return authResponse{}, err
	}
	return authResponse{
		Token:     token,
		ExpiresIn: int(h.jwt.TTL().Seconds()),
		User:      user,
	}, nil
}
