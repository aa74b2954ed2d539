package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers provides HTTP handlers for authentication endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates authentication HTTP handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers authentication routes on the given group
func (h *Handlers) RegisterRoutes(group *gin.RouterGroup, jwtManager *JWTManager) {
	group.POST("/login", h.Login)

	protected := group.Group("")
	protected.Use(Middleware(jwtManager))
	protected.GET("/me", h.Me)
	protected.POST("/change-password", h.ChangePassword)
}

// Login handles POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "email and password are required",
		})
		return
	}

	resp, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "login failed",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me handles GET /api/auth/me
func (h *Handlers) Me(c *gin.Context) {
	user, err := h.service.GetUser(c.Request.Context(), GetUserID(c))
	if err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to load user",
		})
		return
	}

	c.JSON(http.StatusOK, user)
}

// ChangePassword handles POST /api/auth/change-password
func (h *Handlers) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "current and new passwords are required",
		})
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), GetUserID(c), req); err != nil {
		var authErr AuthError
		if errors.As(err, &authErr) {
			status := http.StatusBadRequest
			if authErr.Code == ErrInvalidCredentials.Code {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{
				"error":   authErr.Code,
				"message": authErr.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to change password",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
