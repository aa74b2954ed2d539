package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"embpay-license-server/internal/auth"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/license"
	"embpay-license-server/internal/logging"
)

// handleListLicenses handles GET /api/admin/licenses with pagination and
// filtering by status and free-text search
func (s *Server) handleListLicenses(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if limit < 1 || limit > 200 {
		limit = 25
	}

	filter := database.LicenseFilter{
		Search: c.Query("search"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	items, total, err := s.licenses.ListLicenses(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to list licenses")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"licenses": items,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

// handleGetLicense handles GET /api/admin/licenses/:id
func (s *Server) handleGetLicense(c *gin.Context) {
	lic, activations, err := s.licenses.GetLicense(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, license.ErrNotFound) {
			errorResponse(c, http.StatusNotFound, "not_found", "license not found")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to load license")
		return
	}

	successResponse(c, adminLicenseDetail{License: lic, Activations: activations})
}

// issueLicenseRequest is the admin issuance payload
type issueLicenseRequest struct {
	ProductID      string     `json:"product_id" binding:"required"`
	ProductName    string     `json:"product_name"`
	OrderID        string     `json:"order_id"`
	OwnerUserID    string     `json:"owner_user_id" binding:"required"`
	CustomerEmail  string     `json:"customer_email"`
	CustomerName   string     `json:"customer_name"`
	MaxActivations int        `json:"max_activations"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// handleIssueLicense handles POST /api/admin/licenses
func (s *Server) handleIssueLicense(c *gin.Context) {
	var req issueLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", "product_id and owner_user_id are required")
		return
	}

	lic, err := s.licenses.Issue(c.Request.Context(), license.IssueRequest{
		ProductID:      req.ProductID,
		ProductName:    req.ProductName,
		OrderID:        req.OrderID,
		OwnerUserID:    req.OwnerUserID,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
	}, s.actorFromContext(c))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to issue license")
		return
	}

	successResponse(c, lic)
}

// mutateLicenseRequest is the admin lifecycle payload
type mutateLicenseRequest struct {
	LicenseID string `json:"license_id" binding:"required"`
	Action    string `json:"action" binding:"required"`
	Reason    string `json:"reason"`
}

// handleMutateLicense handles PATCH /api/admin/licenses, applying a
// lifecycle transition (revoke, suspend, reactivate)
func (s *Server) handleMutateLicense(c *gin.Context) {
	var req mutateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid_request", "license_id and action are required")
		return
	}

	lic, err := s.licenses.Transition(c.Request.Context(), req.LicenseID, req.Action, req.Reason, s.actorFromContext(c))
	if err != nil {
		var transitionErr license.TransitionError
		switch {
		case errors.Is(err, license.ErrInvalidTransition):
			errorResponse(c, http.StatusBadRequest, "invalid_action", "unknown lifecycle action")
		case errors.Is(err, license.ErrNotFound):
			errorResponse(c, http.StatusNotFound, "not_found", "license not found")
		case errors.As(err, &transitionErr):
			errorResponse(c, http.StatusConflict, transitionErr.Code(), transitionErr.Error())
		default:
			errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to apply transition")
		}
		return
	}

	logging.AdminContext(auth.GetUserEmail(c), req.Action, req.LicenseID).Info("lifecycle transition applied")
	successResponse(c, lic)
}

// handleListAuditLogs handles GET /api/admin/audit
func (s *Server) handleListAuditLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	filter := database.AuditFilter{
		Action:     c.Query("action"),
		TargetType: c.Query("target_type"),
		TargetID:   c.Query("target_id"),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}

	entries, total, err := s.repo.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to list audit logs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entries": entries,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

// handleGetStats handles GET /api/admin/stats for the dashboard
func (s *Server) handleGetStats(c *gin.Context) {
	stats, err := s.repo.GetLicenseStats(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "internal_error", "failed to load stats")
		return
	}

	successResponse(c, stats)
}
