package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"embpay-license-server/internal/database"
	"embpay-license-server/internal/license"
)

// licenseRequest is the public endpoint payload. Customer software sends
// one shape for all three actions; action defaults to "verify".
type licenseRequest struct {
	Key         string `json:"key"`
	Action      string `json:"action"`
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
	ProductID   string `json:"product_id"`
}

// handleLicensePreflight answers CORS preflight for the public endpoint
func (s *Server) handleLicensePreflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// handleLicenseRequest handles POST /api/license. All validation happens
// before any store access; responses are always structured JSON because
// the caller is unattended software.
func (s *Server) handleLicenseRequest(c *gin.Context) {
	var req licenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "missing_key"})
		return
	}

	if req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "missing_key"})
		return
	}

	action := req.Action
	if action == "" {
		action = "verify"
	}

	switch action {
	case "verify":
		s.handleVerify(c, req)
	case "activate":
		if req.MachineID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_machine_id"})
			return
		}
		s.handleActivate(c, req)
	case "deactivate":
		if req.MachineID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_machine_id"})
			return
		}
		s.handleDeactivate(c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "invalid_action"})
	}
}

func (s *Server) handleVerify(c *gin.Context, req licenseRequest) {
	result, err := s.licenses.Verify(c.Request.Context(), license.VerifyRequest{
		Key:       req.Key,
		MachineID: req.MachineID,
		ProductID: req.ProductID,
	})
	if err != nil {
		s.publicInternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleActivate(c *gin.Context, req licenseRequest) {
	result, err := s.licenses.Activate(c.Request.Context(), license.ActivateRequest{
		Key:         req.Key,
		MachineID:   req.MachineID,
		MachineName: req.MachineName,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		s.publicActivationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"activation": result.Activation,
	})
}

func (s *Server) handleDeactivate(c *gin.Context, req licenseRequest) {
	err := s.licenses.Deactivate(c.Request.Context(), license.DeactivateRequest{
		Key:       req.Key,
		MachineID: req.MachineID,
	})
	if err != nil {
		s.publicActivationError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// publicActivationError maps core errors to the public wire contract
func (s *Server) publicActivationError(c *gin.Context, err error) {
	var notActive license.NotActiveError
	switch {
	case errors.Is(err, license.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
	case errors.Is(err, license.ErrActivationLimitReached):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "max_activations_reached"})
	case errors.As(err, &notActive):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": notActive.Code()})
	default:
		s.publicInternalError(c, err)
	}
}

// publicInternalError reports a store or internal failure. The shape is
// deliberately distinct from every license-invalid response so retrying
// clients never treat an outage as a dead license.
func (s *Server) publicInternalError(c *gin.Context, err error) {
	s.logger.WithError(err).Error("public license endpoint failure")
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
}

// toAdminLicense augments a license row with its activation records for
// admin detail views
type adminLicenseDetail struct {
	License     *database.License     `json:"license"`
	Activations []database.Activation `json:"activations"`
}
