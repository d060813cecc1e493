package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"approval-matrix-service/internal/middleware"
	"approval-matrix-service/internal/services"
)

// writeError maps service errors to a status and a stable code the UI can switch on.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, services.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrNoMatch):
		status, code = http.StatusUnprocessableEntity, "no_match"
	case errors.Is(err, services.ErrInvalidLevel):
		status, code = http.StatusBadRequest, "invalid_level"
	case errors.Is(err, services.ErrUnauthorizedApprover):
		status, code = http.StatusForbidden, "unauthorized_approver"
	case errors.Is(err, services.ErrAlreadyDecided):
		status, code = http.StatusConflict, "already_decided"
	case errors.Is(err, services.ErrStorageTimeout):
		status, code = http.StatusServiceUnavailable, "storage_timeout"
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "An internal error occurred", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": "validation_error"})
}

func actorID(c *gin.Context) string {
	return c.GetString(middleware.ActorKey)
}
