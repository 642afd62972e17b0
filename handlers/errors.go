package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, utils.ErrBusinessIdRequired):
		return http.StatusUnauthorized
	case errors.Is(err, utils.ErrPermissionDenied), errors.Is(err, utils.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrInsufficientStock),
		errors.Is(err, utils.ErrInvalidState),
		errors.Is(err, utils.ErrOverReceipt),
		errors.Is(err, utils.ErrLockNotObtained):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorCode is the stable machine-readable name of a taxonomy error.
func errorCode(err error) string {
	switch {
	case errors.Is(err, utils.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, utils.ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, utils.ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, utils.ErrUnknownReference):
		return "UNKNOWN_REFERENCE"
	case errors.Is(err, utils.ErrOverReceipt):
		return "OVER_RECEIPT"
	case errors.Is(err, utils.ErrValidation):
		return "VALIDATION"
	case errors.Is(err, utils.ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, utils.ErrBusinessIdRequired):
		return "UNAUTHORIZED"
	}
	return "INTERNAL"
}

func abortWithError(c *gin.Context, err error) {
	status := StatusFor(err)
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "Handlers", c.FullPath(), "operation failed", cid, err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error", "code": errorCode(err), "correlation_id": cid})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": errorCode(err), "correlation_id": cid})
}

func requireSession(c *gin.Context) bool {
	if businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context()); !ok || businessId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}

// requireAdmin guards tenant setup endpoints.
func requireAdmin(c *gin.Context) bool {
	if !requireSession(c) {
		return false
	}
	actor, err := models.ActorFromContext(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return false
	}
	if !actor.IsAdmin() {
		abortWithError(c, utils.ErrPermissionDenied)
		return false
	}
	return true
}
