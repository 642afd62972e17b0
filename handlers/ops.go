package handlers

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/stock_backend/config"
	"bitbucket.org/mmdatafocus/stock_backend/middlewares"
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"bitbucket.org/mmdatafocus/stock_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func ledgerHandler(rebuild bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		ctx := c.Request.Context()
		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		var drifts []models.LedgerDrift
		var err error
		if rebuild {
			drifts, err = models.RebuildLedger(ctx, businessId)
		} else {
			drifts, err = models.VerifyLedger(ctx, businessId)
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		if rebuild && len(drifts) > 0 {
			config.GetLogger().WithFields(logrus.Fields{
				"field":       "Ledger",
				"business_id": businessId,
				"corrected":   len(drifts),
			}).Warn("ledger rebuilt")
		}
		c.JSON(http.StatusOK, gin.H{"consistent": len(drifts) == 0, "drifts": drifts})
	}
}

func notificationsHandler(replay bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		refType := models.ReferenceType(c.Param("referenceType"))
		refId, err := strconv.Atoi(c.Param("referenceId"))
		if err != nil || refId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference id"})
			return
		}
		var records []*models.NotificationRecord
		if replay {
			records, err = models.ReplayNotifications(c.Request.Context(), refType, refId)
		} else {
			records, err = models.ListNotifications(c.Request.Context(), refType, refId)
		}
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		token, _ := utils.GetTokenFromContext(c.Request.Context())
		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := middlewares.RevokeSession(c.Request.Context(), claims); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "logged out"})
	}
}
