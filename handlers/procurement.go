package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/gin-gonic/gin"
)

type bulkProcurementRequest struct {
	Ids    []int                    `json:"ids"`
	Status models.ProcurementStatus `json:"status"`
}

func createPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input models.NewPurchaseOrder
		if !bindJSON(c, &input) {
			return
		}
		order, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, order)
	}
}

func receivePurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req struct {
			Items []models.ReceiveLine `json:"items"`
		}
		if !bindJSON(c, &req) {
			return
		}
		result, err := models.ReceivePurchaseOrder(c.Request.Context(), id, req.Items)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func cancelPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.CancelPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func getPurchaseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		order, err := models.GetPurchaseOrder(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func listPurchaseOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var status *models.PurchaseOrderStatus
		if v := c.Query("status"); v != "" {
			s := models.PurchaseOrderStatus(v)
			status = &s
		}
		orders, err := models.ListPurchaseOrders(c.Request.Context(), status)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

func createProcurementRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input models.NewProcurementRequest
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.CreateProcurementRequest(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, request)
	}
}

func updateProcurementRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.ProcurementRequestUpdate
		if !bindJSON(c, &input) {
			return
		}
		request, err := models.UpdateProcurementRequest(c.Request.Context(), id, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func deliverProcurementRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		request, err := models.DeliverProcurementRequest(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
	}
}

func bulkUpdateProcurementRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var req bulkProcurementRequest
		if !bindJSON(c, &req) {
			return
		}
		result, err := models.BulkUpdateProcurementRequests(c.Request.Context(), req.Ids, req.Status)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func listProcurementRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var status *models.ProcurementStatus
		if v := c.Query("status"); v != "" {
			s := models.ProcurementStatus(v)
			status = &s
		}
		requests, err := models.ListProcurementRequests(c.Request.Context(), status)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, requests)
	}
}
