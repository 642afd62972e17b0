package handlers

import (
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/gin-gonic/gin"
)

type processRequest struct {
	Action  models.ProcessAction `json:"action"`
	Payment *models.PaymentData  `json:"payment"`
}

type markPaidRequest struct {
	PaymentDate *time.Time `json:"payment_date"`
}

func createTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input models.NewTransaction
		if !bindJSON(c, &input) {
			return
		}
		txn, err := models.CreateTransaction(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, txn)
	}
}

func processTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req processRequest
		if !bindJSON(c, &req) {
			return
		}
		txn, err := models.ProcessTransaction(c.Request.Context(), id, req.Action)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func markTransactionPaidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req markPaidRequest
		if !bindJSON(c, &req) {
			return
		}
		txn, err := models.MarkTransactionPaid(c.Request.Context(), id, req.PaymentDate)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func getTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		txn, err := models.GetTransaction(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func listTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var filter models.TransactionFilter
		if v, err := strconv.Atoi(c.Query("product_id")); err == nil {
			filter.ProductId = &v
		}
		if v, err := strconv.Atoi(c.Query("stock_form_id")); err == nil {
			filter.StockFormId = &v
		}
		if v := c.Query("status"); v != "" {
			status := models.ApprovalStatus(v)
			filter.Status = &status
		}
		if v := c.Query("origin"); v != "" {
			origin := models.MovementOrigin(v)
			filter.Origin = &origin
		}
		filter.Unpaid = c.Query("unpaid") == "true"
		txns, err := models.ListTransactions(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, txns)
	}
}

func createStockFormHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var input models.NewStockForm
		if !bindJSON(c, &input) {
			return
		}
		form, err := models.CreateStockForm(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, form)
	}
}

func processStockFormHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req processRequest
		if !bindJSON(c, &req) {
			return
		}
		form, err := models.ProcessStockForm(c.Request.Context(), id, req.Action, req.Payment)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, form)
	}
}

func getStockFormHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		form, err := models.GetStockForm(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, form)
	}
}

func listStockFormsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var status *models.ApprovalStatus
		if v := c.Query("status"); v != "" {
			s := models.ApprovalStatus(v)
			status = &s
		}
		forms, err := models.ListStockForms(c.Request.Context(), status)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, forms)
	}
}
