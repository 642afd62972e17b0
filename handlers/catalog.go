package handlers

import (
	"context"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/gin-gonic/gin"
)

// createHandler binds In and answers 201 with fn's result.
func createHandler[In any, Out any](adminOnly bool, fn func(context.Context, *In) (*Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminOnly && !requireAdmin(c) {
			return
		}
		if !adminOnly && !requireSession(c) {
			return
		}
		var input In
		if !bindJSON(c, &input) {
			return
		}
		out, err := fn(c.Request.Context(), &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func getHandler[Out any](fn func(context.Context, int) (*Out, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		out, err := fn(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func listResourceHandler[T models.Resource]() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		rows, err := models.ListAllResource[T](c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		var filter models.ProductFilter
		if v, err := strconv.Atoi(c.Query("warehouse_id")); err == nil {
			filter.WarehouseId = &v
		}
		if v := c.Query("status"); v != "" {
			status := models.ApprovalStatus(v)
			filter.Status = &status
		}
		filter.LowStock = c.Query("low_stock") == "true"
		products, err := models.ListProducts(c.Request.Context(), filter)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.ProductUpdate
		if !bindJSON(c, &input) {
			return
		}
		product, err := models.UpdateProduct(c.Request.Context(), id, &input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func processProductHandler() gin.HandlerFunc {
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
		product, err := models.ProcessProduct(c.Request.Context(), id, req.Action)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func setProductSuppliersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req struct {
			Suppliers []models.NewProductSupplier `json:"suppliers"`
		}
		if !bindJSON(c, &req) {
			return
		}
		product, err := models.SetProductSuppliers(c.Request.Context(), id, req.Suppliers)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func deleteProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSession(c) {
			return
		}
		id, ok := pathId(c)
		if !ok {
			return
		}
		product, err := models.DeleteProduct(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}
