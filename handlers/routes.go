package handlers

import (
	"bitbucket.org/mmdatafocus/stock_backend/models"
	"github.com/gin-gonic/gin"
)

// Register mounts the REST surface under r.
func Register(r gin.IRouter) {
	r.POST("/session/logout", logoutHandler())

	r.POST("/branches", createHandler(true, models.CreateBranch))
	r.GET("/branches", listResourceHandler[models.Branch]())
	r.GET("/branches/:id", getHandler(models.GetBranch))
	r.POST("/warehouses", createHandler(true, models.CreateWarehouse))
	r.GET("/warehouses", listResourceHandler[models.Warehouse]())
	r.POST("/departments", createHandler(true, models.CreateDepartment))
	r.GET("/departments", listResourceHandler[models.Department]())
	r.POST("/suppliers", createHandler(false, models.CreateSupplier))
	r.GET("/suppliers", listResourceHandler[models.Supplier]())
	r.GET("/suppliers/:id", getHandler(models.GetSupplier))
	r.POST("/users", createHandler(true, models.CreateUser))
	r.GET("/users", listResourceHandler[models.User]())

	products := r.Group("/products")
	products.POST("", createHandler(false, models.CreateProduct))
	products.GET("", listProductsHandler())
	products.GET("/:id", getHandler(models.GetProduct))
	products.PUT("/:id", updateProductHandler())
	products.POST("/:id/process", processProductHandler())
	products.PUT("/:id/suppliers", setProductSuppliersHandler())
	products.DELETE("/:id", deleteProductHandler())

	txns := r.Group("/transactions")
	txns.POST("", createTransactionHandler())
	txns.GET("", listTransactionsHandler())
	txns.GET("/:id", getTransactionHandler())
	txns.POST("/:id/process", processTransactionHandler())
	txns.POST("/:id/pay", markTransactionPaidHandler())

	forms := r.Group("/stock-forms")
	forms.POST("", createStockFormHandler())
	forms.GET("", listStockFormsHandler())
	forms.GET("/:id", getStockFormHandler())
	forms.POST("/:id/process", processStockFormHandler())

	orders := r.Group("/purchase-orders")
	orders.POST("", createPurchaseOrderHandler())
	orders.GET("", listPurchaseOrdersHandler())
	orders.GET("/:id", getPurchaseOrderHandler())
	orders.POST("/:id/receive", receivePurchaseOrderHandler())
	orders.POST("/:id/cancel", cancelPurchaseOrderHandler())

	requests := r.Group("/procurement-requests")
	requests.POST("", createProcurementRequestHandler())
	requests.GET("", listProcurementRequestsHandler())
	requests.PATCH("/bulk", bulkUpdateProcurementRequestsHandler())
	requests.GET("/:id", getHandler(models.GetProcurementRequest))
	requests.PATCH("/:id", updateProcurementRequestHandler())
	requests.POST("/:id/deliver", deliverProcurementRequestHandler())

	r.GET("/ledger/verify", ledgerHandler(false))
	r.POST("/ledger/rebuild", ledgerHandler(true))
	r.GET("/notifications/:referenceType/:referenceId", notificationsHandler(false))
	r.POST("/notifications/:referenceType/:referenceId/replay", notificationsHandler(true))
}
