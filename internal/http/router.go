// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dropmart/internal/http/handlers"
	"dropmart/internal/http/middleware"
	"dropmart/internal/logger"
)

func NewRouter(deps ServerDeps) *gin.Engine {
	log := logger.OrNop(deps.Log)
	handlers.RegisterValidators()

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Timeout(deps.RequestTimeout), middleware.Auth(deps.Verifier))

	orders := handlers.NewOrderHandler(deps.Orders, deps.Pickup, log)
	api.POST("/orders", middleware.RequireRole("customer"), orders.Create)
	api.GET("/orders/:id", orders.Get)
	api.GET("/orders/:id/events", orders.Events)
	api.GET("/orders/:id/route", orders.Route)
	api.POST("/orders/:id/transitions", orders.Transition)
	api.POST("/orders/:id/pickup", middleware.RequireRole("agent"), orders.Pickup)
	api.POST("/orders/:id/payment", orders.Payment)

	inv := handlers.NewInventoryHandler(deps.Inventory, log)
	api.POST("/inventory/transactions", middleware.RequireRole("vendor", "admin"), inv.ApplyTransaction)
	api.GET("/inventory/availability", inv.Availability)
	api.GET("/inventory/stores/:storeId/low-stock", inv.LowStock)
	api.GET("/inventory/stores/:storeId/products/:productId", inv.Stock)
	api.PUT("/inventory/stores/:storeId/products/:productId/thresholds", inv.SetThresholds)
	api.GET("/inventory/stores/:storeId/products/:productId/transactions", inv.History)

	tr := handlers.NewTransferHandler(deps.Transfers, log)
	transfers := api.Group("/transfers", middleware.RequireRole("vendor", "admin"))
	transfers.POST("", tr.Create)
	transfers.GET("/:id", tr.Get)
	transfers.POST("/:id/dispatch", tr.Dispatch)
	transfers.POST("/:id/complete", tr.Complete)
	transfers.POST("/:id/cancel", tr.Cancel)

	cat := handlers.NewCatalogHandler(deps.Catalog, deps.Vendors, log)
	api.GET("/vendors/nearby", cat.Nearby)
	admin := api.Group("/admin", middleware.RequireRole("admin"))
	admin.POST("/products", cat.RegisterProduct)
	admin.POST("/vendors", cat.RegisterVendor)

	return r
}
