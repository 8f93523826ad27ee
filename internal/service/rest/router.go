package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter собирает gin.Engine с маршрутами каталога.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(AccessLog(h.logger))
	r.Use(Metrics(h.metrics))

	r.NoRoute(func(c *gin.Context) {
		writeErrorMessage(c, http.StatusNotFound, "route not found: "+c.Request.URL.Path)
	})

	api := r.Group("/api")
	{
		brands := api.Group("/brands")
		brands.GET("", h.listBrands)
		brands.POST("", h.idempotent(), h.createBrand)
		brands.GET("/lowest-price", h.lowestTotalBrand)
		brands.GET("/totals", h.brandTotals)
		brands.GET("/:id", h.getBrand)
		brands.PUT("/:id", h.updateBrand)
		brands.DELETE("/:id", h.deleteBrand)

		products := api.Group("/products")
		products.GET("", h.listProducts)
		products.GET("/lowest-price", h.lowestByAllCategories)
		products.GET("/category/:category", h.categoryPrices)
		products.GET("/brand/:brandId", h.listProductsByBrand)
		products.POST("/brand/:brandId", h.idempotent(), h.createProduct)
		products.PUT("/brand/:brandId/category/:category", h.updateProductByBrandAndCategory)
		products.GET("/:id", h.getProduct)
		products.PUT("/:id", h.updateProduct)
		products.DELETE("/:id", h.deleteProduct)
	}

	return r
}
