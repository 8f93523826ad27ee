package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) listProductsByBrand(c *gin.Context) {
	brandID, ok := pathID(c, "brandId")
	if !ok {
		return
	}
	products, err := h.catalog.ListProductsByBrand(c.Request.Context(), brandID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) createProduct(c *gin.Context) {
	brandID, ok := pathID(c, "brandId")
	if !ok {
		return
	}
	price, req, ok := bindProduct(c)
	if !ok {
		return
	}
	category, err := domain.ParseCategory(req.Category)
	if err != nil {
		h.writeError(c, err)
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), brandID, category, price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

// updateProduct меняет цену товара; категория в теле игнорируется.
func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	price, _, ok := bindProduct(c)
	if !ok {
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), id, price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) updateProductByBrandAndCategory(c *gin.Context) {
	brandID, ok := pathID(c, "brandId")
	if !ok {
		return
	}
	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	price, _, ok := bindProduct(c)
	if !ok {
		return
	}

	product, err := h.catalog.UpdateProductByBrandAndCategory(c.Request.Context(), brandID, category, price)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) lowestByAllCategories(c *gin.Context) {
	table, err := h.catalog.FindLowestPriceByAllCategories(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLowestPriceResponse(table))
}

// categoryPrices отвечает всеми брендами с минимальной и максимальной ценой категории.
func (h *Handler) categoryPrices(c *gin.Context) {
	category, err := domain.ParseCategory(c.Param("category"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	lowest, err := h.catalog.FindLowestPriceByCategory(ctx, category)
	if err != nil {
		h.writeError(c, err)
		return
	}
	highest, err := h.catalog.FindHighestPriceByCategory(ctx, category)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CategoryPriceResponse{
		Category: category.DisplayName(),
		Min:      toBrandPrices(lowest),
		Max:      toBrandPrices(highest),
	})
}

func bindProduct(c *gin.Context) (int64, ProductRequest, bool) {
	var req ProductRequest
	if !bindJSON(c, &req) {
		return 0, req, false
	}
	if req.Price == nil {
		writeErrorMessage(c, http.StatusBadRequest, "price: must not be null")
		return 0, req, false
	}
	return *req.Price, req, true
}
