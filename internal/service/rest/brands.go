package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listBrands(c *gin.Context) {
	brands, err := h.catalog.ListBrands(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBrandResponses(brands))
}

func (h *Handler) getBrand(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	brand, err := h.catalog.GetBrand(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBrandResponse(brand))
}

func (h *Handler) createBrand(c *gin.Context) {
	var req BrandRequest
	if !bindJSON(c, &req) {
		return
	}
	brand, err := h.catalog.CreateBrand(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toBrandResponse(brand))
}

func (h *Handler) updateBrand(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req BrandRequest
	if !bindJSON(c, &req) {
		return
	}
	brand, err := h.catalog.UpdateBrand(c.Request.Context(), id, req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toBrandResponse(brand))
}

func (h *Handler) deleteBrand(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteBrand(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// lowestTotalBrand отвечает брендом с самым дешёвым полным комплектом.
func (h *Handler) lowestTotalBrand(c *gin.Context) {
	total, err := h.catalog.FindBrandWithLowestTotalPrice(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSingleBrandResponse(total))
}

func (h *Handler) brandTotals(c *gin.Context) {
	totals, err := h.catalog.ListBrandTotals(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]SingleBrandResponse, 0, len(totals))
	for _, total := range totals {
		out = append(out, toSingleBrandResponse(total))
	}
	c.JSON(http.StatusOK, out)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeErrorMessage(c, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
