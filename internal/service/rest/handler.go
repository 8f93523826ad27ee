// Package rest реализует HTTP API каталога брендов и товаров поверх gin.
package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/metrics"
)

// Catalog — операции каталога, которые использует HTTP-слой.
type Catalog interface {
	CreateBrand(ctx context.Context, name string) (domain.Brand, error)
	UpdateBrand(ctx context.Context, id int64, name string) (domain.Brand, error)
	DeleteBrand(ctx context.Context, id int64) error
	ListBrands(ctx context.Context) ([]domain.Brand, error)
	GetBrand(ctx context.Context, id int64) (domain.Brand, error)

	CreateProduct(ctx context.Context, brandID int64, category domain.Category, price int64) (domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, price int64) (domain.Product, error)
	UpdateProductByBrandAndCategory(ctx context.Context, brandID int64, category domain.Category, price int64) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	ListProductsByBrand(ctx context.Context, brandID int64) ([]domain.Product, error)

	FindLowestPriceByAllCategories(ctx context.Context) (domain.LowestPriceTable, error)
	FindLowestPriceByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error)
	FindHighestPriceByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error)
	FindBrandWithLowestTotalPrice(ctx context.Context) (domain.BrandTotal, error)
	ListBrandTotals(ctx context.Context) ([]domain.BrandTotal, error)
}

// Handler обслуживает маршруты /api/brands и /api/products.
type Handler struct {
	catalog        Catalog
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	metrics        *metrics.HTTPMetrics
	logger         *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key для POST-запросов.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithMetrics подключает метрики запросов.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт HTTP-обработчик каталога.
func NewHandler(catalog Catalog, options ...Option) *Handler {
	h := &Handler{
		catalog:        catalog,
		idempotencyTTL: domain.DefaultIdempotencyTTL,
		logger:         log.WithField("component", "rest"),
	}
	for _, option := range options {
		option(h)
	}
	return h
}

func pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeErrorMessage(c, http.StatusBadRequest, name+": must be a positive integer, got "+strconv.Quote(raw))
		return 0, false
	}
	return id, true
}
