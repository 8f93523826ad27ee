package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/brandcatalog/internal/cache"
	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/metrics"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/brandcatalog/internal/service/retry"
	"github.com/vladislavdragonenkov/brandcatalog/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	catalog  *catalog.Service
	idem     domain.IdempotencyRepository
	registry *prometheus.Registry
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewCatalog()
	logger := quietLogger()
	svc := catalog.New(
		memory.NewBrandRepository(store),
		memory.NewProductRepository(store),
		memory.NewPriceQueries(store),
		catalog.WithCache(cache.New(cache.NewLocalBackend(100, time.Minute), cache.WithLogger(logger))),
		catalog.WithRetrier(retry.New(retry.Config{MaxAttempts: 3, Backoff: time.Millisecond}, retry.WithLogger(logger))),
		catalog.WithLogger(logger),
	)

	registry := prometheus.NewRegistry()
	idem := memory.NewIdempotencyRepository()
	handler := NewHandler(svc,
		WithIdempotency(idem, time.Hour),
		WithMetrics(metrics.NewHTTPMetricsWithRegisterer(registry)),
		WithLogger(logger),
	)

	return &testEnv{router: NewRouter(handler), handler: handler, catalog: svc, idem: idem, registry: registry}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func (e *testEnv) seedBrand(t *testing.T, name string, prices ...int64) domain.Brand {
	t.Helper()

	ctx := context.Background()
	brand, err := e.catalog.CreateBrand(ctx, name)
	require.NoError(t, err)
	for i, price := range prices {
		_, err := e.catalog.CreateProduct(ctx, brand.ID, domain.Categories()[i], price)
		require.NoError(t, err)
	}
	return brand
}

func price(v int64) *int64 { return &v }

func TestBrandEndpoints_CRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "  Musinsa  "})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[BrandResponse](t, rec)
	assert.Equal(t, "Musinsa", created.Name)
	assert.EqualValues(t, 0, created.Version)

	rec = env.do(t, http.MethodGet, "/api/brands/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[BrandResponse](t, rec))

	rec = env.do(t, http.MethodPut, "/api/brands/1", BrandRequest{Name: "Musinsa Standard"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[BrandResponse](t, rec)
	assert.Equal(t, "Musinsa Standard", updated.Name)
	assert.EqualValues(t, 1, updated.Version)

	rec = env.do(t, http.MethodGet, "/api/brands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []BrandResponse{updated}, decode[[]BrandResponse](t, rec))

	rec = env.do(t, http.MethodDelete, "/api/brands/1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/api/brands/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	errBody := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, errBody.Status)
	assert.Equal(t, "Not Found", errBody.Error)
	assert.NotEmpty(t, errBody.Message)
	_, err := time.Parse(time.RFC3339, errBody.Timestamp)
	assert.NoError(t, err)
}

func TestBrandEndpoints_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedBrand(t, "A")

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{name: "blank name", method: http.MethodPost, target: "/api/brands", body: BrandRequest{Name: "   "}, want: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, target: "/api/brands", body: "{", want: http.StatusBadRequest},
		{name: "duplicate name", method: http.MethodPost, target: "/api/brands", body: BrandRequest{Name: "A"}, want: http.StatusConflict},
		{name: "non numeric id", method: http.MethodGet, target: "/api/brands/abc", want: http.StatusBadRequest},
		{name: "zero id", method: http.MethodDelete, target: "/api/brands/0", want: http.StatusBadRequest},
		{name: "rename missing brand", method: http.MethodPut, target: "/api/brands/42", body: BrandRequest{Name: "B"}, want: http.StatusNotFound},
		{name: "delete missing brand", method: http.MethodDelete, target: "/api/brands/42", want: http.StatusNotFound},
		{name: "no full coverage brand", method: http.MethodGet, target: "/api/brands/lowest-price", want: http.StatusNotFound},
		{name: "unknown route", method: http.MethodGet, target: "/api/unknown", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode[ErrorResponse](t, rec).Status)
		})
	}
}

func TestProductEndpoints(t *testing.T) {
	env := newTestEnv(t)
	brand := env.seedBrand(t, "A")

	rec := env.do(t, http.MethodPost, "/api/products/brand/1", ProductRequest{Category: "상의", Price: price(10000)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	top := decode[ProductResponse](t, rec)
	assert.Equal(t, ProductResponse{ID: top.ID, BrandID: brand.ID, Brand: "A", Category: "상의", CategoryCode: "TOP", Price: 10000}, top)

	rec = env.do(t, http.MethodPost, "/api/products/brand/1", ProductRequest{Category: "outer", Price: price(0)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/products/1", ProductRequest{Price: price(12000)})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[ProductResponse](t, rec)
	assert.EqualValues(t, 12000, updated.Price)
	assert.EqualValues(t, 1, updated.Version)

	rec = env.do(t, http.MethodPut, "/api/products/brand/1/category/OUTER", ProductRequest{Price: price(7000)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7000, decode[ProductResponse](t, rec).Price)

	rec = env.do(t, http.MethodGet, "/api/products/brand/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	byBrand := decode[[]ProductResponse](t, rec)
	require.Len(t, byBrand, 2)
	assert.Equal(t, "TOP", byBrand[0].CategoryCode)
	assert.Equal(t, "OUTER", byBrand[1].CategoryCode)

	rec = env.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ProductResponse](t, rec), 2)

	rec = env.do(t, http.MethodDelete, "/api/products/2", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/products/2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductEndpoints_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedBrand(t, "A", 10000)

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{name: "missing price", method: http.MethodPost, target: "/api/products/brand/1", body: ProductRequest{Category: "TOP"}, want: http.StatusBadRequest},
		{name: "negative price", method: http.MethodPost, target: "/api/products/brand/1", body: ProductRequest{Category: "BAG", Price: price(-1)}, want: http.StatusBadRequest},
		{name: "missing category", method: http.MethodPost, target: "/api/products/brand/1", body: ProductRequest{Price: price(100)}, want: http.StatusBadRequest},
		{name: "unknown category", method: http.MethodPost, target: "/api/products/brand/1", body: ProductRequest{Category: "SHIRT", Price: price(100)}, want: http.StatusBadRequest},
		{name: "unknown brand", method: http.MethodPost, target: "/api/products/brand/9", body: ProductRequest{Category: "BAG", Price: price(100)}, want: http.StatusNotFound},
		{name: "duplicate category", method: http.MethodPost, target: "/api/products/brand/1", body: ProductRequest{Category: "TOP", Price: price(100)}, want: http.StatusConflict},
		{name: "update negative price", method: http.MethodPut, target: "/api/products/1", body: ProductRequest{Price: price(-5)}, want: http.StatusBadRequest},
		{name: "update missing product", method: http.MethodPut, target: "/api/products/77", body: ProductRequest{Price: price(5)}, want: http.StatusNotFound},
		{name: "update by empty category", method: http.MethodPut, target: "/api/products/brand/1/category/BAG", body: ProductRequest{Price: price(5)}, want: http.StatusNotFound},
		{name: "update by invalid category", method: http.MethodPut, target: "/api/products/brand/1/category/SHIRT", body: ProductRequest{Price: price(5)}, want: http.StatusBadRequest},
		{name: "update by missing brand", method: http.MethodPut, target: "/api/products/brand/9/category/TOP", body: ProductRequest{Price: price(5)}, want: http.StatusNotFound},
		{name: "list by missing brand", method: http.MethodGet, target: "/api/products/brand/9", want: http.StatusNotFound},
		{name: "prices of invalid category", method: http.MethodGet, target: "/api/products/category/SHIRT", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPriceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seedBrand(t, "A", 11200, 5500, 4200, 9000, 2000, 1700, 1800, 2300)
	env.seedBrand(t, "B", 10500, 5900, 3800, 9100, 2100, 2000, 2000, 2200)
	env.seedBrand(t, "C", 10000, 6200)
	env.seedBrand(t, "D", 11200)

	t.Run("single brand cheapest outfit", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/brands/lowest-price", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[SingleBrandResponse](t, rec)
		assert.Equal(t, "B", got.Brand)
		assert.EqualValues(t, 37600, got.TotalPrice)
		assert.Equal(t, "37,600원", got.FormattedTotalPrice)
		require.Len(t, got.Items, domain.CategoryCount)
		assert.Equal(t, Item{Category: "상의", Price: 10500, FormattedPrice: "10,500원"}, got.Items[0])
	})

	t.Run("all brand totals ascending", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/brands/totals", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[[]SingleBrandResponse](t, rec)
		require.Len(t, got, 2)
		assert.Equal(t, "B", got[0].Brand)
		assert.Equal(t, "A", got[1].Brand)
		assert.EqualValues(t, 37700, got[1].TotalPrice)
	})

	t.Run("lowest price per category", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/products/lowest-price", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		got := decode[LowestPriceResponse](t, rec)
		require.Len(t, got.Categories, domain.CategoryCount)
		assert.Equal(t, CategoryBrandPrice{
			Category:            "TOP",
			CategoryDisplayName: "상의",
			BrandName:           "C",
			Price:               10000,
			FormattedPrice:      "10,000",
		}, got.Categories[0])
		assert.Equal(t, "B", got.Categories[2].BrandName)
		assert.EqualValues(t, 36000, got.TotalPrice)
		assert.Equal(t, "36,000", got.FormattedTotalPrice)
	})

	t.Run("min and max of category by display name", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/products/category/"+url.PathEscape("상의"), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got := decode[CategoryPriceResponse](t, rec)
		assert.Equal(t, "상의", got.Category)
		assert.Equal(t, []BrandPrice{{Brand: "C", Price: 10000, FormattedPrice: "10,000"}}, got.Min)
		assert.Equal(t, []BrandPrice{
			{Brand: "A", Price: 11200, FormattedPrice: "11,200"},
			{Brand: "D", Price: 11200, FormattedPrice: "11,200"},
		}, got.Max)
	})

	t.Run("price change is visible through cached reads", func(t *testing.T) {
		rec := env.do(t, http.MethodPut, "/api/products/brand/2/category/TOP", ProductRequest{Price: price(9000)})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/products/category/TOP", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[CategoryPriceResponse](t, rec)
		assert.Equal(t, []BrandPrice{{Brand: "B", Price: 9000, FormattedPrice: "9,000"}}, got.Min)

		rec = env.do(t, http.MethodGet, "/api/brands/lowest-price", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 36100, decode[SingleBrandResponse](t, rec).TotalPrice)
	})
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/brands", nil, requestIDHeader, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	rec = env.do(t, http.MethodGet, "/api/brands", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/brands/1", nil)
	env.do(t, http.MethodGet, "/api/brands/2", nil)

	families, err := env.registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != "catalog_http_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" {
					assert.Equal(t, "/api/brands/:id", label.GetValue())
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	assert.EqualValues(t, 2, total)
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		price int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{10000, "10,000"},
		{36100, "36,100"},
		{1234567, "1,234,567"},
		{-45000, "-45,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPrice(tt.price), "price %d", tt.price)
	}
	assert.Equal(t, "36,100원", formatWon(36100))
}
