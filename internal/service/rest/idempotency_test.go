package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "A"}, idempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(idempotencyReplayedHeader))

	second := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "A"}, idempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	rec := env.do(t, http.MethodGet, "/api/brands", nil)
	assert.Len(t, decode[[]BrandResponse](t, rec), 1, "replay must not create a second brand")
}

func TestIdempotency_DifferentPayloadConflicts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "A"}, idempotencyKeyHeader, "key-2")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "B"}, idempotencyKeyHeader, "key-2")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "different request payload")
}

func TestIdempotency_SameKeyOnAnotherEndpointConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedBrand(t, "A")

	rec := env.do(t, http.MethodPost, "/api/products/brand/1", ProductRequest{Category: "TOP", Price: price(100)}, idempotencyKeyHeader, "key-3")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/brands", ProductRequest{Category: "TOP", Price: price(100)}, idempotencyKeyHeader, "key-3")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotency_ReplaysFailure(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: " "}, idempotencyKeyHeader, "key-4")
	require.Equal(t, http.StatusBadRequest, first.Code)

	second := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: " "}, idempotencyKeyHeader, "key-4")
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestIdempotency_ProcessingKeyConflicts(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"A"}`
	_, err := env.idem.CreateProcessing("key-5", requestHash(http.MethodPost, "/api/brands", []byte(body)), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/brands", body, idempotencyKeyHeader, "key-5")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "already processing")
}

func TestIdempotency_PanickingHandlerReleasesKey(t *testing.T) {
	env := newTestEnv(t)
	calls := 0
	env.router.POST("/api/brands/import", env.handler.idempotent(), func(*gin.Context) {
		calls++
		panic("import exploded")
	})

	first := env.do(t, http.MethodPost, "/api/brands/import", BrandRequest{Name: "A"}, idempotencyKeyHeader, "key-7")
	require.Equal(t, http.StatusInternalServerError, first.Code)

	record, err := env.idem.Get("key-7")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, http.StatusInternalServerError, record.HTTPStatus)

	retry := env.do(t, http.MethodPost, "/api/brands/import", BrandRequest{Name: "A"}, idempotencyKeyHeader, "key-7")
	require.Equal(t, http.StatusInternalServerError, retry.Code, "retry must not see the key as processing")
	assert.Equal(t, "true", retry.Header().Get(idempotencyReplayedHeader))
	assert.Equal(t, "internal server error", decode[ErrorResponse](t, retry).Message)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_WithoutKeyRunsEveryTime(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "A"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/brands", BrandRequest{Name: "A"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestHash(t *testing.T) {
	a := requestHash(http.MethodPost, "/api/brands", []byte(`{"name":"A"}`))
	b := requestHash(http.MethodPost, "/api/brands", []byte(`{"name":"A"}`))
	c := requestHash(http.MethodPost, "/api/products/brand/1", []byte(`{"name":"A"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
