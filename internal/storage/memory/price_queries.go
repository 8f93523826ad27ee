package memory

import (
	"context"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/pricing"
)

// priceQueriesInMemory считает агрегаты над снимком Catalog.
type priceQueriesInMemory struct {
	catalog *Catalog
}

// NewPriceQueries возвращает агрегирующие запросы, делегирующие расчёт пакету pricing.
func NewPriceQueries(catalog *Catalog) domain.PriceQueries {
	return &priceQueriesInMemory{catalog: catalog}
}

func (q *priceQueriesInMemory) snapshot() []domain.PriceRow {
	q.catalog.mu.RLock()
	defer q.catalog.mu.RUnlock()
	return q.catalog.snapshotLocked()
}

func (q *priceQueriesInMemory) LowestByCategory(_ context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	return pricing.Extremum(q.snapshot(), category, pricing.Lowest), nil
}

func (q *priceQueriesInMemory) HighestByCategory(_ context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	return pricing.Extremum(q.snapshot(), category, pricing.Highest), nil
}

func (q *priceQueriesInMemory) LowestByAllCategories(_ context.Context) (domain.LowestPriceTable, error) {
	return pricing.LowestByAllCategories(q.snapshot()), nil
}

func (q *priceQueriesInMemory) FullCoverageTotals(_ context.Context) ([]domain.BrandTotal, error) {
	return pricing.FullCoverageTotals(q.snapshot()), nil
}

var _ domain.PriceQueries = (*priceQueriesInMemory)(nil)
