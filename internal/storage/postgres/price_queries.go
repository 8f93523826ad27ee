package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	"github.com/vladislavdragonenkov/brandcatalog/internal/pricing"
)

type priceQueries struct {
	db *sql.DB
}

// NewPriceQueries создаёт PostgreSQL-реализацию агрегирующих запросов.
// Тяжёлая часть (MIN/MAX, группировка) выполняется в базе.
func NewPriceQueries(store *Store) domain.PriceQueries {
	return &priceQueries{db: store.DB()}
}

func (q *priceQueries) LowestByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	return q.extremum(ctx, category, "MIN")
}

func (q *priceQueries) HighestByCategory(ctx context.Context, category domain.Category) ([]domain.CategoryPrice, error) {
	return q.extremum(ctx, category, "MAX")
}

// extremum возвращает все бренды, чья цена равна экстремуму категории (по одному на бренд).
func (q *priceQueries) extremum(ctx context.Context, category domain.Category, aggregate string) ([]domain.CategoryPrice, error) {
	rows, err := q.queryPrices(ctx, `
		SELECT DISTINCT ON (p.brand_id) p.category, p.brand_id, b.name, p.price
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		WHERE p.category = $1
		  AND p.price = (SELECT `+aggregate+`(price) FROM products WHERE category = $1)
		ORDER BY p.brand_id
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("%s price by category: %w", aggregate, err)
	}
	return rows, nil
}

func (q *priceQueries) LowestByAllCategories(ctx context.Context) (domain.LowestPriceTable, error) {
	rows, err := q.queryPrices(ctx, `
		SELECT DISTINCT ON (p.category) p.category, p.brand_id, b.name, p.price
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		ORDER BY p.category, p.price, p.brand_id
	`)
	if err != nil {
		return domain.LowestPriceTable{}, fmt.Errorf("lowest price by all categories: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Category.Index() < rows[j].Category.Index() })

	table := domain.LowestPriceTable{Rows: rows}
	for _, row := range rows {
		table.Total += row.Price
	}
	return table, nil
}

// FullCoverageTotals отбирает в базе самые дешёвые товары каждого бренда по категориям
// для брендов с полным покрытием, а сборку сумм делегирует pricing.
func (q *priceQueries) FullCoverageTotals(ctx context.Context) ([]domain.BrandTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, `
		WITH cheapest AS (
			SELECT brand_id, category, MIN(price) AS price
			FROM products
			GROUP BY brand_id, category
		), qualifying AS (
			SELECT brand_id
			FROM cheapest
			GROUP BY brand_id
			HAVING COUNT(*) = $1
		)
		SELECT c.brand_id, b.name, c.category, c.price
		FROM cheapest c
		JOIN qualifying q ON q.brand_id = c.brand_id
		JOIN brands b ON b.id = c.brand_id
		ORDER BY c.brand_id, c.category
	`, domain.CategoryCount)
	if err != nil {
		return nil, fmt.Errorf("full coverage totals: %w", err)
	}
	defer rows.Close()

	snapshot := make([]domain.PriceRow, 0)
	for rows.Next() {
		var (
			row      domain.PriceRow
			category string
		)
		if err := rows.Scan(&row.BrandID, &row.BrandName, &category, &row.Price); err != nil {
			return nil, fmt.Errorf("scan brand total row: %w", err)
		}
		row.Category = domain.Category(category)
		snapshot = append(snapshot, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brand total rows: %w", err)
	}

	return pricing.FullCoverageTotals(snapshot), nil
}

func (q *priceQueries) queryPrices(ctx context.Context, query string, args ...any) ([]domain.CategoryPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CategoryPrice, 0)
	for rows.Next() {
		var (
			price    domain.CategoryPrice
			category string
		)
		if err := rows.Scan(&category, &price.BrandID, &price.BrandName, &price.Price); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		price.Category = domain.Category(category)
		result = append(result, price)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return result, nil
}

var _ domain.PriceQueries = (*priceQueries)(nil)
