package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

const productColumns = `p.id, p.brand_id, b.name, p.category, p.price, p.version`

// categoryOrderExpr упорядочивает товары по порядку объявления категорий.
var categoryOrderExpr = func() string {
	quoted := make([]string, 0, domain.CategoryCount)
	for _, c := range domain.Categories() {
		quoted = append(quoted, "'"+string(c)+"'")
	}
	return "array_position(ARRAY[" + strings.Join(quoted, ",") + "]::text[], p.category)"
}()

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := conn(ctx, r.db).QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO products (brand_id, category, price, version, created_at, updated_at)
			VALUES ($1, $2, $3, 0, NOW(), NOW())
			RETURNING id, brand_id, category, price, version
		)
		SELECT p.id, p.brand_id, b.name, p.category, p.price, p.version
		FROM inserted p
		JOIN brands b ON b.id = p.brand_id
	`, product.BrandID, string(product.Category), product.Price)

	created, err := scanProduct(row)
	if err != nil {
		if isForeignKeyViolation(err) || errors.Is(err, domain.ErrProductNotFound) {
			return domain.Product{}, domain.ErrBrandNotFound
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}

	return created, nil
}

func (r *productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanProduct(conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		WHERE p.id = $1
	`, id))
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		ORDER BY p.id
	`)
}

func (r *productRepository) ListByBrand(ctx context.Context, brandID int64) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		WHERE p.brand_id = $1
		ORDER BY `+categoryOrderExpr+`, p.id
	`, brandID)
}

func (r *productRepository) FindByBrandAndCategory(ctx context.Context, brandID int64, category domain.Category) ([]domain.Product, error) {
	return r.query(ctx, `
		SELECT `+productColumns+`
		FROM products p
		JOIN brands b ON b.id = p.brand_id
		WHERE p.brand_id = $1
		  AND p.category = $2
		ORDER BY p.price, p.id
	`, brandID, string(category))
}

// UpdatePrice применяет цену только при совпадении версии.
func (r *productRepository) UpdatePrice(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var updated domain.Product
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		updated, err = scanProduct(tx.QueryRowContext(ctx, `
			WITH updated AS (
				UPDATE products
				SET price = $1,
				    version = version + 1,
				    updated_at = NOW()
				WHERE id = $2
				  AND version = $3
				RETURNING id, brand_id, category, price, version
			)
			SELECT p.id, p.brand_id, b.name, p.category, p.price, p.version
			FROM updated p
			JOIN brands b ON b.id = p.brand_id
		`, product.Price, product.ID, product.Version))
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrProductNotFound) {
			return fmt.Errorf("update product price: %w", err)
		}
		return missingOrConflict(ctx, tx, `SELECT 1 FROM products WHERE id = $1`, product.ID,
			domain.ErrProductNotFound, domain.ErrProductVersionConflict)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

func (r *productRepository) Delete(ctx context.Context, id, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1 AND version = $2`, id, version)
		if err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}
		return missingOrConflict(ctx, tx, `SELECT 1 FROM products WHERE id = $1`, id,
			domain.ErrProductNotFound, domain.ErrProductVersionConflict)
	})
}

func (r *productRepository) query(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		product  domain.Product
		category string
	)
	if err := row.Scan(
		&product.ID,
		&product.BrandID,
		&product.BrandName,
		&category,
		&product.Price,
		&product.Version,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("scan product: %w", err)
	}

	product.Category = domain.Category(category)
	if !product.Category.Valid() {
		return domain.Product{}, fmt.Errorf("invalid category %q for product %d", category, product.ID)
	}
	return product, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
