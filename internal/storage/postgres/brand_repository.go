package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
)

type brandRepository struct {
	db *sql.DB
}

// NewBrandRepository создаёт PostgreSQL-реализацию BrandRepository.
func NewBrandRepository(store *Store) domain.BrandRepository {
	return &brandRepository{db: store.DB()}
}

func (r *brandRepository) Create(ctx context.Context, name string) (domain.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	brand := domain.Brand{Name: name}
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO brands (name, version, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		RETURNING id, version
	`, name).Scan(&brand.ID, &brand.Version)
	if err != nil {
		if isBrandNameViolation(err) {
			return domain.Brand{}, domain.ErrDuplicateBrandName
		}
		return domain.Brand{}, fmt.Errorf("insert brand: %w", err)
	}

	return brand, nil
}

func (r *brandRepository) Get(ctx context.Context, id int64) (domain.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanBrand(conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, version FROM brands WHERE id = $1
	`, id))
}

func (r *brandRepository) GetByName(ctx context.Context, name string) (domain.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanBrand(conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, name, version FROM brands WHERE name = $1
	`, name))
}

func (r *brandRepository) List(ctx context.Context) ([]domain.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT id, name, version FROM brands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	brands := make([]domain.Brand, 0)
	for rows.Next() {
		var brand domain.Brand
		if err := rows.Scan(&brand.ID, &brand.Name, &brand.Version); err != nil {
			return nil, fmt.Errorf("scan brand row: %w", err)
		}
		brands = append(brands, brand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brand rows: %w", err)
	}

	return brands, nil
}

// Update переименовывает бренд одной CAS-командой:
// UPDATE применяется только при совпадении версии.
func (r *brandRepository) Update(ctx context.Context, brand domain.Brand) (domain.Brand, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	updated := domain.Brand{ID: brand.ID, Name: brand.Name}
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE brands
			SET name = $1,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $2
			  AND version = $3
			RETURNING version
		`, brand.Name, brand.ID, brand.Version).Scan(&updated.Version)
		switch {
		case err == nil:
			return nil
		case isBrandNameViolation(err):
			return domain.ErrDuplicateBrandName
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("update brand: %w", err)
		}
		return missingOrConflict(ctx, tx, `SELECT 1 FROM brands WHERE id = $1`, brand.ID,
			domain.ErrBrandNotFound, domain.ErrBrandVersionConflict)
	})
	if err != nil {
		return domain.Brand{}, err
	}
	return updated, nil
}

// Delete удаляет бренд; товары удаляются каскадом внешнего ключа в той же транзакции.
func (r *brandRepository) Delete(ctx context.Context, id, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM brands WHERE id = $1 AND version = $2`, id, version)
		if err != nil {
			return fmt.Errorf("delete brand: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}
		return missingOrConflict(ctx, tx, `SELECT 1 FROM brands WHERE id = $1`, id,
			domain.ErrBrandNotFound, domain.ErrBrandVersionConflict)
	})
}

func scanBrand(row *sql.Row) (domain.Brand, error) {
	var brand domain.Brand
	if err := row.Scan(&brand.ID, &brand.Name, &brand.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Brand{}, domain.ErrBrandNotFound
		}
		return domain.Brand{}, fmt.Errorf("select brand: %w", err)
	}
	return brand, nil
}

func rowExistsTx(ctx context.Context, tx *sql.Tx, query string, id int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, id).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

// missingOrConflict различает отсутствующую строку и устаревшую версию,
// когда CAS-команда не затронула ни одной строки.
func missingOrConflict(ctx context.Context, tx *sql.Tx, query string, id int64, notFound, conflict error) error {
	exists, err := rowExistsTx(ctx, tx, query, id)
	if err != nil {
		return err
	}
	if !exists {
		return notFound
	}
	return conflict
}

var _ domain.BrandRepository = (*brandRepository)(nil)
