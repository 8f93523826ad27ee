package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	schemaChangesDir = "sql/migrations"

	// Ключ pg_advisory_lock вычисляется из имени через hashtext().
	schemaLockName = "brandcatalog.schema_migrations"
	schemaLockWait = 5 * time.Second

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	schemaChangesFS embed.FS

	// 001_init_catalog.up.sql -> version=1, name=init_catalog, direction=up.
	schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

type schemaDirection int

const (
	schemaUp schemaDirection = iota + 1
	schemaDown
)

func (d schemaDirection) String() string {
	switch d {
	case schemaUp:
		return "up"
	case schemaDown:
		return "down"
	default:
		return "direction(" + strconv.Itoa(int(d)) + ")"
	}
}

// schemaChange — версия схемы каталога с парой скриптов применения и отката.
type schemaChange struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (c schemaChange) String() string {
	return fmt.Sprintf("%03d_%s", c.Version, c.Name)
}

func (c schemaChange) script(d schemaDirection) string {
	if d == schemaDown {
		return c.Down
	}
	return c.Up
}

// MigrateUp применяет ещё не применённые версии схемы; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, schemaUp, steps)
}

// MigrateDown откатывает последние steps версий, минимум одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, schemaDown, max(steps, 1))
}

// MigrationStatus возвращает последнюю применённую версию и число применённых версий.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		latest  int64
		applied int
	)
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`).Scan(&latest, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema version: %w", err)
	}
	return latest, applied, nil
}

func (s *Store) migrate(ctx context.Context, direction schemaDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if direction != schemaUp && direction != schemaDown {
		return fmt.Errorf("unsupported migration %s", direction)
	}

	changes, err := readSchemaChanges(schemaChangesFS)
	if err != nil {
		return err
	}

	return s.withSchemaLock(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}

		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		plan, err := planSchemaChanges(changes, applied, direction, steps)
		if err != nil {
			return err
		}
		for _, change := range plan {
			if err := runSchemaChange(ctx, conn, change, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

// withSchemaLock держит advisory lock на выделенном соединении, пока выполняется fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, schemaLockWait)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock(hashtext($1))`, schemaLockName); err != nil {
		return fmt.Errorf("lock %s: %w", schemaLockName, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtext($1))`, schemaLockName)
	}()

	return fn(conn)
}

// planSchemaChanges выбирает версии для применения (по возрастанию) или отката (по убыванию).
func planSchemaChanges(changes []schemaChange, applied map[int64]bool, direction schemaDirection, steps int) ([]schemaChange, error) {
	var plan []schemaChange
	switch direction {
	case schemaUp:
		for _, change := range changes {
			if !applied[change.Version] {
				plan = append(plan, change)
			}
		}
	case schemaDown:
		known := make(map[int64]bool, len(changes))
		for _, change := range changes {
			known[change.Version] = true
		}
		for version := range applied {
			if !known[version] {
				return nil, fmt.Errorf("schema version %d is applied but has no migration files", version)
			}
		}
		for i := len(changes) - 1; i >= 0; i-- {
			if applied[changes[i].Version] {
				plan = append(plan, changes[i])
			}
		}
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

// runSchemaChange выполняет скрипт и правку schema_migrations в одной транзакции.
func runSchemaChange(ctx context.Context, conn *sql.Conn, change schemaChange, direction schemaDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, change, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, change.script(direction)); err != nil {
		return fmt.Errorf("run %s %s: %w", direction, change, err)
	}

	if direction == schemaUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, change.Version, change.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, change.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", direction, change, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, change, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read applied schema versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema versions: %w", err)
	}
	return applied, nil
}

// readSchemaChanges собирает версии схемы из fsys. У каждой версии должны быть
// оба скрипта, а версии идут подряд начиная с 1.
func readSchemaChanges(fsys fs.FS) ([]schemaChange, error) {
	files, err := fs.Glob(fsys, path.Join(schemaChangesDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list schema changes: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no schema changes found in " + schemaChangesDir)
	}

	byVersion := make(map[int64]*schemaChange)
	for _, file := range files {
		base := path.Base(file)
		parts := schemaFileName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("unexpected file %s in %s", base, schemaChangesDir)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("version of %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", base, err)
		}
		script := strings.TrimSpace(string(raw))
		if script == "" {
			return nil, fmt.Errorf("%s is empty", base)
		}

		change, ok := byVersion[version]
		if !ok {
			change = &schemaChange{Version: version, Name: parts[2]}
			byVersion[version] = change
		}
		if change.Name != parts[2] {
			return nil, fmt.Errorf("version %d is named both %s and %s", version, change.Name, parts[2])
		}

		target := &change.Up
		if parts[3] == "down" {
			target = &change.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("version %d has two %s scripts", version, parts[3])
		}
		*target = script
	}

	changes := make([]schemaChange, 0, len(byVersion))
	for _, change := range byVersion {
		if change.Up == "" || change.Down == "" {
			return nil, fmt.Errorf("%s needs both up and down scripts", change)
		}
		changes = append(changes, *change)
	}
	slices.SortFunc(changes, func(a, b schemaChange) int { return cmp.Compare(a.Version, b.Version) })

	for i, change := range changes {
		if change.Version != int64(i+1) {
			return nil, fmt.Errorf("schema versions must be sequential from 1: found %s at position %d", change, i+1)
		}
	}
	return changes, nil
}
