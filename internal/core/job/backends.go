package job

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresStore returns a Store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *SQLStore {
	return newSQLStore(pgxRunner{pool: pool}, sq.Dollar)
}

// NewSQLiteStore returns a Store backed by database/sql (modernc sqlite).
func NewSQLiteStore(db *sql.DB) *SQLStore {
	return newSQLStore(stdRunner{db: db}, sq.Question)
}

type pgxRunner struct {
	pool *pgxpool.Pool
}

func (r pgxRunner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r pgxRunner) query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

type stdRunner struct {
	db *sql.DB
}

func (r stdRunner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r stdRunner) query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}
