package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/NordCoder/Pricewatch/internal/domain/item"
)

var _ item.Repo = (*ItemRepoImpl)(nil)

type ItemRepoImpl struct {
	db *DB
}

func NewItemRepo(db *DB) *ItemRepoImpl { return &ItemRepoImpl{db: db} }

var itemColumns = []string{
	"id", "user_id", "product_ref", "product_name", "image_url",
	"last_known_price", "last_checked_at", "created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	qItemForUpdate = `
SELECT id, user_id, product_ref, product_name, image_url, last_known_price, last_checked_at, created_at
FROM tracked_items
WHERE id = $1
FOR UPDATE;
`

	qItemUpdateChecked = `
UPDATE tracked_items
SET last_known_price = COALESCE($2, last_known_price),
    last_checked_at  = GREATEST(COALESCE(last_checked_at, $3), $3)
WHERE id = $1;
`
)

func scanItem(row pgx.Row, it *item.TrackedItem) error {
	if err := row.Scan(
		&it.ID,
		&it.UserID,
		&it.ProductRef,
		&it.ProductName,
		&it.ImageURL,
		&it.LastKnownPrice,
		&it.LastCheckedAt,
		&it.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan tracked item: %w", err)
	}
	return nil
}

func staleQuery(limit int, olderThan time.Time) (string, []any, error) {
	return psql.Select(itemColumns...).
		From("tracked_items").
		Where(sq.Or{
			sq.Eq{"last_checked_at": nil},
			sq.Lt{"last_checked_at": olderThan},
		}).
		OrderBy("last_checked_at ASC NULLS FIRST", "id ASC").
		Limit(uint64(limit)).
		ToSql()
}

func (r *ItemRepoImpl) SelectStale(ctx context.Context, limit int, olderThan time.Time) ([]*item.TrackedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	q, args, err := staleQuery(limit, olderThan)
	if err != nil {
		return nil, fmt.Errorf("build stale query: %w", err)
	}

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select stale: %w", err)
	}
	defer rows.Close()

	out := make([]*item.TrackedItem, 0, limit)
	for rows.Next() {
		var it item.TrackedItem
		if err := scanItem(rows, &it); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *ItemRepoImpl) GetForUpdate(ctx context.Context, id int64) (*item.TrackedItem, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var it item.TrackedItem
	if err := scanItem(r.db.execQueryer(ctx).QueryRow(ctx, qItemForUpdate, id), &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *ItemRepoImpl) UpdateChecked(ctx context.Context, id int64, price decimal.NullDecimal, checkedAt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qItemUpdateChecked, id, price, checkedAt.UTC())
	if err != nil {
		return fmt.Errorf("update tracked item: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
