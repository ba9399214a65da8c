package item

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Repo interface {
	// SelectStale returns items never checked or last checked before olderThan, oldest first.
	SelectStale(ctx context.Context, limit int, olderThan time.Time) ([]*TrackedItem, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id int64) (*TrackedItem, error)
	// UpdateChecked advances last_checked_at; a valid price also replaces last_known_price.
	UpdateChecked(ctx context.Context, id int64, price decimal.NullDecimal, checkedAt time.Time) error
}
