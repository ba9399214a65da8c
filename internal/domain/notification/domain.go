package notification

import (
	"time"

	"github.com/shopspring/decimal"
)

// Notification is a before/after snapshot of one detected drop.
type Notification struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	ItemID      int64           `json:"item_id"`
	ProductRef  string          `json:"product_ref"`
	ProductName string          `json:"product_name"`
	ImageURL    string          `json:"image_url"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	Timestamp   time.Time       `json:"timestamp"`
	Read        bool            `json:"read"`
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
