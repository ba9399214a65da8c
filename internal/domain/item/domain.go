package item

import (
	"time"

	"github.com/shopspring/decimal"
)

type TrackedItem struct {
	ID             int64               `json:"id"`
	UserID         int64               `json:"user_id"`
	ProductRef     string              `json:"product_ref"`
	ProductName    string              `json:"product_name"`
	ImageURL       string              `json:"image_url"`
	LastKnownPrice decimal.NullDecimal `json:"last_known_price"`
	LastCheckedAt  *time.Time          `json:"last_checked_at"`
	CreatedAt      time.Time           `json:"created_at"`
}
