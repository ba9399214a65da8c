package kafka

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type PriceDropped struct {
	NotificationID int64           `json:"notification_id"`
	UserID         int64           `json:"user_id"`
	ItemID         int64           `json:"item_id"`
	ProductRef     string          `json:"product_ref"`
	ProductName    string          `json:"product_name"`
	OldPrice       decimal.Decimal `json:"old_price"`
	NewPrice       decimal.Decimal `json:"new_price"`
	At             time.Time       `json:"at"`
}

type PriceEvents interface {
	PublishPriceDropped(ctx context.Context, ev PriceDropped) error
}
