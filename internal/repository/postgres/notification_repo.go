package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Pricewatch/internal/domain/notification"
)

var _ notification.Repo = (*NotificationRepoImpl)(nil)

type NotificationRepoImpl struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepoImpl { return &NotificationRepoImpl{db: db} }

const (
	qNotifInsert = `
INSERT INTO notifications (user_id, item_id, product_ref, product_name, image_url, old_price, new_price, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
RETURNING id, created_at, read;
`
	qNotifByUser = `
SELECT id, user_id, item_id, product_ref, product_name, image_url, old_price, new_price, created_at, read
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;
`
)

func (r *NotificationRepoImpl) Insert(ctx context.Context, n *notification.Notification) error {
	if !n.NewPrice.LessThan(n.OldPrice) {
		return fmt.Errorf("insert notification: new price %s is not below old price %s", n.NewPrice, n.OldPrice)
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qNotifInsert,
		n.UserID,
		n.ItemID,
		n.ProductRef,
		n.ProductName,
		n.ImageURL,
		n.OldPrice,
		n.NewPrice,
		nullTime(n.Timestamp),
	).Scan(&n.ID, &n.Timestamp, &n.Read); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepoImpl) ListByUser(ctx context.Context, userID int64, limit int) ([]*notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qNotifByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Notification, 0, limit)
	for rows.Next() {
		var n notification.Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.ItemID, &n.ProductRef, &n.ProductName, &n.ImageURL,
			&n.OldPrice, &n.NewPrice, &n.Timestamp, &n.Read,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
