package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleQuery(t *testing.T) {
	olderThan := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	q, args, err := staleQuery(25, olderThan)
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT id, user_id, product_ref, product_name, image_url, last_known_price, last_checked_at, created_at "+
			"FROM tracked_items WHERE (last_checked_at IS NULL OR last_checked_at < $1) "+
			"ORDER BY last_checked_at ASC NULLS FIRST, id ASC LIMIT 25",
		q)
	assert.Equal(t, []any{olderThan}, args)
}
