package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: created})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)

	_, err = DecodeCursor("not-a-cursor")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestBuildCursorPageInfoTrimsProbeRow(t *testing.T) {
	a, b, c := 1, 2, 3
	items, info := BuildCursorPageInfo([]*int{&a, &b, &c}, 2, func(v *int) string {
		if *v == 2 {
			return "two"
		}
		return "other"
	})
	assert.Len(t, items, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "two", info.NextPageToken)

	items, info = BuildCursorPageInfo([]*int{&a}, 2, func(*int) string { return "x" })
	assert.Len(t, items, 1)
	assert.False(t, info.HasMore)
}

func TestLimitClamps(t *testing.T) {
	assert.Equal(t, 20, Pagination{}.Limit())
	assert.Equal(t, 100, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
