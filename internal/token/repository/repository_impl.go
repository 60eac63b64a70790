package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/token/domain"
	"gorm.io/gorm"
)

const tokenColumns = `id, user_id, booking_id, value, valid_from, valid_to, is_used, used_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, t *domain.Token) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tokens (`+tokenColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.UserID,
		t.BookingID,
		t.Value,
		t.ValidFrom,
		t.ValidTo,
		t.IsUsed,
		t.UsedAt,
		t.CreatedAt,
		t.UpdatedAt,
	).Error
}

func (r *repo) FindByBookingAndValueForUpdate(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, value string) (*domain.Token, error) {
	var token domain.Token
	err := db.WithContext(ctx).Raw(
		`SELECT `+tokenColumns+` FROM tokens WHERE booking_id = ? AND value = ? FOR UPDATE`,
		bookingID, value,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == 0 {
		return nil, nil
	}
	return &token, nil
}

// MarkUsed flips an unused token. It reports false if the token was already consumed.
func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE tokens SET is_used = ?, used_at = ?, updated_at = ? WHERE id = ? AND is_used = ?`,
		true, now, now, id, false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListActiveByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, now time.Time) ([]*domain.Token, error) {
	return r.listActive(ctx, db, `booking_id = ?`, bookingID, now)
}

func (r *repo) ListActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]*domain.Token, error) {
	return r.listActive(ctx, db, `user_id = ?`, userID, now)
}

func (r *repo) listActive(ctx context.Context, db *gorm.DB, predicate string, id snowflake.ID, now time.Time) ([]*domain.Token, error) {
	var tokens []*domain.Token
	err := db.WithContext(ctx).Raw(
		`SELECT `+tokenColumns+` FROM tokens
		 WHERE `+predicate+` AND is_used = ? AND valid_to >= ?
		 ORDER BY valid_from ASC, id ASC`,
		id, false, now,
	).Scan(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *repo) DeleteExpiredOrUsed(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM tokens WHERE valid_to < ? OR is_used = ?`,
		now, true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) BookingOwner(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (snowflake.ID, error) {
	var owner int64
	err := db.WithContext(ctx).Raw(`SELECT user_id FROM bookings WHERE id = ?`, bookingID).Scan(&owner).Error
	return snowflake.ID(owner), err
}

func (r *repo) UserExists(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&count).Error
	return count > 0, err
}
