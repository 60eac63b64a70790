package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/booking/domain"
	"gorm.io/gorm"
)

const bookingColumns = `id, user_id, garage_id, start_time, end_time, total_price, status, canceled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (`+bookingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.UserID,
		b.GarageID,
		b.StartTime,
		b.EndTime,
		b.TotalPrice,
		b.Status,
		b.CanceledAt,
		b.CreatedAt,
		b.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.findOne(ctx, db, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	return r.findOne(ctx, db, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Booking, error) {
	var booking domain.Booking
	if err := db.WithContext(ctx).Raw(query, id).Scan(&booking).Error; err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*domain.Booking, error) {
	return r.list(ctx, db, `user_id = ?`, userID, limit)
}

func (r *repo) ListByGarage(ctx context.Context, db *gorm.DB, garageID snowflake.ID, limit int) ([]*domain.Booking, error) {
	return r.list(ctx, db, `garage_id = ?`, garageID, limit)
}

func (r *repo) list(ctx context.Context, db *gorm.DB, predicate string, id snowflake.ID, limit int) ([]*domain.Booking, error) {
	var items []*domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings WHERE `+predicate+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		id, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, canceledAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE bookings SET status = ?, canceled_at = COALESCE(?, canceled_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, canceledAt, now, id, from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
