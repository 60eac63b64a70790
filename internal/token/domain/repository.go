package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *Token) error
	FindByBookingAndValueForUpdate(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, value string) (*Token, error)
	MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	ListActiveByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID, now time.Time) ([]*Token, error)
	ListActiveByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) ([]*Token, error)
	DeleteExpiredOrUsed(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	// BookingOwner returns the owning user of a booking, or 0 when the booking does not exist.
	BookingOwner(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (snowflake.ID, error)
	UserExists(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)
}
