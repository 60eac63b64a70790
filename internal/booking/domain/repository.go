package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*Booking, error)
	ListByGarage(ctx context.Context, db *gorm.DB, garageID snowflake.ID, limit int) ([]*Booking, error)

	// UpdateStatus moves the booking only if it is still in from. It reports
	// false when another writer changed the status first.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, canceledAt *time.Time, now time.Time) (bool, error)
}
