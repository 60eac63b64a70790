package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, garage *Garage) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Garage, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Garage, error)
	Search(ctx context.Context, db *gorm.DB, filter SearchFilter) ([]*Garage, error)
	ListActive(ctx context.Context, db *gorm.DB, filter BoxFilter) ([]*Garage, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, now time.Time) error

	// DecrementSpots and IncrementSpots are conditional updates. They report
	// false when the counter is already at its bound.
	DecrementSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	IncrementSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	ListWithoutActiveSensors(ctx context.Context, db *gorm.DB) ([]*Garage, error)
	CountHeldSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int, error)
	SetAvailableSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, spots int, now time.Time) error
}
