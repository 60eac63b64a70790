package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sensor *Sensor) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Sensor, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Sensor, error)
	ListByGarage(ctx context.Context, db *gorm.DB, garageID snowflake.ID) ([]*Sensor, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, lastMaintenance *time.Time, now time.Time) error
	RecordReport(ctx context.Context, db *gorm.DB, id snowflake.ID, occupied bool, reportedAt, now time.Time) error
}
