package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/sensor/domain"
	"gorm.io/gorm"
)

const sensorColumns = `id, garage_id, type, status, is_occupied, last_reported_at, last_maintenance, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, s *domain.Sensor) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sensors (`+sensorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.GarageID,
		s.Type,
		s.Status,
		s.IsOccupied,
		s.LastReportedAt,
		s.LastMaintenance,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Sensor, error) {
	return r.findOne(ctx, db, `SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Sensor, error) {
	return r.findOne(ctx, db, `SELECT `+sensorColumns+` FROM sensors WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Sensor, error) {
	var sensor domain.Sensor
	if err := db.WithContext(ctx).Raw(query, id).Scan(&sensor).Error; err != nil {
		return nil, err
	}
	if sensor.ID == 0 {
		return nil, nil
	}
	return &sensor, nil
}

func (r *repo) ListByGarage(ctx context.Context, db *gorm.DB, garageID snowflake.ID) ([]*domain.Sensor, error) {
	var items []*domain.Sensor
	err := db.WithContext(ctx).Raw(
		`SELECT `+sensorColumns+` FROM sensors WHERE garage_id = ? ORDER BY id ASC`,
		garageID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, lastMaintenance *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sensors
		 SET status = ?, last_maintenance = COALESCE(?, last_maintenance), updated_at = ?
		 WHERE id = ?`,
		status, lastMaintenance, now, id,
	).Error
}

func (r *repo) RecordReport(ctx context.Context, db *gorm.DB, id snowflake.ID, occupied bool, reportedAt, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sensors SET is_occupied = ?, last_reported_at = ?, updated_at = ? WHERE id = ?`,
		occupied, reportedAt, now, id,
	).Error
}
