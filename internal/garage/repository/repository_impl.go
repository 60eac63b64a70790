package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/garage/domain"
	"gorm.io/gorm"
)

const garageColumns = `id, name, slug, location, city, area, latitude, longitude,
	capacity, available_spots, is_active, price_per_hour, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, g *domain.Garage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO garages (`+garageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID,
		g.Name,
		g.Slug,
		g.Location,
		g.City,
		g.Area,
		g.Latitude,
		g.Longitude,
		g.Capacity,
		g.AvailableSpots,
		g.IsActive,
		g.PricePerHour,
		g.CreatedAt,
		g.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Garage, error) {
	return r.findOne(ctx, db, `SELECT `+garageColumns+` FROM garages WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Garage, error) {
	return r.findOne(ctx, db, `SELECT `+garageColumns+` FROM garages WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Garage, error) {
	var garage domain.Garage
	if err := db.WithContext(ctx).Raw(query, id).Scan(&garage).Error; err != nil {
		return nil, err
	}
	if garage.ID == 0 {
		return nil, nil
	}
	return &garage, nil
}

func (r *repo) Search(ctx context.Context, db *gorm.DB, filter domain.SearchFilter) ([]*domain.Garage, error) {
	query := `SELECT ` + garageColumns + ` FROM garages WHERE 1=1`
	args := []any{}
	if city := strings.TrimSpace(filter.City); city != "" {
		query += ` AND lower(city) = ?`
		args = append(args, strings.ToLower(city))
	}
	if filter.MinAvailableSpots != nil {
		query += ` AND available_spots >= ?`
		args = append(args, *filter.MinAvailableSpots)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name ASC, id ASC`

	var items []*domain.Garage
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, filter domain.BoxFilter) ([]*domain.Garage, error) {
	query := `SELECT ` + garageColumns + ` FROM garages WHERE is_active = ?`
	args := []any{true}
	if city := strings.TrimSpace(filter.City); city != "" {
		query += ` AND lower(city) = ?`
		args = append(args, strings.ToLower(city))
	}
	if box := filter.Box; box != nil {
		query += ` AND latitude IS NOT NULL AND longitude IS NOT NULL AND latitude BETWEEN ? AND ?`
		args = append(args, box.SouthWest.Lat, box.NorthEast.Lat)
		if !box.WrapsLongitude {
			query += ` AND longitude BETWEEN ? AND ?`
			args = append(args, box.SouthWest.Lng, box.NorthEast.Lng)
		}
	}
	query += ` ORDER BY id ASC`

	var items []*domain.Garage
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE garages SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, now, id,
	).Error
}

func (r *repo) DecrementSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE garages SET available_spots = available_spots - 1, updated_at = ?
		 WHERE id = ? AND available_spots > 0`,
		now, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) IncrementSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE garages SET available_spots = available_spots + 1, updated_at = ?
		 WHERE id = ? AND available_spots < capacity`,
		now, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListWithoutActiveSensors(ctx context.Context, db *gorm.DB) ([]*domain.Garage, error) {
	var items []*domain.Garage
	err := db.WithContext(ctx).Raw(
		`SELECT ` + garageColumns + ` FROM garages g
		 WHERE NOT EXISTS (
			SELECT 1 FROM sensors s WHERE s.garage_id = g.id AND s.status = 'active'
		 )
		 ORDER BY id ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// CountHeldSpots counts bookings that still hold a spot: not canceled and not yet ended.
func (r *repo) CountHeldSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM bookings
		 WHERE garage_id = ? AND status <> 'canceled' AND end_time > ?`,
		id, now,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repo) SetAvailableSpots(ctx context.Context, db *gorm.DB, id snowflake.ID, spots int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE garages SET available_spots = ?, updated_at = ? WHERE id = ?`,
		spots, now, id,
	).Error
}
