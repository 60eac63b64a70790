package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/availability/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CountConflicts(ctx context.Context, db *gorm.DB, garageID snowflake.ID, start, end time.Time) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM bookings
		 WHERE garage_id = ? AND status <> 'canceled' AND start_time < ? AND end_time > ?`,
		garageID, end.UTC(), start.UTC(),
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repo) CountConflictsByGarage(ctx context.Context, db *gorm.DB, garageIDs []snowflake.ID, start, end time.Time) (map[snowflake.ID]int, error) {
	out := make(map[snowflake.ID]int, len(garageIDs))
	if len(garageIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		GarageID snowflake.ID
		Total    int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT garage_id, COUNT(*) AS total FROM bookings
		 WHERE garage_id IN ? AND status <> 'canceled' AND start_time < ? AND end_time > ?
		 GROUP BY garage_id`,
		garageIDs, end.UTC(), start.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.GarageID] = int(row.Total)
	}
	return out, nil
}
