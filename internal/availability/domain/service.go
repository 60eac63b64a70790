package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
	"gorm.io/gorm"
)

type SearchRequest struct {
	Start         time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End           time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Latitude      float64   `form:"lat"`
	Longitude     float64   `form:"lng"`
	MaxDistanceKm *float64  `form:"max_distance_km"`
	City          string    `form:"city"`
}

type SearchResult struct {
	GarageID       snowflake.ID `json:"garage_id"`
	Name           string       `json:"name"`
	AvailableSpots int          `json:"available_spots"`
	DistanceKm     *float64     `json:"distance_km,omitempty"`
}

type Repository interface {
	CountConflicts(ctx context.Context, db *gorm.DB, garageID snowflake.ID, start, end time.Time) (int, error)
	CountConflictsByGarage(ctx context.Context, db *gorm.DB, garageIDs []snowflake.ID, start, end time.Time) (map[snowflake.ID]int, error)
}

type Service interface {
	// CountConflicts counts non-canceled bookings overlapping [start, end).
	// It runs on the caller's handle so the booking orchestrator can use it in its transaction.
	CountConflicts(ctx context.Context, tx *gorm.DB, garageID snowflake.ID, start, end time.Time) (int, error)
	WindowAvailability(ctx context.Context, garageID snowflake.ID, start, end time.Time) (int, error)
	HasFreeSpot(ctx context.Context, garageID snowflake.ID) (bool, error)
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

var (
	ErrInvalidTimeRange   = errors.New("invalid_time_range")
	ErrInvalidCoordinates = errors.New("invalid_coordinates")
	ErrInvalidDistance    = errors.New("invalid_max_distance")
)

func init() {
	errkind.Register(errkind.InvalidArgument, ErrInvalidTimeRange, ErrInvalidCoordinates, ErrInvalidDistance)
}
