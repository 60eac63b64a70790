package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/errkind"
)

type CreateGarageRequest struct {
	CallerID     snowflake.ID    `json:"-"`
	Name         string          `json:"name"`
	Location     string          `json:"location"`
	City         string          `json:"city"`
	Area         string          `json:"area"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	Capacity     int             `json:"capacity"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
}

type ToggleStatusRequest struct {
	CallerID snowflake.ID
	GarageID snowflake.ID
}

type SearchRequest struct {
	City              string `form:"city"`
	MinAvailableSpots *int   `form:"min_available_spots"`
	ActiveOnly        bool   `form:"active_only"`
}

type ReconcileResult struct {
	Scanned  int
	Adjusted int
}

type Service interface {
	Create(ctx context.Context, req CreateGarageRequest) (Garage, error)
	GetByID(ctx context.Context, id snowflake.ID) (Garage, error)
	ToggleStatus(ctx context.Context, req ToggleStatusRequest) (Garage, error)
	Search(ctx context.Context, req SearchRequest) ([]Garage, error)

	// Reconcile recomputes available spots from bookings that still hold a
	// spot at now, for garages that have no active sensor feeding the counter.
	Reconcile(ctx context.Context, now time.Time) (ReconcileResult, error)
}

var (
	ErrNotFound           = errors.New("garage_not_found")
	ErrInvalidName        = errors.New("invalid_garage_name")
	ErrInvalidCapacity    = errors.New("invalid_capacity")
	ErrInvalidPrice       = errors.New("invalid_price_per_hour")
	ErrInvalidCoordinates = errors.New("invalid_coordinates")
	ErrInactive           = errors.New("garage_inactive")
)

func init() {
	errkind.Register(errkind.NotFound, ErrNotFound)
	errkind.Register(errkind.InvalidArgument, ErrInvalidName, ErrInvalidCapacity, ErrInvalidPrice, ErrInvalidCoordinates)
	errkind.Register(errkind.Conflict, ErrInactive)
}
