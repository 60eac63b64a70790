package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/pkg/geo"
)

type Garage struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	Location       string          `json:"location"`
	City           string          `json:"city"`
	Area           string          `json:"area"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	Capacity       int             `json:"capacity"`
	AvailableSpots int             `json:"available_spots"`
	IsActive       bool            `json:"is_active"`
	PricePerHour   decimal.Decimal `json:"price_per_hour" gorm:"type:numeric(18,2)"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Garage) TableName() string { return "garages" }

// HasCoordinates reports whether the garage can take part in distance ranking.
func (g Garage) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}

type SearchFilter struct {
	City              string
	MinAvailableSpots *int
	ActiveOnly        bool
}

// BoxFilter narrows active garages for availability search. With a nil Box
// garages without coordinates are kept.
type BoxFilter struct {
	City string
	Box  *geo.BoundingBox
}
