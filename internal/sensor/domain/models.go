package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Type string

const (
	TypeEntry     Type = "entry"
	TypeExit      Type = "exit"
	TypeOccupancy Type = "occupancy"
)

func (t Type) Valid() bool {
	switch t {
	case TypeEntry, TypeExit, TypeOccupancy:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

type Sensor struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	GarageID        snowflake.ID `json:"garage_id"`
	Type            Type         `json:"type"`
	Status          Status       `json:"status"`
	IsOccupied      bool         `json:"is_occupied"`
	LastReportedAt  *time.Time   `json:"last_reported_at,omitempty"`
	LastMaintenance *time.Time   `json:"last_maintenance,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Sensor) TableName() string { return "sensors" }

// OccupancyEvent is handed to the check-in hook when a report names a booking.
type OccupancyEvent struct {
	SensorID   snowflake.ID
	GarageID   snowflake.ID
	BookingID  snowflake.ID
	IsOccupied bool
	Changed    bool
	ReportedAt time.Time
}

// ReportAck is returned for every accepted report, including stale ones.
type ReportAck struct {
	SensorID       snowflake.ID `json:"sensor_id"`
	Changed        bool         `json:"changed"`
	Stale          bool         `json:"stale"`
	AvailableSpots int          `json:"available_spots"`
}
