package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	CallerID snowflake.ID `json:"-"`
	GarageID snowflake.ID `json:"garage_id"`
	Type     Type         `json:"type"`
}

type SetStatusRequest struct {
	CallerID        snowflake.ID `json:"-"`
	SensorID        snowflake.ID `json:"-"`
	Status          Status       `json:"status"`
	LastMaintenance *time.Time   `json:"last_maintenance"`
}

type ReportRequest struct {
	CallerID   snowflake.ID  `json:"-"`
	SensorID   snowflake.ID  `json:"sensor_id"`
	IsOccupied bool          `json:"is_occupied"`
	Timestamp  time.Time     `json:"timestamp"`
	BookingID  *snowflake.ID `json:"booking_id,omitempty"`
}

// CheckInHook lets booking-aware logic react to a sensor report inside the
// same transaction. Returning an error rolls the report back.
type CheckInHook interface {
	OnOccupancy(ctx context.Context, tx *gorm.DB, event OccupancyEvent) error
}

// NoopCheckInHook accepts every event.
type NoopCheckInHook struct{}

func (NoopCheckInHook) OnOccupancy(context.Context, *gorm.DB, OccupancyEvent) error { return nil }

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (Sensor, error)
	GetByID(ctx context.Context, id snowflake.ID) (Sensor, error)
	ListByGarage(ctx context.Context, garageID snowflake.ID) ([]Sensor, error)
	SetStatus(ctx context.Context, req SetStatusRequest) (Sensor, error)
	ReportStatus(ctx context.Context, req ReportRequest) (ReportAck, error)
}

var (
	ErrNotFound         = errors.New("sensor_not_found")
	ErrGarageNotFound   = errors.New("sensor_garage_not_found")
	ErrInvalidType      = errors.New("invalid_sensor_type")
	ErrInvalidStatus    = errors.New("invalid_sensor_status")
	ErrInvalidTimestamp = errors.New("invalid_report_timestamp")
	ErrInactive         = errors.New("sensor_inactive")
)

func init() {
	errkind.Register(errkind.NotFound, ErrNotFound, ErrGarageNotFound)
	errkind.Register(errkind.InvalidArgument, ErrInvalidType, ErrInvalidStatus, ErrInvalidTimestamp)
	errkind.Register(errkind.Conflict, ErrInactive)
}
