package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
)

type CreateBookingRequest struct {
	UserID      snowflake.ID `json:"-"`
	GarageID    snowflake.ID `json:"garage_id"`
	Start       time.Time    `json:"start_time"`
	End         time.Time    `json:"end_time"`
	PaymentMode PaymentMode  `json:"payment_mode"`
}

type CancelBookingRequest struct {
	BookingID snowflake.ID
	CallerID  snowflake.ID
}

type Service interface {
	Create(ctx context.Context, req CreateBookingRequest) (Booking, error)
	Cancel(ctx context.Context, req CancelBookingRequest) (Booking, error)
	GetByID(ctx context.Context, id, callerID snowflake.ID) (Booking, error)
	ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]Booking, error)
	ListByGarage(ctx context.Context, garageID, callerID snowflake.ID, limit int) ([]Booking, error)

	// Receipt renders a PDF receipt for a confirmed booking.
	Receipt(ctx context.Context, id, callerID snowflake.ID) ([]byte, error)
}

var (
	ErrNotFound           = errors.New("booking_not_found")
	ErrUserNotFound       = errors.New("booking_user_not_found")
	ErrInvalidTimeRange   = errors.New("invalid_time_range")
	ErrStartInPast        = errors.New("start_time_in_past")
	ErrSpanTooLong        = errors.New("booking_span_too_long")
	ErrInvalidPaymentMode = errors.New("invalid_payment_mode")
	ErrNoSpotsAvailable   = errors.New("no_spots_available")
	ErrWalletRequired     = errors.New("wallet_required")
	ErrAlreadyCanceled    = errors.New("booking_already_canceled")
	ErrCancellationClosed = errors.New("cancellation_window_closed")
	ErrInvalidTransition  = errors.New("invalid_status_transition")
	ErrNotConfirmed       = errors.New("booking_not_confirmed")
)

func init() {
	errkind.Register(errkind.NotFound, ErrNotFound, ErrUserNotFound, ErrWalletRequired)
	errkind.Register(errkind.InvalidArgument, ErrInvalidTimeRange, ErrStartInPast, ErrSpanTooLong, ErrInvalidPaymentMode)
	errkind.Register(errkind.Conflict, ErrNoSpotsAvailable, ErrAlreadyCanceled, ErrCancellationClosed, ErrInvalidTransition, ErrNotConfirmed)
}
