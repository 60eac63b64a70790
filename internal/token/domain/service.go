package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
)

type IssueRequest struct {
	CallerID          snowflake.ID  `json:"-"`
	UserID            snowflake.ID  `json:"user_id"`
	BookingID         *snowflake.ID `json:"booking_id"`
	ExpirationMinutes int           `json:"expiration_minutes"`
	ValidFrom         *time.Time    `json:"valid_from"`
}

type ValidateRequest struct {
	BookingID snowflake.ID `json:"booking_id"`
	Value     string       `json:"value"`
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (Token, error)

	// Validate consumes the token. Failures return the matching reason
	// alongside the error.
	Validate(ctx context.Context, req ValidateRequest) (ValidationResult, error)

	ListActiveByBooking(ctx context.Context, bookingID snowflake.ID) ([]Token, error)
	ListActiveByUser(ctx context.Context, userID snowflake.ID) ([]Token, error)

	// CleanupExpired deletes tokens that expired before now or were already
	// used, and returns how many rows went away.
	CleanupExpired(ctx context.Context, callerID snowflake.ID, now time.Time) (int64, error)
}

var (
	ErrUserNotFound      = errors.New("token_user_not_found")
	ErrBookingNotFound   = errors.New("token_booking_not_found")
	ErrBookingNotOwned   = errors.New("booking_not_owned_by_user")
	ErrInvalidExpiration = errors.New("invalid_expiration")
	ErrInvalidRequest    = errors.New("invalid_token_request")
	ErrInvalidToken      = errors.New(ReasonInvalid)
	ErrExpired           = errors.New(ReasonExpired)
	ErrNotYetValid       = errors.New(ReasonNotYetValid)
	ErrAlreadyUsed       = errors.New(ReasonAlreadyUsed)
)

func init() {
	errkind.Register(errkind.NotFound, ErrUserNotFound, ErrBookingNotFound, ErrInvalidToken)
	errkind.Register(errkind.Forbidden, ErrBookingNotOwned)
	errkind.Register(errkind.InvalidArgument, ErrInvalidExpiration, ErrInvalidRequest)
	errkind.Register(errkind.Conflict, ErrExpired, ErrNotYetValid, ErrAlreadyUsed)
}
