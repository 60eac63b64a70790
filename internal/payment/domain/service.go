package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/errkind"
)

type RecordPaymentRequest struct {
	CallerID  snowflake.ID    `json:"-"`
	BookingID snowflake.ID    `json:"booking_id"`
	WalletID  snowflake.ID    `json:"wallet_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Status    Status          `json:"status"`
	Reference *string         `json:"reference"`
}

type UpdateStatusRequest struct {
	CallerID  snowflake.ID `json:"-"`
	ID        snowflake.ID `json:"-"`
	Status    Status       `json:"status"`
	Reference *string      `json:"reference"`
}

// RecordPaymentResult carries the stored transaction and whether it confirmed the booking.
type RecordPaymentResult struct {
	Transaction      PaymentTransaction `json:"transaction"`
	BookingConfirmed bool               `json:"booking_confirmed"`
}

type Service interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (RecordPaymentResult, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (PaymentTransaction, error)
	GetByID(ctx context.Context, id, callerID snowflake.ID) (PaymentTransaction, error)
	ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]PaymentTransaction, error)
}

var (
	ErrNotFound          = errors.New("payment_not_found")
	ErrBookingNotFound   = errors.New("payment_booking_not_found")
	ErrWalletNotFound    = errors.New("payment_wallet_not_found")
	ErrUserNotFound      = errors.New("payment_user_not_found")
	ErrInvalidType       = errors.New("invalid_payment_type")
	ErrInvalidStatus     = errors.New("invalid_payment_status")
	ErrInvalidAmount     = errors.New("invalid_payment_amount")
	ErrAmountMismatch    = errors.New("payment_amount_mismatch")
	ErrWalletNotOwned    = errors.New("wallet_not_owned_by_booking_user")
	ErrBookingCanceled   = errors.New("booking_canceled")
	ErrAlreadyPaid       = errors.New("booking_already_paid")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrNotBookingPayment = errors.New("payment_not_linked_to_booking")
)

func init() {
	errkind.Register(errkind.NotFound, ErrNotFound, ErrBookingNotFound, ErrWalletNotFound, ErrUserNotFound)
	errkind.Register(errkind.InvalidArgument, ErrInvalidType, ErrInvalidStatus, ErrInvalidAmount, ErrAmountMismatch)
	errkind.Register(errkind.Forbidden, ErrWalletNotOwned)
	errkind.Register(errkind.Conflict, ErrBookingCanceled, ErrAlreadyPaid, ErrInvalidTransition, ErrNotBookingPayment)
}
