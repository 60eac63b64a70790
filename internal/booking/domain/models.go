package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
)

// CanTransitionTo encodes pending -> confirmed and pending|confirmed -> canceled.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCanceled
	case StatusConfirmed:
		return next == StatusCanceled
	default:
		return false
	}
}

type PaymentMode string

const (
	// PaymentModeWallet debits the user's wallet while booking and confirms immediately.
	PaymentModeWallet PaymentMode = "wallet"
	// PaymentModeDeferred leaves the booking pending until a payment is recorded.
	PaymentModeDeferred PaymentMode = "deferred"
)

type Booking struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID    `json:"user_id"`
	GarageID   snowflake.ID    `json:"garage_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	TotalPrice decimal.Decimal `json:"total_price" gorm:"type:numeric(18,2)"`
	Status     Status          `json:"status"`
	CanceledAt *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

// Price is hours times the hourly rate, rounded to cents.
func Price(start, end time.Time, perHour decimal.Decimal) decimal.Decimal {
	hours := decimal.NewFromInt(int64(end.Sub(start) / time.Second)).Div(decimal.NewFromInt(3600))
	return hours.Mul(perHour).Round(2)
}
