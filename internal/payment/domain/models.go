package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypePayment    TransactionType = "payment"
	TypeRefund     TransactionType = "refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypePayment, TypeRefund:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo rejects moving a settled payment back to pending.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusCompleted
	case StatusCompleted:
		return next == StatusFailed
	default:
		return false
	}
}

type PaymentTransaction struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	WalletID        snowflake.ID    `json:"wallet_id"`
	BookingID       *snowflake.ID   `json:"booking_id,omitempty"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(18,2)"`
	Type            TransactionType `json:"type"`
	Status          Status          `json:"status"`
	Reference       *string         `json:"reference,omitempty"`
	TransactionDate time.Time       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }
