package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID    `json:"user_id"`
	Balance     decimal.Decimal `json:"balance" gorm:"type:numeric(18,2)"`
	Version     int64           `json:"version"`
	LastUpdated time.Time       `json:"last_updated"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

type EntryDirection string

const (
	DirectionCredit EntryDirection = "credit"
	DirectionDebit  EntryDirection = "debit"
)

// Source types recorded on wallet entries.
const (
	SourceDeposit = "deposit"
	SourceDebit   = "debit"
	SourceBooking = "booking"
	SourceRefund  = "refund"
)

// WalletEntry is an immutable posting. BalanceAfter is the wallet balance
// once the entry is applied.
type WalletEntry struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	WalletID       snowflake.ID    `json:"wallet_id"`
	Direction      EntryDirection  `json:"direction"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	SourceType     string          `json:"source_type"`
	SourceID       *snowflake.ID   `json:"source_id,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }
