package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/errkind"
	"gorm.io/gorm"
)

type CreateWalletRequest struct {
	CallerID       snowflake.ID    `json:"-"`
	UserID         snowflake.ID    `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// MutationRequest is a caller-facing deposit or debit.
type MutationRequest struct {
	CallerID       snowflake.ID    `json:"-"`
	WalletID       snowflake.ID    `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// TxMutation is a deposit or debit composed into another service's transaction.
type TxMutation struct {
	WalletID       snowflake.ID
	Amount         decimal.Decimal
	IdempotencyKey string
	SourceType     string
	SourceID       *snowflake.ID
}

type Service interface {
	Create(ctx context.Context, req CreateWalletRequest) (Wallet, error)
	GetByID(ctx context.Context, id snowflake.ID) (Wallet, error)
	GetByUserID(ctx context.Context, userID snowflake.ID) (Wallet, error)
	ListEntries(ctx context.Context, walletID, callerID snowflake.ID, limit int) ([]WalletEntry, error)

	Deposit(ctx context.Context, req MutationRequest) (Wallet, error)
	Debit(ctx context.Context, req MutationRequest) (Wallet, error)

	DepositTx(ctx context.Context, tx *gorm.DB, m TxMutation) (Wallet, error)
	DebitTx(ctx context.Context, tx *gorm.DB, m TxMutation) (Wallet, error)
}

var (
	ErrNotFound            = errors.New("wallet_not_found")
	ErrUserNotFound        = errors.New("wallet_user_not_found")
	ErrAlreadyExists       = errors.New("wallet_already_exists")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidBalance      = errors.New("invalid_initial_balance")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrConcurrentUpdate    = errors.New("concurrent_update")
)

func init() {
	errkind.Register(errkind.NotFound, ErrNotFound, ErrUserNotFound)
	errkind.Register(errkind.InvalidArgument, ErrInvalidAmount, ErrInvalidBalance)
	errkind.Register(errkind.Conflict, ErrAlreadyExists, ErrInsufficientBalance, ErrConcurrentUpdate)
}
