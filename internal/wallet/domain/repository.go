package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, wallet *Wallet) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Wallet, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Wallet, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Wallet, error)

	// UpdateBalance applies the new balance only when the row still carries
	// expectedVersion. It reports false when another writer got there first.
	UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance decimal.Decimal, expectedVersion int64, now time.Time) (bool, error)

	InsertEntry(ctx context.Context, db *gorm.DB, entry *WalletEntry) error
	FindEntryByKey(ctx context.Context, db *gorm.DB, walletID snowflake.ID, key string) (*WalletEntry, error)
	ListEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]*WalletEntry, error)

	// SumEntries totals the postings in one direction tied to a source record.
	SumEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, direction EntryDirection, sourceType string, sourceID snowflake.ID) (decimal.Decimal, error)
}
