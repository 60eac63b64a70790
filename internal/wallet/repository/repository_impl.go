package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/wallet/domain"
	"gorm.io/gorm"
)

const walletColumns = `id, user_id, balance, version, last_updated, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, w *domain.Wallet) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallets (`+walletColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID,
		w.UserID,
		w.Balance,
		w.Version,
		w.LastUpdated,
		w.CreatedAt,
		w.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Wallet, error) {
	return r.findOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Wallet, error) {
	return r.findOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Wallet, error) {
	return r.findOne(ctx, db, `SELECT `+walletColumns+` FROM wallets WHERE user_id = ?`, userID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.Wallet, error) {
	var wallet domain.Wallet
	if err := db.WithContext(ctx).Raw(query, arg).Scan(&wallet).Error; err != nil {
		return nil, err
	}
	if wallet.ID == 0 {
		return nil, nil
	}
	return &wallet, nil
}

func (r *repo) UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, balance decimal.Decimal, expectedVersion int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE wallets
		 SET balance = ?, version = version + 1, last_updated = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		balance, now, now, id, expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, e *domain.WalletEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO wallet_entries (
			id, wallet_id, direction, amount, balance_after, source_type, source_id, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.WalletID,
		e.Direction,
		e.Amount,
		e.BalanceAfter,
		e.SourceType,
		e.SourceID,
		e.IdempotencyKey,
		e.CreatedAt,
	).Error
}

func (r *repo) FindEntryByKey(ctx context.Context, db *gorm.DB, walletID snowflake.ID, key string) (*domain.WalletEntry, error) {
	var entry domain.WalletEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, wallet_id, direction, amount, balance_after, source_type, source_id, idempotency_key, created_at
		 FROM wallet_entries WHERE wallet_id = ? AND idempotency_key = ?`,
		walletID, key,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, limit int) ([]*domain.WalletEntry, error) {
	var entries []*domain.WalletEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, wallet_id, direction, amount, balance_after, source_type, source_id, idempotency_key, created_at
		 FROM wallet_entries WHERE wallet_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		walletID, limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, walletID snowflake.ID, direction domain.EntryDirection, sourceType string, sourceID snowflake.ID) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total FROM wallet_entries
		 WHERE wallet_id = ? AND direction = ? AND source_type = ? AND source_id = ?`,
		walletID, direction, sourceType, sourceID,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}
