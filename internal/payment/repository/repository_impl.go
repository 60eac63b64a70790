package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/payment/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, wallet_id, booking_id, amount, type, status, reference, transaction_date, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.WalletID,
		p.BookingID,
		p.Amount,
		p.Type,
		p.Status,
		p.Reference,
		p.TransactionDate,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentTransaction, error) {
	return r.findOne(ctx, db, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	if err := db.WithContext(ctx).Raw(query, id).Scan(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*domain.PaymentTransaction, error) {
	var items []*domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT p.id, p.wallet_id, p.booking_id, p.amount, p.type, p.status, p.reference,
			p.transaction_date, p.created_at, p.updated_at
		 FROM payment_transactions p
		 JOIN wallets w ON w.id = p.wallet_id
		 WHERE w.user_id = ?
		 ORDER BY p.transaction_date DESC, p.id DESC
		 LIMIT ?`,
		userID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, reference *string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, reference = COALESCE(?, reference), updated_at = ?
		 WHERE id = ?`,
		status, reference, now, id,
	).Error
}

func (r *repo) HasCompletedPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ? AND type = ? AND status = ?`,
		bookingID, domain.TypePayment, domain.StatusCompleted,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repo) LatestCompletedPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payment_transactions
		 WHERE booking_id = ? AND type = ? AND status = ?
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT 1`,
		bookingID, domain.TypePayment, domain.StatusCompleted,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}
