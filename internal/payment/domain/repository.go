package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentTransaction, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*PaymentTransaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, reference *string, now time.Time) error

	HasCompletedPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (bool, error)
	LatestCompletedPayment(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*PaymentTransaction, error)
}
