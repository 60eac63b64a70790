package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrTxDone = errors.New("transaction already finished")

// UnitOfWork hands out explicit transactions. Repository calls made inside a
// unit of work must use Tx.Handle so every read and write shares one connection.
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Tx is a single open transaction.
type Tx struct {
	handle *gorm.DB
	done   bool
}

func (u *UnitOfWork) Begin(ctx context.Context) (*Tx, error) {
	handle := u.db.WithContext(ctx).Begin()
	if handle.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", handle.Error)
	}
	return &Tx{handle: handle}, nil
}

func (t *Tx) Handle() *gorm.DB {
	return t.handle
}

func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.handle.Commit().Error
}

// Rollback is a no-op after Commit, so it is safe to defer.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.handle.Rollback().Error
}

// WithTx runs fn in a transaction. It commits when fn returns nil and the
// context is still live, and rolls back on error, panic or cancellation.
func (u *UnitOfWork) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx, err := u.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx.Handle()); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}
