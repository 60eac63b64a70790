package seed

import (
	"context"
	"errors"
	"time"

	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	"gorm.io/gorm"
)

const (
	systemUserName  = "Parkway System"
	systemUserEmail = "system@parkway.local"
)

// EnsureSystemUser seeds the fixed actor that background jobs and queue consumers run as.
func EnsureSystemUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Raw(`SELECT COUNT(1) FROM users WHERE id = ?`, userdomain.SystemUserID).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		now := time.Now().UTC()
		return tx.Exec(
			`INSERT INTO users (id, name, email, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			userdomain.SystemUserID,
			systemUserName,
			systemUserEmail,
			userdomain.RoleSystem,
			now,
			now,
		).Error
	})
}
