package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// SystemUserID is the seeded actor used by background jobs and queue consumers.
const SystemUserID snowflake.ID = 1

type User struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null" json:"name"`
	Email     string       `gorm:"not null" json:"email"`
	Role      Role         `gorm:"not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleOperator, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}
