package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Token is a single-use access credential for a booking's gate.
type Token struct {
	ID        snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID  `json:"user_id"`
	BookingID *snowflake.ID `json:"booking_id,omitempty"`
	Value     string        `json:"value"`
	ValidFrom time.Time     `json:"valid_from"`
	ValidTo   time.Time     `json:"valid_to"`
	IsUsed    bool          `json:"is_used"`
	UsedAt    *time.Time    `json:"used_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (Token) TableName() string { return "tokens" }

// Validation reasons returned to gate clients.
const (
	ReasonOK             = "ok"
	ReasonInvalid        = "invalid_token"
	ReasonExpired        = "token_expired"
	ReasonNotYetValid    = "token_not_yet_valid"
	ReasonAlreadyUsed    = "token_already_used"
	ReasonInvalidRequest = "invalid_request"
)

type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}
