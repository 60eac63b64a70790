package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
)

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	GetByID(ctx context.Context, id snowflake.ID) (User, error)
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrInvalidRole  = errors.New("invalid_role")
	ErrEmailTaken   = errors.New("email_already_registered")
	ErrNotFound     = errors.New("user_not_found")
)

func init() {
	errkind.Register(errkind.InvalidArgument, ErrInvalidName, ErrInvalidEmail, ErrInvalidRole)
	errkind.Register(errkind.Conflict, ErrEmailTaken)
	errkind.Register(errkind.NotFound, ErrNotFound)
}
