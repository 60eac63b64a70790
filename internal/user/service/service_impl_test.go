package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
	"github.com/smallbiznis/parkway/internal/testutil"
	"github.com/smallbiznis/parkway/internal/user/domain"
	"github.com/smallbiznis/parkway/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(t *testing.T) domain.Service {
	conn := testutil.OpenDB(t)
	return New(Params{DB: conn, Log: zap.NewNop(), GenID: testutil.Node(t), Repo: repository.Provide()})
}

func TestCreateUser(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, err := svc.Create(ctx, domain.CreateUserRequest{Name: "  Rina ", Email: "Rina@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Rina", user.Name)
	assert.Equal(t, "rina@example.com", user.Email)
	assert.Equal(t, domain.RoleCustomer, user.Role)

	got, err := svc.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	_, err = svc.Create(ctx, domain.CreateUserRequest{Name: "Other", Email: "RINA@example.com"})
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
	assert.True(t, errkind.Is(err, errkind.Conflict))
}

func TestCreateUserValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := map[string]struct {
		req domain.CreateUserRequest
		err error
	}{
		"blank name":   {domain.CreateUserRequest{Email: "a@b.co"}, domain.ErrInvalidName},
		"bad email":    {domain.CreateUserRequest{Name: "A", Email: "nope"}, domain.ErrInvalidEmail},
		"unknown role": {domain.CreateUserRequest{Name: "A", Email: "a@b.co", Role: "owner"}, domain.ErrInvalidRole},
		"system role":  {domain.CreateUserRequest{Name: "A", Email: "a@b.co", Role: domain.RoleSystem}, domain.ErrInvalidRole},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.err)
			assert.True(t, errkind.Is(err, errkind.InvalidArgument))
		})
	}

	_, err := svc.GetByID(ctx, snowflake.ID(3))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
