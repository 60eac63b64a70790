package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/errkind"
	"github.com/smallbiznis/parkway/internal/garage/domain"
	"github.com/smallbiznis/parkway/internal/garage/repository"
	"github.com/smallbiznis/parkway/internal/testutil"
	"github.com/smallbiznis/parkway/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	svc   *Service
	db    *gorm.DB
	fx    *testutil.Fixtures
	clock *clock.FakeClock
}

func newHarness(t *testing.T) harness {
	t.Helper()
	conn := testutil.OpenDB(t)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Clock: fake,
		UoW:   db.NewUnitOfWork(conn),
		Repo:  repository.Provide(),
		Authz: authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}),
	}).(*Service)
	return harness{svc: svc, db: conn, fx: testutil.NewFixtures(t, conn), clock: fake}
}

func TestCreateGarage(t *testing.T) {
	h := newHarness(t)
	operator := h.fx.User("operator")

	g, err := h.svc.Create(context.Background(), domain.CreateGarageRequest{
		CallerID:     operator,
		Name:         "Central Plaza",
		City:         "Jakarta",
		Latitude:     testutil.Float(-6.2),
		Longitude:    testutil.Float(106.8),
		Capacity:     12,
		PricePerHour: decimal.RequireFromString("7.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, 12, g.AvailableSpots)
	assert.True(t, g.IsActive)
	assert.True(t, strings.HasPrefix(g.Slug, "central-plaza-"))

	stored, err := h.svc.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jakarta", stored.City)
	assert.True(t, stored.PricePerHour.Equal(decimal.RequireFromString("7.5")))
	require.NotNil(t, stored.Latitude)
	assert.InDelta(t, -6.2, *stored.Latitude, 1e-9)
}

func TestCreateGarageValidation(t *testing.T) {
	h := newHarness(t)
	operator := h.fx.User("operator")
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CreateGarageRequest
		want error
	}{
		{"empty name", domain.CreateGarageRequest{Capacity: 1}, domain.ErrInvalidName},
		{"zero capacity", domain.CreateGarageRequest{Name: "A"}, domain.ErrInvalidCapacity},
		{"negative price", domain.CreateGarageRequest{Name: "A", Capacity: 1, PricePerHour: decimal.NewFromInt(-1)}, domain.ErrInvalidPrice},
		{"latitude out of range", domain.CreateGarageRequest{Name: "A", Capacity: 1, Latitude: testutil.Float(91), Longitude: testutil.Float(0)}, domain.ErrInvalidCoordinates},
		{"half coordinates", domain.CreateGarageRequest{Name: "A", Capacity: 1, Latitude: testutil.Float(1)}, domain.ErrInvalidCoordinates},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.CallerID = operator
			_, err := h.svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, errkind.Is(err, errkind.InvalidArgument))
		})
	}
}

func TestCreateGarageRequiresPermission(t *testing.T) {
	h := newHarness(t)
	customer := h.fx.User("customer")

	_, err := h.svc.Create(context.Background(), domain.CreateGarageRequest{CallerID: customer, Name: "A", Capacity: 1})
	assert.True(t, errkind.Is(err, errkind.Forbidden))
}

func TestGetByIDNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestToggleStatus(t *testing.T) {
	h := newHarness(t)
	operator := h.fx.User("operator")
	garageID := h.fx.Garage(testutil.GarageSpec{Capacity: 3})

	g, err := h.svc.ToggleStatus(context.Background(), domain.ToggleStatusRequest{CallerID: operator, GarageID: garageID})
	require.NoError(t, err)
	assert.False(t, g.IsActive)

	g, err = h.svc.ToggleStatus(context.Background(), domain.ToggleStatusRequest{CallerID: operator, GarageID: garageID})
	require.NoError(t, err)
	assert.True(t, g.IsActive)

	_, err = h.svc.ToggleStatus(context.Background(), domain.ToggleStatusRequest{CallerID: operator, GarageID: 12345})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	h.fx.Garage(testutil.GarageSpec{Capacity: 5, City: "Bandung"})
	h.fx.Garage(testutil.GarageSpec{Capacity: 5, AvailableSpots: testutil.Int(1), City: "Bandung"})
	h.fx.Garage(testutil.GarageSpec{Capacity: 5, City: "Bandung", Inactive: true})
	h.fx.Garage(testutil.GarageSpec{Capacity: 5, City: "Jakarta"})

	all, err := h.svc.Search(context.Background(), domain.SearchRequest{City: "bandung"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := h.svc.Search(context.Background(), domain.SearchRequest{City: "Bandung", ActiveOnly: true, MinAvailableSpots: testutil.Int(2)})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	_, err = h.svc.Search(context.Background(), domain.SearchRequest{MinAvailableSpots: testutil.Int(-1)})
	assert.True(t, errkind.Is(err, errkind.InvalidArgument))
}

func TestDecrementAndIncrementStayInBounds(t *testing.T) {
	h := newHarness(t)
	repo := repository.Provide()
	ctx := context.Background()
	now := h.clock.Now()
	garageID := h.fx.Garage(testutil.GarageSpec{Capacity: 1})

	ok, err := repo.IncrementSpots(ctx, h.db, garageID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garageID))

	ok, err = repo.DecrementSpots(ctx, h.db, garageID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecrementSpots(ctx, h.db, garageID, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, testutil.AvailableSpots(t, h.db, garageID))
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	user := h.fx.User("customer")

	drifted := h.fx.Garage(testutil.GarageSpec{Capacity: 4, AvailableSpots: testutil.Int(0)})
	h.fx.Booking(user, drifted, now.Add(-time.Hour), now.Add(time.Hour), "confirmed", "10")
	h.fx.Booking(user, drifted, now.Add(2*time.Hour), now.Add(3*time.Hour), "pending", "10")
	h.fx.Booking(user, drifted, now.Add(-3*time.Hour), now.Add(-2*time.Hour), "confirmed", "10")
	h.fx.Booking(user, drifted, now.Add(time.Hour), now.Add(2*time.Hour), "canceled", "10")

	sensored := h.fx.Garage(testutil.GarageSpec{Capacity: 4, AvailableSpots: testutil.Int(0)})
	h.fx.Sensor(sensored, true, "active")

	inSync := h.fx.Garage(testutil.GarageSpec{Capacity: 2})

	res, err := h.svc.Reconcile(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Adjusted)

	assert.Equal(t, 2, testutil.AvailableSpots(t, h.db, drifted))
	assert.Equal(t, 0, testutil.AvailableSpots(t, h.db, sensored))
	assert.Equal(t, 2, testutil.AvailableSpots(t, h.db, inSync))

	res, err = h.svc.Reconcile(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Adjusted)
}
