package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/parkway/internal/authorization"
	availabilityrepo "github.com/smallbiznis/parkway/internal/availability/repository"
	availabilitysvc "github.com/smallbiznis/parkway/internal/availability/service"
	"github.com/smallbiznis/parkway/internal/booking/domain"
	"github.com/smallbiznis/parkway/internal/booking/repository"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/errkind"
	garagerepo "github.com/smallbiznis/parkway/internal/garage/repository"
	"github.com/smallbiznis/parkway/internal/occupancy"
	paymentrepo "github.com/smallbiznis/parkway/internal/payment/repository"
	"github.com/smallbiznis/parkway/internal/providers/pdf"
	"github.com/smallbiznis/parkway/internal/testutil"
	tokenrepo "github.com/smallbiznis/parkway/internal/token/repository"
	tokensvc "github.com/smallbiznis/parkway/internal/token/service"
	userrepo "github.com/smallbiznis/parkway/internal/user/repository"
	walletrepo "github.com/smallbiznis/parkway/internal/wallet/repository"
	walletsvc "github.com/smallbiznis/parkway/internal/wallet/service"
	"github.com/smallbiznis/parkway/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var morning = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	db    *gorm.DB
	fx    *testutil.Fixtures
	clock *clock.FakeClock
	hub   *occupancy.Hub
}

func newHarness(t *testing.T, policy config.BookingPolicy) harness {
	t.Helper()
	conn := testutil.OpenDB(t)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})

	node := testutil.Node(t)
	fake := clock.NewFakeClock(morning)
	uow := db.NewUnitOfWork(conn)
	policies := config.StaticPolicy(policy)
	hub := occupancy.NewHub()

	wallets := walletsvc.New(walletsvc.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		UoW:      uow,
		Repo:     walletrepo.Provide(),
		UserRepo: userrepo.Provide(),
		Authz:    authz,
	})
	tokens := tokensvc.New(tokensvc.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		UoW:    uow,
		Policy: policies,
		Repo:   tokenrepo.Provide(),
		Authz:  authz,
	})
	availability := availabilitysvc.New(availabilitysvc.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Repo:       availabilityrepo.Provide(),
		GarageRepo: garagerepo.Provide(),
	})

	svc := New(Params{
		DB:              conn,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           fake,
		UoW:             uow,
		Policy:          policies,
		Repo:            repository.Provide(),
		GarageRepo:      garagerepo.Provide(),
		UserRepo:        userrepo.Provide(),
		WalletRepo:      walletrepo.Provide(),
		PaymentRepo:     paymentrepo.Provide(),
		AvailabilitySvc: availability,
		WalletSvc:       wallets,
		Authz:           authz,
		TokenSvc:        tokens,
		Occupancy:       hub,
		PDF:             pdf.New(),
	}).(*Service)
	return harness{svc: svc, db: conn, fx: testutil.NewFixtures(t, conn), clock: fake, hub: hub}
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 2, hour, 0, 0, 0, time.UTC)
}

func money(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func countRows(t *testing.T, conn *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Raw(query, args...).Scan(&n).Error)
	return n
}

func TestCapacityOneScenario(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	other := h.fx.User("customer")
	wallet := h.fx.Wallet(user, "50")
	h.fx.Wallet(other, "50")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 1, PricePerHour: "10"})

	first, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(9), End: at(11), PaymentMode: domain.PaymentModeWallet,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, first.Status)
	assert.True(t, first.TotalPrice.Equal(money("20")))
	assert.Equal(t, 0, testutil.AvailableSpots(t, h.db, garage))
	assert.True(t, testutil.WalletBalance(t, h.db, wallet).Equal(money("30")))

	_, err = h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: other, GarageID: garage, Start: at(10), End: at(12), PaymentMode: domain.PaymentModeWallet,
	})
	assert.ErrorIs(t, err, domain.ErrNoSpotsAvailable)
	assert.True(t, errkind.Is(err, errkind.Conflict))

	h.clock.Set(at(7))
	canceled, err := h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: first.ID, CallerID: user})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))

	// Default refund policy keeps the money.
	assert.True(t, testutil.WalletBalance(t, h.db, wallet).Equal(money("30")))
}

func TestCreateWalletModeRecordsPaymentAndToken(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	h.fx.Wallet(user, "100")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 3, PricePerHour: "7.5"})

	sub, _, err := h.hub.Subscribe(garage)
	require.NoError(t, err)
	defer sub.Close()

	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(8), End: at(9).Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, booking.TotalPrice.Equal(money("11.25")))

	assert.Equal(t, int64(1), countRows(t, h.db,
		`SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ? AND type = 'payment' AND status = 'completed'`, booking.ID))
	assert.Equal(t, int64(1), countRows(t, h.db,
		`SELECT COUNT(*) FROM tokens WHERE booking_id = ? AND user_id = ?`, booking.ID, user))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, occupancy.KindBookingCreated, ev.Kind)
		assert.Equal(t, 2, ev.AvailableSpots)
	case <-time.After(time.Second):
		t.Fatal("no occupancy event")
	}
}

func TestCreateDeferredLeavesPending(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2})

	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(9), End: at(10), PaymentMode: domain.PaymentModeDeferred,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, booking.Status)
	assert.True(t, booking.TotalPrice.Equal(money("10")))
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))
	assert.Equal(t, int64(0), countRows(t, h.db, `SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ?`, booking.ID))
	assert.Equal(t, int64(0), countRows(t, h.db, `SELECT COUNT(*) FROM tokens WHERE booking_id = ?`, booking.ID))
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	h.fx.Wallet(user, "5")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2})
	inactive := h.fx.Garage(testutil.GarageSpec{Capacity: 2, Inactive: true})
	full := h.fx.Garage(testutil.GarageSpec{Capacity: 2, AvailableSpots: testutil.Int(0)})

	cases := []struct {
		name string
		req  domain.CreateBookingRequest
		err  error
		kind errkind.Kind
	}{
		{"reversed window", domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(10), End: at(9)}, domain.ErrInvalidTimeRange, errkind.InvalidArgument},
		{"start in past", domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(5), End: at(9)}, domain.ErrStartInPast, errkind.InvalidArgument},
		{"span too long", domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(7), End: at(7).Add(25 * time.Hour)}, domain.ErrSpanTooLong, errkind.InvalidArgument},
		{"bad mode", domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(7), End: at(8), PaymentMode: "cash"}, domain.ErrInvalidPaymentMode, errkind.InvalidArgument},
		{"unknown user", domain.CreateBookingRequest{UserID: snowflake.ID(42), GarageID: garage, Start: at(7), End: at(8)}, domain.ErrUserNotFound, errkind.NotFound},
		{"inactive garage", domain.CreateBookingRequest{UserID: user, GarageID: inactive, Start: at(7), End: at(8), PaymentMode: domain.PaymentModeDeferred}, nil, errkind.Conflict},
		{"unknown garage", domain.CreateBookingRequest{UserID: user, GarageID: snowflake.ID(43), Start: at(7), End: at(8)}, nil, errkind.NotFound},
		{"no spots", domain.CreateBookingRequest{UserID: user, GarageID: full, Start: at(7), End: at(8), PaymentMode: domain.PaymentModeDeferred}, domain.ErrNoSpotsAvailable, errkind.Conflict},
		{"insufficient balance", domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(7), End: at(8)}, nil, errkind.Conflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tc.req)
			require.Error(t, err)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
			assert.True(t, errkind.Is(err, tc.kind), "kind of %v", err)
		})
	}

	assert.Equal(t, 2, testutil.AvailableSpots(t, h.db, garage))
	assert.Equal(t, int64(0), countRows(t, h.db, `SELECT COUNT(*) FROM bookings`))
}

func TestCreateRequiresWalletInWalletMode(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 1})

	_, err := h.svc.Create(context.Background(), domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(9), End: at(10)})
	assert.ErrorIs(t, err, domain.ErrWalletRequired)
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))
}

func TestWindowAvailabilityBlocksOverbooking(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	// The counter still shows a free spot but the window is already held.
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 1, AvailableSpots: testutil.Int(1)})
	h.fx.Booking(user, garage, at(9), at(11), "confirmed", "20")

	_, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(10), End: at(12), PaymentMode: domain.PaymentModeDeferred,
	})
	assert.ErrorIs(t, err, domain.ErrNoSpotsAvailable)

	_, err = h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(11), End: at(12), PaymentMode: domain.PaymentModeDeferred,
	})
	assert.NoError(t, err)
}

func TestConcurrentBookingsRespectFreeSpots(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	const spots, attempts = 3, 8
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 10, AvailableSpots: testutil.Int(spots)})

	users := make([]snowflake.ID, attempts)
	for i := range users {
		users[i] = h.fx.User("customer")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, user := range users {
		wg.Add(1)
		go func(user snowflake.ID) {
			defer wg.Done()
			_, err := h.svc.Create(ctx, domain.CreateBookingRequest{
				UserID: user, GarageID: garage, Start: at(9), End: at(10), PaymentMode: domain.PaymentModeDeferred,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrNoSpotsAvailable)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, spots, succeeded)
	assert.Equal(t, 0, testutil.AvailableSpots(t, h.db, garage))
	assert.Equal(t, int64(spots), countRows(t, h.db, `SELECT COUNT(*) FROM bookings WHERE garage_id = ?`, garage))
}

func TestCancelIncrementsSpotsOnce(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2})

	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: garage, Start: at(10), End: at(11), PaymentMode: domain.PaymentModeDeferred,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))

	_, err = h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking.ID, CallerID: user})
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.AvailableSpots(t, h.db, garage))

	_, err = h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking.ID, CallerID: user})
	assert.ErrorIs(t, err, domain.ErrAlreadyCanceled)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.Equal(t, 2, testutil.AvailableSpots(t, h.db, garage))
}

func TestCancelClampsAtCapacity(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 1})
	booking := h.fx.Booking(user, garage, at(10), at(11), "pending", "10")

	_, err := h.svc.Cancel(context.Background(), domain.CancelBookingRequest{BookingID: booking, CallerID: user})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))
}

func TestCancelLockout(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2, AvailableSpots: testutil.Int(1)})
	booking := h.fx.Booking(user, garage, at(9), at(10), "confirmed", "10")

	h.clock.Set(at(8).Add(45 * time.Minute))
	_, err := h.svc.Cancel(context.Background(), domain.CancelBookingRequest{BookingID: booking, CallerID: user})
	assert.ErrorIs(t, err, domain.ErrCancellationClosed)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.Equal(t, 1, testutil.AvailableSpots(t, h.db, garage))
}

func TestCancelAuthorization(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	owner := h.fx.User("customer")
	stranger := h.fx.User("customer")
	admin := h.fx.User("admin")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2, AvailableSpots: testutil.Int(1)})
	booking := h.fx.Booking(owner, garage, at(12), at(13), "pending", "10")

	_, err := h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking, CallerID: stranger})
	assert.True(t, errkind.Is(err, errkind.Forbidden))

	_, err = h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: snowflake.ID(99), CallerID: owner})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking, CallerID: admin})
	require.NoError(t, err)
}

func TestCancelFullRefund(t *testing.T) {
	policy := config.DefaultBookingPolicy()
	policy.RefundPolicy = config.RefundFull
	h := newHarness(t, policy)
	ctx := context.Background()
	user := h.fx.User("customer")
	wallet := h.fx.Wallet(user, "40")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 1, PricePerHour: "12"})

	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(10), End: at(12)})
	require.NoError(t, err)
	assert.True(t, testutil.WalletBalance(t, h.db, wallet).Equal(money("16")))

	_, err = h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking.ID, CallerID: user})
	require.NoError(t, err)
	assert.True(t, testutil.WalletBalance(t, h.db, wallet).Equal(money("40")))
	assert.Equal(t, int64(1), countRows(t, h.db,
		`SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ? AND type = 'refund'`, booking.ID))
}

func TestCancelFullRefundOnlyReturnsWalletDebits(t *testing.T) {
	policy := config.DefaultBookingPolicy()
	policy.RefundPolicy = config.RefundFull
	h := newHarness(t, policy)
	ctx := context.Background()
	user := h.fx.User("customer")
	wallet := h.fx.Wallet(user, "0")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2})

	// Settled outside the wallet, so there is nothing to hand back.
	booking := h.fx.Booking(user, garage, at(10), at(11), "confirmed", "10")
	h.fx.Payment(wallet, booking, "1000000", "completed")

	_, err := h.svc.Cancel(ctx, domain.CancelBookingRequest{BookingID: booking, CallerID: user})
	require.NoError(t, err)
	assert.True(t, testutil.WalletBalance(t, h.db, wallet).Equal(decimal.Zero))
	assert.Equal(t, int64(0), countRows(t, h.db,
		`SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ? AND type = 'refund'`, booking))
	assert.Equal(t, int64(0), countRows(t, h.db, `SELECT COUNT(*) FROM wallet_entries WHERE wallet_id = ?`, wallet))
}

func TestCreateFreeBookingSkipsCharge(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2, PricePerHour: "0"})

	for _, mode := range []domain.PaymentMode{domain.PaymentModeWallet, domain.PaymentModeDeferred} {
		booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{
			UserID: user, GarageID: garage, Start: at(9), End: at(10), PaymentMode: mode,
		})
		require.NoError(t, err, "mode %s", mode)
		assert.Equal(t, domain.StatusConfirmed, booking.Status)
		assert.True(t, booking.TotalPrice.IsZero())
		assert.Equal(t, int64(0), countRows(t, h.db, `SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ?`, booking.ID))
		assert.Equal(t, int64(1), countRows(t, h.db, `SELECT COUNT(*) FROM tokens WHERE booking_id = ?`, booking.ID))
	}
	assert.Equal(t, 0, testutil.AvailableSpots(t, h.db, garage))

	// A one-minute stay at a cent an hour rounds to nothing.
	cheap := h.fx.Garage(testutil.GarageSpec{Capacity: 1, PricePerHour: "0.01"})
	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{
		UserID: user, GarageID: cheap, Start: at(9), End: at(9).Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, booking.Status)
}

func TestGetAndList(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	owner := h.fx.User("customer")
	stranger := h.fx.User("customer")
	operator := h.fx.User("operator")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 5})
	first := h.fx.Booking(owner, garage, at(9), at(10), "pending", "10")
	h.fx.Booking(owner, garage, at(11), at(12), "pending", "10")

	got, err := h.svc.GetByID(ctx, first, owner)
	require.NoError(t, err)
	assert.Equal(t, first, got.ID)

	_, err = h.svc.GetByID(ctx, first, stranger)
	assert.True(t, errkind.Is(err, errkind.Forbidden))

	_, err = h.svc.GetByID(ctx, first, operator)
	assert.NoError(t, err)

	mine, err := h.svc.ListByUser(ctx, owner, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = h.svc.ListByGarage(ctx, garage, stranger, 10)
	assert.True(t, errkind.Is(err, errkind.Forbidden))

	byGarage, err := h.svc.ListByGarage(ctx, garage, operator, 10)
	require.NoError(t, err)
	assert.Len(t, byGarage, 2)
}

func TestReceipt(t *testing.T) {
	h := newHarness(t, config.DefaultBookingPolicy())
	ctx := context.Background()
	user := h.fx.User("customer")
	h.fx.Wallet(user, "100")
	garage := h.fx.Garage(testutil.GarageSpec{Capacity: 2})
	pending := h.fx.Booking(user, garage, at(13), at(14), "pending", "10")

	_, err := h.svc.Receipt(ctx, pending, user)
	assert.ErrorIs(t, err, domain.ErrNotConfirmed)

	booking, err := h.svc.Create(ctx, domain.CreateBookingRequest{UserID: user, GarageID: garage, Start: at(9), End: at(10)})
	require.NoError(t, err)

	out, err := h.svc.Receipt(ctx, booking.ID, user)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(out[:4]))
}
