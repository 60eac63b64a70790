package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	bookingrepo "github.com/smallbiznis/parkway/internal/booking/repository"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/errkind"
	paymentdomain "github.com/smallbiznis/parkway/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/parkway/internal/payment/repository"
	paymentservice "github.com/smallbiznis/parkway/internal/payment/service"
	"github.com/smallbiznis/parkway/internal/testutil"
	tokenrepo "github.com/smallbiznis/parkway/internal/token/repository"
	tokenservice "github.com/smallbiznis/parkway/internal/token/service"
	userrepo "github.com/smallbiznis/parkway/internal/user/repository"
	walletdomain "github.com/smallbiznis/parkway/internal/wallet/domain"
	walletrepo "github.com/smallbiznis/parkway/internal/wallet/repository"
	walletservice "github.com/smallbiznis/parkway/internal/wallet/service"
	"github.com/smallbiznis/parkway/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *recordingAudit) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	svc   paymentdomain.Service
	db    *gorm.DB
	fx    *testutil.Fixtures
	audit *recordingAudit
}

var now = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) fixture {
	t.Helper()
	conn := testutil.OpenDB(t)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer})

	node := testutil.Node(t)
	fake := clock.NewFakeClock(now)
	uow := db.NewUnitOfWork(conn)
	audit := &recordingAudit{}

	tokens := tokenservice.New(tokenservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		UoW:    uow,
		Policy: config.StaticPolicy(config.DefaultBookingPolicy()),
		Repo:   tokenrepo.Provide(),
		Authz:  authz,
	})
	wallets := walletservice.New(walletservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		UoW:      uow,
		Repo:     walletrepo.Provide(),
		UserRepo: userrepo.Provide(),
		Authz:    authz,
	})
	svc := paymentservice.NewService(paymentservice.Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		UoW:         uow,
		Repo:        paymentrepo.Provide(),
		BookingRepo: bookingrepo.Provide(),
		WalletRepo:  walletrepo.Provide(),
		UserRepo:    userrepo.Provide(),
		WalletSvc:   wallets,
		Authz:       authz,
		TokenSvc:    tokens,
		AuditSvc:    audit,
	})
	return fixture{svc: svc, db: conn, fx: testutil.NewFixtures(t, conn), audit: audit}
}

func bookingStatus(t *testing.T, conn *gorm.DB, id snowflake.ID) string {
	t.Helper()
	var status string
	require.NoError(t, conn.Raw(`SELECT status FROM bookings WHERE id = ?`, id).Scan(&status).Error)
	return status
}

func tokenCount(t *testing.T, conn *gorm.DB, bookingID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Raw(`SELECT COUNT(*) FROM tokens WHERE booking_id = ?`, bookingID).Scan(&n).Error)
	return n
}

func ref(v string) *string { return &v }

func money(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestRecordPaymentConfirmsPendingBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	wallet := f.fx.Wallet(user, "25")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(2*time.Hour), now.Add(3*time.Hour), "pending", "10")

	res, err := f.svc.RecordPayment(ctx, paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusCompleted,
		Reference: ref(" card-123 "),
	})
	require.NoError(t, err)
	assert.True(t, res.BookingConfirmed)
	require.NotNil(t, res.Transaction.Reference)
	assert.Equal(t, "card-123", *res.Transaction.Reference)
	assert.Equal(t, "confirmed", bookingStatus(t, f.db, booking))
	assert.Equal(t, int64(1), tokenCount(t, f.db, booking))
	assert.Contains(t, f.audit.actions, "payment.recorded")
	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(money("15")))

	_, err = f.svc.RecordPayment(ctx, paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusCompleted,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyPaid)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(money("15")))
}

func TestRecordPendingPaymentKeepsBookingPending(t *testing.T) {
	f := setup(t)
	user := f.fx.User("customer")
	wallet := f.fx.Wallet(user, "0")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "pending", "10")

	res, err := f.svc.RecordPayment(context.Background(), paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusPending,
	})
	require.NoError(t, err)
	assert.False(t, res.BookingConfirmed)
	assert.Equal(t, "pending", bookingStatus(t, f.db, booking))
	assert.Equal(t, int64(0), tokenCount(t, f.db, booking))
	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(decimal.Zero))
}

func TestRecordPaymentRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	other := f.fx.User("customer")
	wallet := f.fx.Wallet(user, "50")
	otherWallet := f.fx.Wallet(other, "50")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "pending", "10")
	canceled := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "canceled", "10")

	base := paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusCompleted,
	}
	cases := []struct {
		name   string
		mutate func(r *paymentdomain.RecordPaymentRequest)
		kind   errkind.Kind
	}{
		{"zero completed amount", func(r *paymentdomain.RecordPaymentRequest) { r.Amount = decimal.Zero }, errkind.InvalidArgument},
		{"negative amount", func(r *paymentdomain.RecordPaymentRequest) {
			r.Amount = decimal.NewFromInt(-1)
			r.Status = paymentdomain.StatusPending
		}, errkind.InvalidArgument},
		{"unknown type", func(r *paymentdomain.RecordPaymentRequest) { r.Type = "voucher" }, errkind.InvalidArgument},
		{"unknown status", func(r *paymentdomain.RecordPaymentRequest) { r.Status = "settled" }, errkind.InvalidArgument},
		{"missing booking", func(r *paymentdomain.RecordPaymentRequest) { r.BookingID = snowflake.ID(404) }, errkind.NotFound},
		{"missing wallet", func(r *paymentdomain.RecordPaymentRequest) { r.WalletID = snowflake.ID(405) }, errkind.NotFound},
		{"foreign wallet", func(r *paymentdomain.RecordPaymentRequest) { r.WalletID = otherWallet }, errkind.Forbidden},
		{"canceled booking", func(r *paymentdomain.RecordPaymentRequest) { r.BookingID = canceled }, errkind.Conflict},
		{"stranger caller", func(r *paymentdomain.RecordPaymentRequest) { r.CallerID = other }, errkind.Forbidden},
		{"amount above price", func(r *paymentdomain.RecordPaymentRequest) { r.Amount = decimal.NewFromInt(1000000) }, errkind.InvalidArgument},
		{"amount below price", func(r *paymentdomain.RecordPaymentRequest) {
			r.Amount = decimal.NewFromInt(1)
			r.Status = paymentdomain.StatusPending
		}, errkind.InvalidArgument},
		{"owner recorded refund", func(r *paymentdomain.RecordPaymentRequest) { r.Type = paymentdomain.TypeRefund }, errkind.Forbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := f.svc.RecordPayment(ctx, req)
			require.Error(t, err)
			assert.True(t, errkind.Is(err, tc.kind), "kind of %v", err)
		})
	}
	assert.Equal(t, "pending", bookingStatus(t, f.db, booking))
	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(money("50")))
}

func TestOwnerPaymentNeedsWalletFunds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	admin := f.fx.User("admin")
	wallet := f.fx.Wallet(user, "0")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(2*time.Hour), now.Add(3*time.Hour), "pending", "10")

	req := paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusCompleted,
	}
	_, err := f.svc.RecordPayment(ctx, req)
	assert.ErrorIs(t, err, walletdomain.ErrInsufficientBalance)
	assert.True(t, errkind.Is(err, errkind.Conflict))
	assert.Equal(t, "pending", bookingStatus(t, f.db, booking))
	assert.Equal(t, int64(0), tokenCount(t, f.db, booking))
	var rows int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_transactions WHERE booking_id = ?`, booking).Scan(&rows).Error)
	assert.Equal(t, int64(0), rows)

	// An operator settling out of band confirms without touching the wallet.
	req.CallerID = admin
	res, err := f.svc.RecordPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.BookingConfirmed)
	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(decimal.Zero))
	var entries int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM wallet_entries WHERE wallet_id = ?`, wallet).Scan(&entries).Error)
	assert.Equal(t, int64(0), entries)
}

func TestUpdateStatusRejectsMismatchedAmount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	admin := f.fx.User("admin")
	wallet := f.fx.Wallet(user, "0")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "pending", "10")
	payment := f.fx.Payment(wallet, booking, "3", "pending")

	_, err := f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{CallerID: admin, ID: payment, Status: paymentdomain.StatusCompleted})
	assert.ErrorIs(t, err, paymentdomain.ErrAmountMismatch)
	assert.Equal(t, "pending", bookingStatus(t, f.db, booking))
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	admin := f.fx.User("admin")
	wallet := f.fx.Wallet(user, "0")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 2})
	booking := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "pending", "10")

	res, err := f.svc.RecordPayment(ctx, paymentdomain.RecordPaymentRequest{
		CallerID:  user,
		BookingID: booking,
		WalletID:  wallet,
		Amount:    decimal.NewFromInt(10),
		Type:      paymentdomain.TypePayment,
		Status:    paymentdomain.StatusPending,
	})
	require.NoError(t, err)
	id := res.Transaction.ID

	_, err = f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{CallerID: user, ID: id, Status: paymentdomain.StatusCompleted})
	assert.True(t, errkind.Is(err, errkind.Forbidden))

	_, err = f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{CallerID: admin, ID: id, Status: "refunded"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{CallerID: admin, ID: snowflake.ID(1234), Status: paymentdomain.StatusFailed})
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)

	updated, err := f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{
		CallerID: admin, ID: id, Status: paymentdomain.StatusCompleted, Reference: ref("psp-9"),
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusCompleted, updated.Status)
	assert.Equal(t, "confirmed", bookingStatus(t, f.db, booking))
	assert.Equal(t, int64(1), tokenCount(t, f.db, booking))

	_, err = f.svc.UpdateStatus(ctx, paymentdomain.UpdateStatusRequest{CallerID: admin, ID: id, Status: paymentdomain.StatusPending})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidTransition)
	assert.True(t, errkind.Is(err, errkind.Conflict))

	got, err := f.svc.GetByID(ctx, id, user)
	require.NoError(t, err)
	require.NotNil(t, got.Reference)
	assert.Equal(t, "psp-9", *got.Reference)
}

func TestHistoryAndVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	user := f.fx.User("customer")
	stranger := f.fx.User("customer")
	wallet := f.fx.Wallet(user, "50")
	garage := f.fx.Garage(testutil.GarageSpec{Capacity: 3})
	first := f.fx.Booking(user, garage, now.Add(time.Hour), now.Add(2*time.Hour), "pending", "10")
	second := f.fx.Booking(user, garage, now.Add(3*time.Hour), now.Add(4*time.Hour), "pending", "10")

	var ids []snowflake.ID
	for _, booking := range []snowflake.ID{first, second} {
		res, err := f.svc.RecordPayment(ctx, paymentdomain.RecordPaymentRequest{
			CallerID:  user,
			BookingID: booking,
			WalletID:  wallet,
			Amount:    decimal.NewFromInt(10),
			Status:    paymentdomain.StatusCompleted,
		})
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.TypePayment, res.Transaction.Type)
		ids = append(ids, res.Transaction.ID)
	}

	assert.True(t, testutil.WalletBalance(t, f.db, wallet).Equal(money("30")))

	history, err := f.svc.ListByUser(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Same transaction date, so the newer id comes first.
	assert.Equal(t, ids[1], history[0].ID)

	empty, err := f.svc.ListByUser(ctx, stranger, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.svc.GetByID(ctx, ids[0], stranger)
	assert.True(t, errkind.Is(err, errkind.Forbidden))
}
