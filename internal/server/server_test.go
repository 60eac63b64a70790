package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	auditrepo "github.com/smallbiznis/parkway/internal/audit/repository"
	auditsvc "github.com/smallbiznis/parkway/internal/audit/service"
	"github.com/smallbiznis/parkway/internal/authorization"
	availabilityrepo "github.com/smallbiznis/parkway/internal/availability/repository"
	availabilitysvc "github.com/smallbiznis/parkway/internal/availability/service"
	bookingdomain "github.com/smallbiznis/parkway/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/parkway/internal/booking/repository"
	bookingsvc "github.com/smallbiznis/parkway/internal/booking/service"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	"github.com/smallbiznis/parkway/internal/errkind"
	garagerepo "github.com/smallbiznis/parkway/internal/garage/repository"
	garagesvc "github.com/smallbiznis/parkway/internal/garage/service"
	"github.com/smallbiznis/parkway/internal/occupancy"
	paymentrepo "github.com/smallbiznis/parkway/internal/payment/repository"
	paymentsvc "github.com/smallbiznis/parkway/internal/payment/service"
	"github.com/smallbiznis/parkway/internal/providers/pdf"
	"github.com/smallbiznis/parkway/internal/ratelimit"
	sensorrepo "github.com/smallbiznis/parkway/internal/sensor/repository"
	sensorsvc "github.com/smallbiznis/parkway/internal/sensor/service"
	"github.com/smallbiznis/parkway/internal/testutil"
	tokenrepo "github.com/smallbiznis/parkway/internal/token/repository"
	tokensvc "github.com/smallbiznis/parkway/internal/token/service"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	userrepo "github.com/smallbiznis/parkway/internal/user/repository"
	usersvc "github.com/smallbiznis/parkway/internal/user/service"
	walletrepo "github.com/smallbiznis/parkway/internal/wallet/repository"
	walletsvc "github.com/smallbiznis/parkway/internal/wallet/service"
	"github.com/smallbiznis/parkway/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

var morning = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type testServer struct {
	server *Server
	db     *gorm.DB
	fx     *testutil.Fixtures
	hub    *occupancy.Hub
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.OpenDB(t)
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	log := zap.NewNop()
	node := testutil.Node(t)
	fake := clock.NewFakeClock(morning)
	uow := db.NewUnitOfWork(conn)
	policies := config.StaticPolicy(config.DefaultBookingPolicy())
	hub := occupancy.NewHub()
	audit := auditsvc.NewService(auditsvc.Params{DB: conn, Log: log, GenID: node, Repo: auditrepo.Provide()})
	authz := authorization.NewService(authorization.Params{DB: conn, Log: log, Enforcer: enforcer})

	wallets := walletsvc.New(walletsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow,
		Repo: walletrepo.Provide(), UserRepo: userrepo.Provide(), Authz: authz,
	})
	tokens := tokensvc.New(tokensvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow,
		Policy: policies, Repo: tokenrepo.Provide(), Authz: authz,
	})
	availability := availabilitysvc.New(availabilitysvc.Params{
		DB: conn, Log: log, Repo: availabilityrepo.Provide(), GarageRepo: garagerepo.Provide(),
	})
	garages := garagesvc.New(garagesvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow,
		Repo: garagerepo.Provide(), Authz: authz, AuditSvc: audit, Occupancy: hub,
	})
	bookings := bookingsvc.New(bookingsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow, Policy: policies,
		Repo: bookingrepo.Provide(), GarageRepo: garagerepo.Provide(), UserRepo: userrepo.Provide(),
		WalletRepo: walletrepo.Provide(), PaymentRepo: paymentrepo.Provide(),
		AvailabilitySvc: availability, WalletSvc: wallets, Authz: authz,
		TokenSvc: tokens, AuditSvc: audit, Occupancy: hub, PDF: pdf.New(),
	})
	payments := paymentsvc.NewService(paymentsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow,
		Repo: paymentrepo.Provide(), BookingRepo: bookingrepo.Provide(), WalletRepo: walletrepo.Provide(),
		UserRepo: userrepo.Provide(), WalletSvc: wallets, Authz: authz, TokenSvc: tokens, AuditSvc: audit,
	})
	sensors := sensorsvc.New(sensorsvc.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, UoW: uow,
		Repo: sensorrepo.Provide(), GarageRepo: garagerepo.Provide(), Authz: authz, Occupancy: hub,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{AuthJWTSecret: testSecret, CORSAllowedOrigins: []string{"*"}},
		Clock:           fake,
		AuthzSvc:        authz,
		AuditSvc:        audit,
		UserSvc:         usersvc.New(usersvc.Params{DB: conn, Log: log, GenID: node, Repo: userrepo.Provide()}),
		GarageSvc:       garages,
		AvailabilitySvc: availability,
		WalletSvc:       wallets,
		BookingSvc:      bookings,
		PaymentSvc:      payments,
		TokenSvc:        tokens,
		SensorSvc:       sensors,
		Occupancy:       hub,
	})

	f := testutil.NewFixtures(t, conn)
	f.SystemUser(userdomain.SystemUserID)
	return testServer{server: srv, db: conn, fx: f, hub: hub}
}

func signToken(t *testing.T, subject string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	})
	raw, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func (ts testServer) do(t *testing.T, method, path string, caller snowflake.ID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != 0 {
		req.Header.Set("Authorization", "Bearer "+signToken(t, caller.String(), time.Hour))
	}
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error errorPayload    `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type idOnly struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AvailableSpots int    `json:"available_spots"`
}

func decodeID(t *testing.T, rec *httptest.ResponseRecorder) idOnly {
	t.Helper()
	var out idOnly
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &out))
	return out
}

func TestMapErrorByKind(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid argument", errkind.New(errkind.InvalidArgument, "invalid_time_range"), http.StatusBadRequest, "invalid_time_range"},
		{"not found", errkind.New(errkind.NotFound, "booking_not_found"), http.StatusNotFound, "booking_not_found"},
		{"conflict wrapped", fmt.Errorf("create: %w", errkind.New(errkind.Conflict, "no_spots_available")), http.StatusConflict, "no_spots_available"},
		{"forbidden", ErrForbidden, http.StatusForbidden, "forbidden"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, ""},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, ""},
		{"record not found", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, payload.Code)
		})
	}

	status, payload := mapError(newValidationError("limit", "invalid_limit", "invalid limit"))
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "limit", payload.Errors[0].Field)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	user := ts.fx.User("customer")

	send := func(header string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		ts.server.Engine().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send(""))
	assert.Equal(t, http.StatusUnauthorized, send("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+signToken(t, user.String(), -time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+signToken(t, "not-a-number", time.Hour)))

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   user.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+raw))

	assert.Equal(t, http.StatusOK, send("Bearer "+signToken(t, user.String(), time.Hour)))
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	operator := ts.fx.User("operator")
	alice := ts.fx.User("customer")
	bob := ts.fx.User("customer")

	rec := ts.do(t, http.MethodPost, "/api/garages", alice, gin.H{"name": "Central", "capacity": 1, "price_per_hour": "10"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/garages", operator, gin.H{"name": "Central", "city": "Bandung", "capacity": 1, "price_per_hour": "10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	garage := decodeID(t, rec)
	assert.Equal(t, 1, garage.AvailableSpots)

	rec = ts.do(t, http.MethodPost, "/api/wallets", alice, gin.H{"initial_balance": "50"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	booking := gin.H{
		"garage_id":    garage.ID,
		"start_time":   "2026-03-02T09:00:00Z",
		"end_time":     "2026-03-02T11:00:00Z",
		"payment_mode": "wallet",
	}
	rec = ts.do(t, http.MethodPost, "/api/bookings", alice, booking)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeID(t, rec)
	assert.Equal(t, "confirmed", created.Status)

	rec = ts.do(t, http.MethodGet, "/api/garages/"+garage.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeID(t, rec).AvailableSpots)

	booking["payment_mode"] = "deferred"
	rec = ts.do(t, http.MethodPost, "/api/bookings", bob, booking)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "no_spots_available", decode(t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/api/bookings/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/bookings/"+created.ID+"/receipt", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = ts.do(t, http.MethodGet, "/api/bookings/"+created.ID+"/tokens", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &tokens))
	assert.Len(t, tokens, 1)

	rec = ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "canceled", decodeID(t, rec).Status)
	assert.Equal(t, 1, testutil.AvailableSpots(t, ts.db, parseID(t, garage.ID)))

	rec = ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "booking_already_canceled", decode(t, rec).Error.Code)
}

func TestBookingValidationOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.fx.User("customer")
	garage := ts.fx.Garage(testutil.GarageSpec{Capacity: 2})

	rec := ts.do(t, http.MethodPost, "/api/bookings", alice, gin.H{
		"garage_id":    garage.String(),
		"start_time":   "2026-03-02T11:00:00Z",
		"end_time":     "2026-03-02T09:00:00Z",
		"payment_mode": "deferred",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_time_range", decode(t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+signToken(t, alice.String(), time.Hour))
	out := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec = ts.do(t, http.MethodGet, "/api/bookings/not-an-id", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/bookings?limit=-1", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOnlyRoutes(t *testing.T) {
	ts := newTestServer(t)
	customer := ts.fx.User("customer")
	admin := ts.fx.User("admin")

	body := gin.H{"name": "Dana", "email": "dana@example.com", "role": "customer"}
	rec := ts.do(t, http.MethodPost, "/api/users", customer, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/users", admin, body)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/audit_logs", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit_logs?start_at=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit_logs", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestValidateTokenReportsReason(t *testing.T) {
	ts := newTestServer(t)
	gate := ts.fx.User("operator")

	rec := ts.do(t, http.MethodPost, "/api/tokens/validate", gate, gin.H{"booking_id": "12345", "value": "nope"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &result))
	assert.False(t, result.Valid)
	assert.Equal(t, "invalid_token", result.Reason)
}

func TestSensorReportOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	garage := ts.fx.Garage(testutil.GarageSpec{Capacity: 2})
	sensor := ts.fx.Sensor(garage, false, "active")
	path := "/api/sensors/" + sensor.String() + "/reports"

	rec := ts.do(t, http.MethodPost, path, userdomain.SystemUserID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, path, ts.fx.User("customer"), gin.H{"is_occupied": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, path, userdomain.SystemUserID, gin.H{"is_occupied": true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, testutil.AvailableSpots(t, ts.db, garage))
}

func TestOccupancyWebsocket(t *testing.T) {
	ts := newTestServer(t)
	viewer := ts.fx.User("customer")
	garage := ts.fx.Garage(testutil.GarageSpec{Capacity: 3})

	httpServer := httptest.NewServer(ts.server.Engine())
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/garages/" + garage.String() + "/occupancy/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, viewer.String(), time.Hour))
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	ts.hub.Publish(occupancy.Event{GarageID: garage, Kind: occupancy.KindSpotOccupied, AvailableSpots: 2, OccurredAt: morning})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event occupancy.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, garage, event.GarageID)
	assert.Equal(t, occupancy.KindSpotOccupied, event.Kind)
	assert.Equal(t, 2, event.AvailableSpots)
}

func TestRateLimitHelpers(t *testing.T) {
	var disabled *ratelimit.Limiter
	assert.False(t, disabled.Enabled())

	assert.Equal(t, "1", retryAfterSeconds(ratelimit.Result{}))
	assert.Equal(t, "1", retryAfterSeconds(ratelimit.Result{RetryAfter: 250 * time.Millisecond}))
	assert.Equal(t, "3", retryAfterSeconds(ratelimit.Result{RetryAfter: 2500 * time.Millisecond}))

	assert.True(t, originAllowed([]string{"*"}, "https://app.example.com"))
	assert.True(t, originAllowed([]string{"https://app.example.com"}, "https://APP.example.com"))
	assert.False(t, originAllowed([]string{"https://app.example.com"}, "https://evil.example.com"))
	assert.True(t, originAllowed(nil, ""))
}

func TestBookingGarageKeyLeavesBodyForHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	var (
		seenKey string
		bound   bookingdomain.CreateBookingRequest
	)
	engine.POST("/bookings", func(c *gin.Context) {
		seenKey = readBookingGarageID(c)
		c.Next()
	}, func(c *gin.Context) {
		if err := c.ShouldBindBodyWith(&bound, binding.JSON); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusNoContent)
	})

	body := `{"garage_id":"1234","start_time":"2026-03-02T09:00:00Z","end_time":"2026-03-02T10:00:00Z"}`
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader(body)))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1234", seenKey)
	assert.Equal(t, snowflake.ID(1234), bound.GarageID)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), bound.Start.UTC())

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookings", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, seenKey)
}

func parseID(t *testing.T, raw string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}
