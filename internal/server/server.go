package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	availabilitydomain "github.com/smallbiznis/parkway/internal/availability/domain"
	bookingdomain "github.com/smallbiznis/parkway/internal/booking/domain"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
	"github.com/smallbiznis/parkway/internal/observability"
	obsmiddleware "github.com/smallbiznis/parkway/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	obstracing "github.com/smallbiznis/parkway/internal/observability/tracing"
	"github.com/smallbiznis/parkway/internal/occupancy"
	paymentdomain "github.com/smallbiznis/parkway/internal/payment/domain"
	"github.com/smallbiznis/parkway/internal/ratelimit"
	sensordomain "github.com/smallbiznis/parkway/internal/sensor/domain"
	tokendomain "github.com/smallbiznis/parkway/internal/token/domain"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	walletdomain "github.com/smallbiznis/parkway/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// corsHandler wraps the whole engine so preflight requests never reach gin routing.
func corsHandler(cfg config.Config, next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Rate-Limited-Reason", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler(cfg, s.Engine()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	clock           clock.Clock
	verifier        *tokenVerifier
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	userSvc         userdomain.Service
	garageSvc       garagedomain.Service
	availabilitySvc availabilitydomain.Service
	walletSvc       walletdomain.Service
	bookingSvc      bookingdomain.Service
	paymentSvc      paymentdomain.Service
	tokenSvc        tokendomain.Service
	sensorSvc       sensordomain.Service
	occupancy       *occupancy.Hub
	obsMetrics      *obsmetrics.Metrics
	limiter         *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	UserSvc         userdomain.Service
	GarageSvc       garagedomain.Service
	AvailabilitySvc availabilitydomain.Service
	WalletSvc       walletdomain.Service
	BookingSvc      bookingdomain.Service
	PaymentSvc      paymentdomain.Service
	TokenSvc        tokendomain.Service
	SensorSvc       sensordomain.Service
	Occupancy       *occupancy.Hub      `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
	Limiter         *ratelimit.Limiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           p.Clock,
		verifier:        newTokenVerifier(p.Cfg.AuthJWTSecret),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		userSvc:         p.UserSvc,
		garageSvc:       p.GarageSvc,
		availabilitySvc: p.AvailabilitySvc,
		walletSvc:       p.WalletSvc,
		bookingSvc:      p.BookingSvc,
		paymentSvc:      p.PaymentSvc,
		tokenSvc:        p.TokenSvc,
		sensorSvc:       p.SensorSvc,
		occupancy:       p.Occupancy,
		obsMetrics:      p.ObsMetrics,
		limiter:         p.Limiter,
	}

	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Users --------
	api.GET("/users/me", s.GetCurrentUser)
	api.POST("/users", s.requirePermission(authorization.PermUserManage), s.CreateUser)

	// -------- Garages --------
	api.GET("/garages", s.SearchGarages)
	api.POST("/garages", s.CreateGarage)
	api.GET("/garages/:id", s.GetGarageByID)
	api.POST("/garages/:id/toggle", s.ToggleGarage)
	api.GET("/garages/:id/availability", s.GetGarageAvailability)
	api.GET("/garages/:id/bookings", s.ListGarageBookings)
	api.GET("/garages/:id/sensors", s.ListGarageSensors)
	api.GET("/garages/:id/occupancy/ws", s.StreamGarageOccupancy)
	api.GET("/availability/search", s.SearchAvailability)

	// -------- Wallets --------
	api.POST("/wallets", s.CreateWallet)
	api.GET("/wallets/me", s.GetMyWallet)
	api.POST("/wallets/:id/deposit", s.DepositWallet)
	api.POST("/wallets/:id/debit", s.DebitWallet)
	api.GET("/wallets/:id/entries", s.ListWalletEntries)

	// -------- Bookings --------
	api.POST("/bookings", s.BookingCreateRateLimit(), s.CreateBooking)
	api.GET("/bookings", s.ListBookings)
	api.GET("/bookings/:id", s.GetBookingByID)
	api.POST("/bookings/:id/cancel", s.CancelBooking)
	api.GET("/bookings/:id/receipt", s.GetBookingReceipt)
	api.GET("/bookings/:id/tokens", s.ListBookingTokens)

	// -------- Payments --------
	api.POST("/payments", s.RecordPayment)
	api.GET("/payments", s.ListPayments)
	api.GET("/payments/:id", s.GetPaymentByID)
	api.PATCH("/payments/:id/status", s.UpdatePaymentStatus)

	// -------- Access tokens --------
	api.POST("/tokens", s.IssueToken)
	api.POST("/tokens/validate", s.ValidateToken)
	api.POST("/tokens/cleanup", s.CleanupTokens)

	// -------- Sensors --------
	api.POST("/sensors", s.RegisterSensor)
	api.GET("/sensors/:id", s.GetSensorByID)
	api.PATCH("/sensors/:id/status", s.UpdateSensorStatus)
	api.POST("/sensors/:id/reports", s.SensorReportRateLimit(), s.ReportSensor)

	api.GET("/audit_logs", s.requirePermission(authorization.PermAuditLogView), s.ListAuditLogs)
}
