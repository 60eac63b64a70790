package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	availabilitydomain "github.com/smallbiznis/parkway/internal/availability/domain"
	"github.com/smallbiznis/parkway/internal/booking/domain"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	"github.com/smallbiznis/parkway/internal/occupancy"
	paymentdomain "github.com/smallbiznis/parkway/internal/payment/domain"
	"github.com/smallbiznis/parkway/internal/providers/pdf"
	tokendomain "github.com/smallbiznis/parkway/internal/token/domain"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	walletdomain "github.com/smallbiznis/parkway/internal/wallet/domain"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	receiptTimeLayout = "2006-01-02 15:04 MST"
)

var errReceiptUnavailable = errors.New("receipt_renderer_unavailable")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	UoW             *db.UnitOfWork
	Policy          config.PolicySource
	Repo            domain.Repository
	GarageRepo      garagedomain.Repository
	UserRepo        userdomain.Repository
	WalletRepo      walletdomain.Repository
	PaymentRepo     paymentdomain.Repository
	AvailabilitySvc availabilitydomain.Service
	WalletSvc       walletdomain.Service
	Authz           authorization.Service
	TokenSvc        tokendomain.Service `optional:"true"`
	AuditSvc        auditdomain.Service `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
	Occupancy       occupancy.Publisher `optional:"true"`
	PDF             pdf.Provider        `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	uow             *db.UnitOfWork
	policy          config.PolicySource
	repo            domain.Repository
	garageRepo      garagedomain.Repository
	userRepo        userdomain.Repository
	walletRepo      walletdomain.Repository
	paymentRepo     paymentdomain.Repository
	availabilitySvc availabilitydomain.Service
	walletSvc       walletdomain.Service
	authz           authorization.Service
	tokenSvc        tokendomain.Service
	auditSvc        auditdomain.Service
	obsMetrics      *obsmetrics.Metrics
	occupancy       occupancy.Publisher
	pdf             pdf.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("booking.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		uow:             p.UoW,
		policy:          p.Policy,
		repo:            p.Repo,
		garageRepo:      p.GarageRepo,
		userRepo:        p.UserRepo,
		walletRepo:      p.WalletRepo,
		paymentRepo:     p.PaymentRepo,
		availabilitySvc: p.AvailabilitySvc,
		walletSvc:       p.WalletSvc,
		authz:           p.Authz,
		tokenSvc:        p.TokenSvc,
		auditSvc:        p.AuditSvc,
		obsMetrics:      p.ObsMetrics,
		occupancy:       p.Occupancy,
		pdf:             p.PDF,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBookingRequest) (domain.Booking, error) {
	mode := req.PaymentMode
	if mode == "" {
		mode = domain.PaymentModeWallet
	}
	if mode != domain.PaymentModeWallet && mode != domain.PaymentModeDeferred {
		return domain.Booking{}, domain.ErrInvalidPaymentMode
	}

	start, end := req.Start.UTC(), req.End.UTC()
	if !start.Before(end) {
		return domain.Booking{}, domain.ErrInvalidTimeRange
	}
	policy := s.policy.Get()
	now := s.clock.Now().UTC()
	if start.Before(now.Add(-policy.StartSkew)) {
		return domain.Booking{}, domain.ErrStartInPast
	}
	if end.Sub(start) > policy.MaxBookingSpan {
		return domain.Booking{}, domain.ErrSpanTooLong
	}

	var (
		booking   domain.Booking
		remaining int
	)
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByID(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return domain.ErrUserNotFound
		}

		garage, err := s.garageRepo.FindByIDForUpdate(ctx, tx, req.GarageID)
		if err != nil {
			return err
		}
		if garage == nil {
			return garagedomain.ErrNotFound
		}
		if !garage.IsActive {
			return garagedomain.ErrInactive
		}
		if garage.AvailableSpots <= 0 {
			return domain.ErrNoSpotsAvailable
		}

		conflicts, err := s.availabilitySvc.CountConflicts(ctx, tx, garage.ID, start, end)
		if err != nil {
			return err
		}
		if garage.Capacity-conflicts <= 0 {
			return domain.ErrNoSpotsAvailable
		}

		price := domain.Price(start, end, garage.PricePerHour)
		booking = domain.Booking{
			ID:         s.genID.Generate(),
			UserID:     user.ID,
			GarageID:   garage.ID,
			StartTime:  start,
			EndTime:    end,
			TotalPrice: price,
			Status:     domain.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		// A free booking has nothing to settle.
		free := !price.IsPositive()
		if mode == domain.PaymentModeWallet || free {
			booking.Status = domain.StatusConfirmed
		}
		if err := s.repo.Insert(ctx, tx, &booking); err != nil {
			return err
		}

		if mode == domain.PaymentModeWallet && !free {
			if err := s.chargeWallet(ctx, tx, booking, now); err != nil {
				return err
			}
		}

		ok, err := s.garageRepo.DecrementSpots(ctx, tx, garage.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNoSpotsAvailable
		}
		remaining = garage.AvailableSpots - 1
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordBooking(ctx, "rejected")
		s.log.Warn("booking rejected",
			zap.String("user_id", req.UserID.String()),
			zap.String("garage_id", req.GarageID.String()),
			zap.Error(err),
		)
		return domain.Booking{}, err
	}

	s.obsMetrics.RecordBooking(ctx, string(booking.Status))
	s.audit(ctx, req.UserID, "booking.created", booking.ID, map[string]any{
		"garage_id":    booking.GarageID.String(),
		"start_time":   booking.StartTime.Format(time.RFC3339),
		"end_time":     booking.EndTime.Format(time.RFC3339),
		"total_price":  booking.TotalPrice.StringFixed(2),
		"payment_mode": string(mode),
	})
	s.publish(booking, occupancy.KindBookingCreated, remaining, now)
	if booking.Status == domain.StatusConfirmed {
		s.issueAccessToken(ctx, booking, now)
	}
	s.log.Info("booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("status", string(booking.Status)),
	)
	return booking, nil
}

// chargeWallet debits the owner's wallet and records the bundled payment.
func (s *Service) chargeWallet(ctx context.Context, tx *gorm.DB, booking domain.Booking, now time.Time) error {
	wallet, err := s.walletRepo.FindByUserID(ctx, tx, booking.UserID)
	if err != nil {
		return err
	}
	if wallet == nil {
		return domain.ErrWalletRequired
	}

	bookingID := booking.ID
	if _, err := s.walletSvc.DebitTx(ctx, tx, walletdomain.TxMutation{
		WalletID:       wallet.ID,
		Amount:         booking.TotalPrice,
		IdempotencyKey: "booking:" + booking.ID.String(),
		SourceType:     walletdomain.SourceBooking,
		SourceID:       &bookingID,
	}); err != nil {
		return err
	}

	return s.paymentRepo.Insert(ctx, tx, &paymentdomain.PaymentTransaction{
		ID:              s.genID.Generate(),
		WalletID:        wallet.ID,
		BookingID:       &bookingID,
		Amount:          booking.TotalPrice,
		Type:            paymentdomain.TypePayment,
		Status:          paymentdomain.StatusCompleted,
		TransactionDate: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelBookingRequest) (domain.Booking, error) {
	current, err := s.repo.FindByID(ctx, s.db, req.BookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if current == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	if current.UserID != req.CallerID {
		if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermBookingCancelAny); err != nil {
			return domain.Booking{}, err
		}
	}

	policy := s.policy.Get()
	now := s.clock.Now().UTC()
	var (
		booking   domain.Booking
		refunded  decimal.Decimal
		remaining = -1
	)
	err = s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}
		if locked.Status == domain.StatusCanceled {
			return domain.ErrAlreadyCanceled
		}
		if !locked.Status.CanTransitionTo(domain.StatusCanceled) {
			return domain.ErrInvalidTransition
		}
		if locked.StartTime.Sub(now) < policy.CancelLockout {
			return domain.ErrCancellationClosed
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, locked.ID, locked.Status, domain.StatusCanceled, &now, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyCanceled
		}

		garage, err := s.garageRepo.FindByIDForUpdate(ctx, tx, locked.GarageID)
		if err != nil {
			return err
		}
		if garage != nil {
			freed, err := s.garageRepo.IncrementSpots(ctx, tx, garage.ID, now)
			if err != nil {
				return err
			}
			remaining = garage.AvailableSpots
			if freed {
				remaining++
			}
		}

		if policy.RefundPolicy == config.RefundFull {
			refunded, err = s.refund(ctx, tx, *locked, now)
			if err != nil {
				return err
			}
		}

		booking = *locked
		booking.Status = domain.StatusCanceled
		booking.CanceledAt = &now
		booking.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.log.Warn("booking cancel rejected",
			zap.String("booking_id", req.BookingID.String()),
			zap.String("caller_id", req.CallerID.String()),
			zap.Error(err),
		)
		return domain.Booking{}, err
	}

	s.obsMetrics.RecordBooking(ctx, string(domain.StatusCanceled))
	metadata := map[string]any{"previous_status": string(current.Status)}
	if refunded.IsPositive() {
		metadata["refunded"] = refunded.StringFixed(2)
	}
	s.audit(ctx, req.CallerID, "booking.canceled", booking.ID, metadata)
	if remaining >= 0 {
		s.publish(booking, occupancy.KindBookingCanceled, remaining, now)
	}
	s.log.Info("booking canceled", zap.String("booking_id", booking.ID.String()))
	return booking, nil
}

// refund returns what the owner's wallet was debited for the booking.
func (s *Service) refund(ctx context.Context, tx *gorm.DB, booking domain.Booking, now time.Time) (decimal.Decimal, error) {
	wallet, err := s.walletRepo.FindByUserID(ctx, tx, booking.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	if wallet == nil {
		return decimal.Zero, nil
	}
	paid, err := s.walletRepo.SumEntries(ctx, tx, wallet.ID, walletdomain.DirectionDebit, walletdomain.SourceBooking, booking.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if !paid.IsPositive() {
		return decimal.Zero, nil
	}

	bookingID := booking.ID
	if _, err := s.walletSvc.DepositTx(ctx, tx, walletdomain.TxMutation{
		WalletID:       wallet.ID,
		Amount:         paid,
		IdempotencyKey: "refund:" + booking.ID.String(),
		SourceType:     walletdomain.SourceRefund,
		SourceID:       &bookingID,
	}); err != nil {
		return decimal.Zero, err
	}

	err = s.paymentRepo.Insert(ctx, tx, &paymentdomain.PaymentTransaction{
		ID:              s.genID.Generate(),
		WalletID:        wallet.ID,
		BookingID:       &bookingID,
		Amount:          paid,
		Type:            paymentdomain.TypeRefund,
		Status:          paymentdomain.StatusCompleted,
		TransactionDate: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}

func (s *Service) GetByID(ctx context.Context, id, callerID snowflake.ID) (domain.Booking, error) {
	booking, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if booking == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	if booking.UserID != callerID {
		if err := s.authz.Authorize(ctx, callerID, authorization.PermBookingViewAny); err != nil {
			return domain.Booking{}, err
		}
	}
	return *booking, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Booking, error) {
	items, err := s.repo.ListByUser(ctx, s.db, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return deref(items), nil
}

func (s *Service) ListByGarage(ctx context.Context, garageID, callerID snowflake.ID, limit int) ([]domain.Booking, error) {
	if err := s.authz.Authorize(ctx, callerID, authorization.PermBookingViewAny); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByGarage(ctx, s.db, garageID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return deref(items), nil
}

func (s *Service) Receipt(ctx context.Context, id, callerID snowflake.ID) ([]byte, error) {
	if s.pdf == nil {
		return nil, errReceiptUnavailable
	}
	booking, err := s.GetByID(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.StatusConfirmed {
		return nil, domain.ErrNotConfirmed
	}

	garage, err := s.garageRepo.FindByID(ctx, s.db, booking.GarageID)
	if err != nil {
		return nil, err
	}
	if garage == nil {
		return nil, garagedomain.ErrNotFound
	}
	user, err := s.userRepo.FindByID(ctx, s.db, booking.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	payment, err := s.paymentRepo.LatestCompletedPayment(ctx, s.db, booking.ID)
	if err != nil {
		return nil, err
	}

	hours := decimal.NewFromInt(int64(booking.EndTime.Sub(booking.StartTime) / time.Minute)).Div(decimal.NewFromInt(60))
	data := pdf.ReceiptData{
		BookingID:    booking.ID.String(),
		IssuedAt:     s.clock.Now().UTC().Format(receiptTimeLayout),
		CustomerName: user.Name,
		CustomerMail: user.Email,
		GarageName:   garage.Name,
		GarageAddr:   garage.Location,
		StartTime:    booking.StartTime.UTC().Format(receiptTimeLayout),
		EndTime:      booking.EndTime.UTC().Format(receiptTimeLayout),
		Hours:        hours.StringFixed(2),
		PricePerHour: garage.PricePerHour.StringFixed(2),
		Total:        booking.TotalPrice.StringFixed(2),
	}
	if payment != nil {
		data.PaidAt = payment.TransactionDate.UTC().Format(receiptTimeLayout)
		if payment.Reference != nil {
			data.Reference = *payment.Reference
		}
	}
	return s.pdf.GenerateReceipt(ctx, data)
}

// issueAccessToken gives a confirmed booking its entry token. Failures are
// logged; the booking itself is already committed.
func (s *Service) issueAccessToken(ctx context.Context, booking domain.Booking, now time.Time) {
	if s.tokenSvc == nil {
		return
	}
	bookingID := booking.ID
	req := tokendomain.IssueRequest{
		CallerID:  booking.UserID,
		UserID:    booking.UserID,
		BookingID: &bookingID,
	}
	if booking.StartTime.After(now) {
		validFrom := booking.StartTime
		req.ValidFrom = &validFrom
	}
	if _, err := s.tokenSvc.Issue(ctx, req); err != nil {
		s.log.Warn("access token issue failed", zap.String("booking_id", booking.ID.String()), zap.Error(err))
	}
}

func (s *Service) publish(booking domain.Booking, kind string, spots int, now time.Time) {
	if s.occupancy == nil {
		return
	}
	bookingID := booking.ID
	s.occupancy.Publish(occupancy.Event{
		GarageID:       booking.GarageID,
		Kind:           kind,
		AvailableSpots: spots,
		BookingID:      &bookingID,
		OccurredAt:     now,
	})
}

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, bookingID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	targetID := bookingID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, action, "booking", &targetID, metadata)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func deref(items []*domain.Booking) []domain.Booking {
	out := make([]domain.Booking, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out
}
