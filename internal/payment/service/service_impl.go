package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	bookingdomain "github.com/smallbiznis/parkway/internal/booking/domain"
	"github.com/smallbiznis/parkway/internal/clock"
	paymentdomain "github.com/smallbiznis/parkway/internal/payment/domain"
	tokendomain "github.com/smallbiznis/parkway/internal/token/domain"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	walletdomain "github.com/smallbiznis/parkway/internal/wallet/domain"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	UoW         *db.UnitOfWork
	Repo        paymentdomain.Repository
	BookingRepo bookingdomain.Repository
	WalletRepo  walletdomain.Repository
	UserRepo    userdomain.Repository
	WalletSvc   walletdomain.Service
	Authz       authorization.Service
	TokenSvc    tokendomain.Service `optional:"true"`
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	uow         *db.UnitOfWork
	repo        paymentdomain.Repository
	bookingRepo bookingdomain.Repository
	walletRepo  walletdomain.Repository
	userRepo    userdomain.Repository
	walletSvc   walletdomain.Service
	authz       authorization.Service
	tokenSvc    tokendomain.Service
	auditSvc    auditdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		uow:         p.UoW,
		repo:        p.Repo,
		bookingRepo: p.BookingRepo,
		walletRepo:  p.WalletRepo,
		userRepo:    p.UserRepo,
		walletSvc:   p.WalletSvc,
		authz:       p.Authz,
		tokenSvc:    p.TokenSvc,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) RecordPayment(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.RecordPaymentResult, error) {
	if req.Type == "" {
		req.Type = paymentdomain.TypePayment
	}
	if !req.Type.Valid() {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrInvalidType
	}
	if !req.Status.Valid() {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrInvalidStatus
	}
	if req.Amount.IsNegative() {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrInvalidAmount
	}
	if req.Status == paymentdomain.StatusCompleted && !req.Amount.IsPositive() {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrInvalidAmount
	}

	current, err := s.bookingRepo.FindByID(ctx, s.db, req.BookingID)
	if err != nil {
		return paymentdomain.RecordPaymentResult{}, err
	}
	if current == nil {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrBookingNotFound
	}
	// The owner pays from their own wallet. Anyone else is recording an
	// external settlement and needs the payment permission.
	walletFunded := current.UserID == req.CallerID && req.Type == paymentdomain.TypePayment
	if !walletFunded {
		if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermPaymentUpdateStatus); err != nil {
			return paymentdomain.RecordPaymentResult{}, err
		}
	}
	if req.Type == paymentdomain.TypePayment && !req.Amount.Round(2).Equal(current.TotalPrice.Round(2)) {
		return paymentdomain.RecordPaymentResult{}, paymentdomain.ErrAmountMismatch
	}

	now := s.clock.Now().UTC()
	var (
		result  paymentdomain.RecordPaymentResult
		booking bookingdomain.Booking
	)
	err = s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.bookingRepo.FindByIDForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if locked == nil {
			return paymentdomain.ErrBookingNotFound
		}
		wallet, err := s.walletRepo.FindByID(ctx, tx, req.WalletID)
		if err != nil {
			return err
		}
		if wallet == nil {
			return paymentdomain.ErrWalletNotFound
		}
		user, err := s.userRepo.FindByID(ctx, tx, locked.UserID)
		if err != nil {
			return err
		}
		if user == nil {
			return paymentdomain.ErrUserNotFound
		}
		if wallet.UserID != locked.UserID {
			return paymentdomain.ErrWalletNotOwned
		}
		if locked.Status == bookingdomain.StatusCanceled {
			return paymentdomain.ErrBookingCanceled
		}

		settles := req.Type == paymentdomain.TypePayment && req.Status == paymentdomain.StatusCompleted
		if settles {
			paid, err := s.repo.HasCompletedPayment(ctx, tx, locked.ID)
			if err != nil {
				return err
			}
			if paid {
				return paymentdomain.ErrAlreadyPaid
			}
		}

		bookingID := locked.ID
		if settles && walletFunded {
			if _, err := s.walletSvc.DebitTx(ctx, tx, walletdomain.TxMutation{
				WalletID:       wallet.ID,
				Amount:         locked.TotalPrice,
				IdempotencyKey: "booking:" + locked.ID.String(),
				SourceType:     walletdomain.SourceBooking,
				SourceID:       &bookingID,
			}); err != nil {
				return err
			}
		}

		txn := paymentdomain.PaymentTransaction{
			ID:              s.genID.Generate(),
			WalletID:        wallet.ID,
			BookingID:       &bookingID,
			Amount:          req.Amount.Round(2),
			Type:            req.Type,
			Status:          req.Status,
			Reference:       normalizeReference(req.Reference),
			TransactionDate: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Insert(ctx, tx, &txn); err != nil {
			return err
		}
		result.Transaction = txn

		if settles && locked.Status == bookingdomain.StatusPending {
			confirmed, err := s.confirmBooking(ctx, tx, locked, now)
			if err != nil {
				return err
			}
			result.BookingConfirmed = confirmed
		}
		booking = *locked
		return nil
	})
	if err != nil {
		s.log.Warn("payment record rejected",
			zap.String("booking_id", req.BookingID.String()),
			zap.String("wallet_id", req.WalletID.String()),
			zap.Error(err),
		)
		return paymentdomain.RecordPaymentResult{}, err
	}

	s.audit(ctx, req.CallerID, "payment.recorded", result.Transaction.ID, map[string]any{
		"booking_id": req.BookingID.String(),
		"amount":     result.Transaction.Amount.StringFixed(2),
		"type":       string(result.Transaction.Type),
		"status":     string(result.Transaction.Status),
		"reference":  derefString(result.Transaction.Reference),
	})
	if result.BookingConfirmed {
		s.issueAccessToken(ctx, booking, now)
	}
	return result, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req paymentdomain.UpdateStatusRequest) (paymentdomain.PaymentTransaction, error) {
	if !req.Status.Valid() {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrInvalidStatus
	}
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermPaymentUpdateStatus); err != nil {
		return paymentdomain.PaymentTransaction{}, err
	}

	now := s.clock.Now().UTC()
	var (
		out       paymentdomain.PaymentTransaction
		confirmed *bookingdomain.Booking
	)
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := s.repo.FindByIDForUpdate(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if txn == nil {
			return paymentdomain.ErrNotFound
		}
		if !txn.Status.CanTransitionTo(req.Status) {
			return paymentdomain.ErrInvalidTransition
		}

		settles := txn.Type == paymentdomain.TypePayment &&
			req.Status == paymentdomain.StatusCompleted &&
			txn.Status != paymentdomain.StatusCompleted
		var booking *bookingdomain.Booking
		if settles && txn.BookingID != nil {
			booking, err = s.bookingRepo.FindByIDForUpdate(ctx, tx, *txn.BookingID)
			if err != nil {
				return err
			}
			if booking == nil {
				return paymentdomain.ErrBookingNotFound
			}
			if booking.Status == bookingdomain.StatusCanceled {
				return paymentdomain.ErrBookingCanceled
			}
			paid, err := s.repo.HasCompletedPayment(ctx, tx, booking.ID)
			if err != nil {
				return err
			}
			if paid {
				return paymentdomain.ErrAlreadyPaid
			}
			if !txn.Amount.Round(2).Equal(booking.TotalPrice.Round(2)) {
				return paymentdomain.ErrAmountMismatch
			}
		}

		reference := normalizeReference(req.Reference)
		if err := s.repo.UpdateStatus(ctx, tx, txn.ID, req.Status, reference, now); err != nil {
			return err
		}
		txn.Status = req.Status
		if reference != nil {
			txn.Reference = reference
		}
		txn.UpdatedAt = now
		out = *txn

		if booking != nil && booking.Status == bookingdomain.StatusPending {
			ok, err := s.confirmBooking(ctx, tx, booking, now)
			if err != nil {
				return err
			}
			if ok {
				confirmed = booking
			}
		}
		return nil
	})
	if err != nil {
		return paymentdomain.PaymentTransaction{}, err
	}

	s.audit(ctx, req.CallerID, "payment.status_updated", out.ID, map[string]any{
		"status":    string(out.Status),
		"reference": derefString(out.Reference),
	})
	if confirmed != nil {
		s.issueAccessToken(ctx, *confirmed, now)
	}
	return out, nil
}

func (s *Service) GetByID(ctx context.Context, id, callerID snowflake.ID) (paymentdomain.PaymentTransaction, error) {
	txn, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return paymentdomain.PaymentTransaction{}, err
	}
	if txn == nil {
		return paymentdomain.PaymentTransaction{}, paymentdomain.ErrNotFound
	}
	wallet, err := s.walletRepo.FindByID(ctx, s.db, txn.WalletID)
	if err != nil {
		return paymentdomain.PaymentTransaction{}, err
	}
	if wallet == nil || wallet.UserID != callerID {
		if err := s.authz.Authorize(ctx, callerID, authorization.PermPaymentUpdateStatus); err != nil {
			return paymentdomain.PaymentTransaction{}, err
		}
	}
	return *txn, nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]paymentdomain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	items, err := s.repo.ListByUser(ctx, s.db, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]paymentdomain.PaymentTransaction, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) confirmBooking(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) (bool, error) {
	ok, err := s.bookingRepo.UpdateStatus(ctx, tx, booking.ID, bookingdomain.StatusPending, bookingdomain.StatusConfirmed, nil, now)
	if err != nil {
		return false, err
	}
	if ok {
		booking.Status = bookingdomain.StatusConfirmed
		booking.UpdatedAt = now
		s.log.Info("booking confirmed by payment", zap.String("booking_id", booking.ID.String()))
	}
	return ok, nil
}

// issueAccessToken runs after commit. A failure leaves the booking confirmed
// and the token can be issued again on request.
func (s *Service) issueAccessToken(ctx context.Context, booking bookingdomain.Booking, now time.Time) {
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

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, txnID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	targetID := txnID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, action, "payment_transaction", &targetID, metadata)
}

func normalizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
