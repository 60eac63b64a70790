package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/config"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	"github.com/smallbiznis/parkway/internal/token/domain"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	UoW        *db.UnitOfWork
	Policy     config.PolicySource
	Repo       domain.Repository
	Authz      authorization.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	uow        *db.UnitOfWork
	policy     config.PolicySource
	repo       domain.Repository
	authz      authorization.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("token.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		uow:        p.UoW,
		policy:     p.Policy,
		repo:       p.Repo,
		authz:      p.Authz,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (domain.Token, error) {
	if req.UserID == 0 {
		return domain.Token{}, domain.ErrUserNotFound
	}
	policy := s.policy.Get()
	ttl := policy.DefaultTokenTTL
	if req.ExpirationMinutes > 0 {
		ttl = time.Duration(req.ExpirationMinutes) * time.Minute
		if ttl > policy.MaxTokenTTL {
			return domain.Token{}, domain.ErrInvalidExpiration
		}
	}

	if req.CallerID != req.UserID {
		if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermTokenIssueForAnyUser); err != nil {
			return domain.Token{}, err
		}
	}

	exists, err := s.repo.UserExists(ctx, s.db, req.UserID)
	if err != nil {
		return domain.Token{}, err
	}
	if !exists {
		return domain.Token{}, domain.ErrUserNotFound
	}

	if req.BookingID != nil {
		owner, err := s.repo.BookingOwner(ctx, s.db, *req.BookingID)
		if err != nil {
			return domain.Token{}, err
		}
		if owner == 0 {
			return domain.Token{}, domain.ErrBookingNotFound
		}
		if owner != req.UserID {
			return domain.Token{}, domain.ErrBookingNotOwned
		}
	}

	now := s.clock.Now()
	validFrom := now
	if req.ValidFrom != nil && !req.ValidFrom.IsZero() {
		validFrom = req.ValidFrom.UTC()
	}

	token := domain.Token{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		BookingID: req.BookingID,
		Value:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		ValidFrom: validFrom,
		ValidTo:   validFrom.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &token); err != nil {
		return domain.Token{}, err
	}

	s.audit(ctx, req.CallerID, "token.issued", token.ID, map[string]any{
		"user_id":  token.UserID.String(),
		"valid_to": token.ValidTo.Format(time.RFC3339),
	})
	return token, nil
}

func (s *Service) Validate(ctx context.Context, req domain.ValidateRequest) (domain.ValidationResult, error) {
	value := strings.TrimSpace(req.Value)
	if req.BookingID == 0 || value == "" {
		return s.reject(ctx, domain.ReasonInvalidRequest, domain.ErrInvalidRequest)
	}

	var tokenID snowflake.ID
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		token, err := s.repo.FindByBookingAndValueForUpdate(ctx, tx, req.BookingID, value)
		if err != nil {
			return err
		}
		if token == nil {
			return domain.ErrInvalidToken
		}
		now := s.clock.Now()
		switch {
		case now.After(token.ValidTo):
			return domain.ErrExpired
		case now.Before(token.ValidFrom):
			return domain.ErrNotYetValid
		case token.IsUsed:
			return domain.ErrAlreadyUsed
		}
		ok, err := s.repo.MarkUsed(ctx, tx, token.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyUsed
		}
		tokenID = token.ID
		return nil
	})
	if err != nil {
		if reason := reasonFor(err); reason != "" {
			return s.reject(ctx, reason, err)
		}
		return domain.ValidationResult{}, err
	}

	s.obsMetrics.RecordTokenValidation(ctx, domain.ReasonOK)
	s.audit(ctx, 0, "token.validated", tokenID, map[string]any{"booking_id": req.BookingID.String()})
	return domain.ValidationResult{Valid: true, Reason: domain.ReasonOK}, nil
}

func (s *Service) reject(ctx context.Context, reason string, err error) (domain.ValidationResult, error) {
	s.obsMetrics.RecordTokenValidation(ctx, reason)
	s.log.Debug("token rejected", zap.String("reason", reason))
	return domain.ValidationResult{Valid: false, Reason: reason}, err
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		return domain.ReasonInvalid
	case errors.Is(err, domain.ErrExpired):
		return domain.ReasonExpired
	case errors.Is(err, domain.ErrNotYetValid):
		return domain.ReasonNotYetValid
	case errors.Is(err, domain.ErrAlreadyUsed):
		return domain.ReasonAlreadyUsed
	default:
		return ""
	}
}

func (s *Service) ListActiveByBooking(ctx context.Context, bookingID snowflake.ID) ([]domain.Token, error) {
	items, err := s.repo.ListActiveByBooking(ctx, s.db, bookingID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return flatten(items), nil
}

func (s *Service) ListActiveByUser(ctx context.Context, userID snowflake.ID) ([]domain.Token, error) {
	items, err := s.repo.ListActiveByUser(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return flatten(items), nil
}

func (s *Service) CleanupExpired(ctx context.Context, callerID snowflake.ID, now time.Time) (int64, error) {
	if err := s.authz.Authorize(ctx, callerID, authorization.PermTokenCleanup); err != nil {
		return 0, err
	}
	deleted, err := s.repo.DeleteExpiredOrUsed(ctx, s.db, now.UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("tokens cleaned up", zap.Int64("deleted", deleted))
		s.audit(ctx, callerID, "token.cleanup", 0, map[string]any{"deleted": deleted})
	}
	return deleted, nil
}

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, tokenID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var actorID, targetID *string
	actorType := ""
	if callerID != 0 {
		id := callerID.String()
		actorID = &id
		actorType = auditdomain.ActorTypeUser
	}
	if tokenID != 0 {
		id := tokenID.String()
		targetID = &id
	}
	_ = s.auditSvc.AuditLog(ctx, actorType, actorID, action, "token", targetID, metadata)
}

func flatten(items []*domain.Token) []domain.Token {
	out := make([]domain.Token, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out
}
