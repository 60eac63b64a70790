package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	userdomain "github.com/smallbiznis/parkway/internal/user/domain"
	"github.com/smallbiznis/parkway/internal/wallet/domain"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 200
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	UoW        *db.UnitOfWork
	Repo       domain.Repository
	UserRepo   userdomain.Repository
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
	repo       domain.Repository
	userRepo   userdomain.Repository
	authz      authorization.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		uow:        p.UoW,
		repo:       p.Repo,
		userRepo:   p.UserRepo,
		authz:      p.Authz,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateWalletRequest) (domain.Wallet, error) {
	if req.InitialBalance.IsNegative() {
		return domain.Wallet{}, domain.ErrInvalidBalance
	}
	if req.CallerID != req.UserID {
		if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermWalletManageAny); err != nil {
			return domain.Wallet{}, err
		}
	}

	user, err := s.userRepo.FindByID(ctx, s.db, req.UserID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if user == nil {
		return domain.Wallet{}, domain.ErrUserNotFound
	}

	existing, err := s.repo.FindByUserID(ctx, s.db, req.UserID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if existing != nil {
		return domain.Wallet{}, domain.ErrAlreadyExists
	}

	now := s.clock.Now()
	wallet := domain.Wallet{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Balance:     req.InitialBalance.Round(2),
		LastUpdated: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, &wallet); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Wallet{}, domain.ErrAlreadyExists
		}
		return domain.Wallet{}, err
	}

	s.audit(ctx, req.CallerID, "wallet.created", wallet.ID, map[string]any{
		"user_id":         wallet.UserID.String(),
		"initial_balance": wallet.Balance.StringFixed(2),
	})
	s.log.Info("wallet created", zap.String("wallet_id", wallet.ID.String()), zap.String("user_id", wallet.UserID.String()))
	return wallet, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Wallet, error) {
	wallet, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Wallet{}, err
	}
	if wallet == nil {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return *wallet, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID snowflake.ID) (domain.Wallet, error) {
	wallet, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Wallet{}, err
	}
	if wallet == nil {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return *wallet, nil
}

func (s *Service) ListEntries(ctx context.Context, walletID, callerID snowflake.ID, limit int) ([]domain.WalletEntry, error) {
	if _, err := s.authorizeOwner(ctx, walletID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	items, err := s.repo.ListEntries(ctx, s.db, walletID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WalletEntry, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) Deposit(ctx context.Context, req domain.MutationRequest) (domain.Wallet, error) {
	return s.mutateWithAuth(ctx, req, domain.DirectionCredit, domain.SourceDeposit)
}

func (s *Service) Debit(ctx context.Context, req domain.MutationRequest) (domain.Wallet, error) {
	return s.mutateWithAuth(ctx, req, domain.DirectionDebit, domain.SourceDebit)
}

func (s *Service) DepositTx(ctx context.Context, tx *gorm.DB, m domain.TxMutation) (domain.Wallet, error) {
	wallet, _, err := s.mutate(ctx, tx, m, domain.DirectionCredit)
	return wallet, err
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, m domain.TxMutation) (domain.Wallet, error) {
	wallet, _, err := s.mutate(ctx, tx, m, domain.DirectionDebit)
	return wallet, err
}

func (s *Service) mutateWithAuth(ctx context.Context, req domain.MutationRequest, direction domain.EntryDirection, source string) (domain.Wallet, error) {
	if !req.Amount.IsPositive() {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	if _, err := s.authorizeOwner(ctx, req.WalletID, req.CallerID); err != nil {
		return domain.Wallet{}, err
	}

	var (
		out     domain.Wallet
		applied bool
	)
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, applied, err = s.mutate(ctx, tx, domain.TxMutation{
			WalletID:       req.WalletID,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey,
			SourceType:     source,
		}, direction)
		return err
	})
	if err != nil {
		s.log.Warn("wallet mutation failed",
			zap.String("wallet_id", req.WalletID.String()),
			zap.String("direction", string(direction)),
			zap.Error(err),
		)
		return domain.Wallet{}, err
	}

	if applied {
		s.audit(ctx, req.CallerID, "wallet."+source, out.ID, map[string]any{
			"amount":  req.Amount.StringFixed(2),
			"balance": out.Balance.StringFixed(2),
		})
	}
	return out, nil
}

// mutate applies one posting inside tx. A repeated idempotency key returns
// the current wallet and applied=false.
func (s *Service) mutate(ctx context.Context, tx *gorm.DB, m domain.TxMutation, direction domain.EntryDirection) (domain.Wallet, bool, error) {
	amount := m.Amount.Round(2)
	if !amount.IsPositive() {
		return domain.Wallet{}, false, domain.ErrInvalidAmount
	}

	wallet, err := s.repo.FindByIDForUpdate(ctx, tx, m.WalletID)
	if err != nil {
		return domain.Wallet{}, false, err
	}
	if wallet == nil {
		return domain.Wallet{}, false, domain.ErrNotFound
	}

	var key *string
	if trimmed := strings.TrimSpace(m.IdempotencyKey); trimmed != "" {
		key = &trimmed
		existing, err := s.repo.FindEntryByKey(ctx, tx, wallet.ID, trimmed)
		if err != nil {
			return domain.Wallet{}, false, err
		}
		if existing != nil {
			s.obsMetrics.RecordWalletMutation(ctx, "replay")
			return *wallet, false, nil
		}
	}

	var next decimal.Decimal
	switch direction {
	case domain.DirectionCredit:
		next = wallet.Balance.Add(amount)
	case domain.DirectionDebit:
		if wallet.Balance.LessThan(amount) {
			return domain.Wallet{}, false, domain.ErrInsufficientBalance
		}
		next = wallet.Balance.Sub(amount)
	}

	now := s.clock.Now()
	ok, err := s.repo.UpdateBalance(ctx, tx, wallet.ID, next, wallet.Version, now)
	if err != nil {
		return domain.Wallet{}, false, err
	}
	if !ok {
		return domain.Wallet{}, false, domain.ErrConcurrentUpdate
	}

	entry := domain.WalletEntry{
		ID:             s.genID.Generate(),
		WalletID:       wallet.ID,
		Direction:      direction,
		Amount:         amount,
		BalanceAfter:   next,
		SourceType:     m.SourceType,
		SourceID:       m.SourceID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Wallet{}, false, domain.ErrConcurrentUpdate
		}
		return domain.Wallet{}, false, err
	}

	wallet.Balance = next
	wallet.Version++
	wallet.LastUpdated = now
	wallet.UpdatedAt = now
	s.obsMetrics.RecordWalletMutation(ctx, string(direction))
	return *wallet, true, nil
}

// authorizeOwner lets the wallet owner through and requires wallet.manage_any for anyone else.
func (s *Service) authorizeOwner(ctx context.Context, walletID, callerID snowflake.ID) (*domain.Wallet, error) {
	wallet, err := s.repo.FindByID(ctx, s.db, walletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, domain.ErrNotFound
	}
	if wallet.UserID != callerID {
		if err := s.authz.Authorize(ctx, callerID, authorization.PermWalletManageAny); err != nil {
			return nil, err
		}
	}
	return wallet, nil
}

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, walletID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	targetID := walletID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, action, "wallet", &targetID, metadata)
}
