package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	"github.com/smallbiznis/parkway/internal/garage/domain"
	"github.com/smallbiznis/parkway/internal/occupancy"
	"github.com/smallbiznis/parkway/pkg/db"
	"github.com/smallbiznis/parkway/pkg/geo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	UoW       *db.UnitOfWork
	Repo      domain.Repository
	Authz     authorization.Service
	AuditSvc  auditdomain.Service `optional:"true"`
	Occupancy occupancy.Publisher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	uow       *db.UnitOfWork
	repo      domain.Repository
	authz     authorization.Service
	auditSvc  auditdomain.Service
	occupancy occupancy.Publisher
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("garage.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		uow:       p.UoW,
		repo:      p.Repo,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		occupancy: p.Occupancy,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateGarageRequest) (domain.Garage, error) {
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermGarageManage); err != nil {
		return domain.Garage{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Garage{}, domain.ErrInvalidName
	}
	if req.Capacity <= 0 {
		return domain.Garage{}, domain.ErrInvalidCapacity
	}
	if req.PricePerHour.IsNegative() {
		return domain.Garage{}, domain.ErrInvalidPrice
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return domain.Garage{}, domain.ErrInvalidCoordinates
	}
	if req.Latitude != nil && !geo.ValidCoordinates(*req.Latitude, *req.Longitude) {
		return domain.Garage{}, domain.ErrInvalidCoordinates
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	garage := domain.Garage{
		ID:             id,
		Name:           name,
		Slug:           fmt.Sprintf("%s-%s", slug.Make(name), id.Base36()),
		Location:       strings.TrimSpace(req.Location),
		City:           strings.TrimSpace(req.City),
		Area:           strings.TrimSpace(req.Area),
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Capacity:       req.Capacity,
		AvailableSpots: req.Capacity,
		IsActive:       true,
		PricePerHour:   req.PricePerHour.Round(2),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &garage); err != nil {
		return domain.Garage{}, err
	}

	s.audit(ctx, req.CallerID, "garage.created", garage.ID, map[string]any{
		"capacity": garage.Capacity,
		"slug":     garage.Slug,
	})
	s.log.Info("garage created", zap.String("garage_id", garage.ID.String()), zap.Int("capacity", garage.Capacity))
	return garage, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Garage, error) {
	garage, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Garage{}, err
	}
	if garage == nil {
		return domain.Garage{}, domain.ErrNotFound
	}
	return *garage, nil
}

func (s *Service) ToggleStatus(ctx context.Context, req domain.ToggleStatusRequest) (domain.Garage, error) {
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermGarageManage); err != nil {
		return domain.Garage{}, err
	}

	var out domain.Garage
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		garage, err := s.repo.FindByIDForUpdate(ctx, tx, req.GarageID)
		if err != nil {
			return err
		}
		if garage == nil {
			return domain.ErrNotFound
		}
		now := s.clock.Now()
		garage.IsActive = !garage.IsActive
		garage.UpdatedAt = now
		if err := s.repo.UpdateStatus(ctx, tx, garage.ID, garage.IsActive, now); err != nil {
			return err
		}
		out = *garage
		return nil
	})
	if err != nil {
		return domain.Garage{}, err
	}

	s.audit(ctx, req.CallerID, "garage.status_toggled", out.ID, map[string]any{"is_active": out.IsActive})
	return out, nil
}

func (s *Service) Search(ctx context.Context, req domain.SearchRequest) ([]domain.Garage, error) {
	if req.MinAvailableSpots != nil && *req.MinAvailableSpots < 0 {
		return nil, domain.ErrInvalidCapacity
	}
	items, err := s.repo.Search(ctx, s.db, domain.SearchFilter{
		City:              req.City,
		MinAvailableSpots: req.MinAvailableSpots,
		ActiveOnly:        req.ActiveOnly,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Garage, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) Reconcile(ctx context.Context, now time.Time) (domain.ReconcileResult, error) {
	garages, err := s.repo.ListWithoutActiveSensors(ctx, s.db)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	result := domain.ReconcileResult{Scanned: len(garages)}
	for _, candidate := range garages {
		adjusted, err := s.reconcileOne(ctx, candidate.ID, now)
		if err != nil {
			return result, err
		}
		if adjusted {
			result.Adjusted++
		}
	}
	return result, nil
}

func (s *Service) reconcileOne(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	adjusted := false
	var before, after int
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		garage, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil || garage == nil {
			return err
		}
		held, err := s.repo.CountHeldSpots(ctx, tx, id, now)
		if err != nil {
			return err
		}
		want := clamp(garage.Capacity-held, 0, garage.Capacity)
		if want == garage.AvailableSpots {
			return nil
		}
		before, after = garage.AvailableSpots, want
		adjusted = true
		return s.repo.SetAvailableSpots(ctx, tx, id, want, s.clock.Now())
	})
	if err != nil {
		return false, err
	}
	if adjusted {
		s.log.Info("garage spots reconciled",
			zap.String("garage_id", id.String()),
			zap.Int("before", before),
			zap.Int("after", after),
		)
		if s.occupancy != nil {
			s.occupancy.Publish(occupancy.Event{
				GarageID:       id,
				Kind:           occupancy.KindReconciled,
				AvailableSpots: after,
				OccurredAt:     now,
			})
		}
	}
	return adjusted, nil
}

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, garageID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	targetID := garageID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, action, "garage", &targetID, metadata)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
