package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/availability/domain"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
	"github.com/smallbiznis/parkway/pkg/geo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	GarageRepo garagedomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	garageRepo garagedomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("availability.service"),
		repo:       p.Repo,
		garageRepo: p.GarageRepo,
	}
}

func (s *Service) CountConflicts(ctx context.Context, tx *gorm.DB, garageID snowflake.ID, start, end time.Time) (int, error) {
	if !start.Before(end) {
		return 0, domain.ErrInvalidTimeRange
	}
	return s.repo.CountConflicts(ctx, tx, garageID, start, end)
}

func (s *Service) WindowAvailability(ctx context.Context, garageID snowflake.ID, start, end time.Time) (int, error) {
	if !start.Before(end) {
		return 0, domain.ErrInvalidTimeRange
	}
	garage, err := s.garageRepo.FindByID(ctx, s.db, garageID)
	if err != nil {
		return 0, err
	}
	if garage == nil {
		return 0, garagedomain.ErrNotFound
	}
	conflicts, err := s.repo.CountConflicts(ctx, s.db, garageID, start, end)
	if err != nil {
		return 0, err
	}
	return max(garage.Capacity-conflicts, 0), nil
}

func (s *Service) HasFreeSpot(ctx context.Context, garageID snowflake.ID) (bool, error) {
	garage, err := s.garageRepo.FindByID(ctx, s.db, garageID)
	if err != nil {
		return false, err
	}
	if garage == nil {
		return false, garagedomain.ErrNotFound
	}
	return garage.AvailableSpots > 0, nil
}

func (s *Service) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	if !req.Start.Before(req.End) {
		return nil, domain.ErrInvalidTimeRange
	}
	if !geo.ValidCoordinates(req.Latitude, req.Longitude) {
		return nil, domain.ErrInvalidCoordinates
	}

	filter := garagedomain.BoxFilter{City: req.City}
	if req.MaxDistanceKm != nil {
		if *req.MaxDistanceKm <= 0 {
			return nil, domain.ErrInvalidDistance
		}
		box := geo.Box(req.Latitude, req.Longitude, *req.MaxDistanceKm)
		filter.Box = &box
	}

	garages, err := s.garageRepo.ListActive(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if len(garages) == 0 {
		return []domain.SearchResult{}, nil
	}

	ids := make([]snowflake.ID, 0, len(garages))
	for _, g := range garages {
		ids = append(ids, g.ID)
	}
	conflicts, err := s.repo.CountConflictsByGarage(ctx, s.db, ids, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(garages))
	for _, g := range garages {
		var distance *float64
		if g.HasCoordinates() {
			d := geo.HaversineKm(req.Latitude, req.Longitude, *g.Latitude, *g.Longitude)
			distance = &d
		}
		if req.MaxDistanceKm != nil && (distance == nil || *distance > *req.MaxDistanceKm) {
			continue
		}
		available := max(g.Capacity-conflicts[g.ID], 0)
		if available <= 0 {
			continue
		}
		results = append(results, domain.SearchResult{
			GarageID:       g.ID,
			Name:           g.Name,
			AvailableSpots: available,
			DistanceKm:     distance,
		})
	}

	sortByDistance(results)
	s.log.Debug("availability search",
		zap.Int("candidates", len(garages)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// sortByDistance orders nearest first; results without coordinates go last, by id.
func sortByDistance(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].DistanceKm, results[j].DistanceKm
		switch {
		case a != nil && b != nil:
			if *a != *b {
				return *a < *b
			}
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return results[i].GarageID < results[j].GarageID
	})
}
