package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"github.com/smallbiznis/parkway/internal/authorization"
	"github.com/smallbiznis/parkway/internal/clock"
	garagedomain "github.com/smallbiznis/parkway/internal/garage/domain"
	obsmetrics "github.com/smallbiznis/parkway/internal/observability/metrics"
	"github.com/smallbiznis/parkway/internal/occupancy"
	"github.com/smallbiznis/parkway/internal/sensor/domain"
	"github.com/smallbiznis/parkway/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxFutureSkew bounds how far ahead of the server clock a device may stamp a report.
const maxFutureSkew = 5 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	UoW        *db.UnitOfWork
	Repo       domain.Repository
	GarageRepo garagedomain.Repository
	Authz      authorization.Service
	Hook       domain.CheckInHook  `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Occupancy  occupancy.Publisher `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	uow        *db.UnitOfWork
	repo       domain.Repository
	garageRepo garagedomain.Repository
	authz      authorization.Service
	hook       domain.CheckInHook
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	occupancy  occupancy.Publisher
}

func New(p Params) domain.Service {
	hook := p.Hook
	if hook == nil {
		hook = domain.NoopCheckInHook{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sensor.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		uow:        p.UoW,
		repo:       p.Repo,
		garageRepo: p.GarageRepo,
		authz:      p.Authz,
		hook:       hook,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		occupancy:  p.Occupancy,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.Sensor, error) {
	if req.Type == "" {
		req.Type = domain.TypeOccupancy
	}
	if !req.Type.Valid() {
		return domain.Sensor{}, domain.ErrInvalidType
	}
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermSensorManage); err != nil {
		return domain.Sensor{}, err
	}

	garage, err := s.garageRepo.FindByID(ctx, s.db, req.GarageID)
	if err != nil {
		return domain.Sensor{}, err
	}
	if garage == nil {
		return domain.Sensor{}, domain.ErrGarageNotFound
	}

	now := s.clock.Now().UTC()
	sensor := domain.Sensor{
		ID:        s.genID.Generate(),
		GarageID:  garage.ID,
		Type:      req.Type,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &sensor); err != nil {
		return domain.Sensor{}, err
	}

	s.audit(ctx, req.CallerID, "sensor.registered", sensor.ID, map[string]any{
		"garage_id": garage.ID.String(),
		"type":      string(sensor.Type),
	})
	return sensor, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.Sensor, error) {
	sensor, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Sensor{}, err
	}
	if sensor == nil {
		return domain.Sensor{}, domain.ErrNotFound
	}
	return *sensor, nil
}

func (s *Service) ListByGarage(ctx context.Context, garageID snowflake.ID) ([]domain.Sensor, error) {
	items, err := s.repo.ListByGarage(ctx, s.db, garageID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Sensor, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) SetStatus(ctx context.Context, req domain.SetStatusRequest) (domain.Sensor, error) {
	if !req.Status.Valid() {
		return domain.Sensor{}, domain.ErrInvalidStatus
	}
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermSensorManage); err != nil {
		return domain.Sensor{}, err
	}

	now := s.clock.Now().UTC()
	var out domain.Sensor
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.repo.FindByIDForUpdate(ctx, tx, req.SensorID)
		if err != nil {
			return err
		}
		if sensor == nil {
			return domain.ErrNotFound
		}
		var maintained *time.Time
		if req.LastMaintenance != nil {
			t := req.LastMaintenance.UTC()
			maintained = &t
		}
		if err := s.repo.UpdateStatus(ctx, tx, sensor.ID, req.Status, maintained, now); err != nil {
			return err
		}
		sensor.Status = req.Status
		if maintained != nil {
			sensor.LastMaintenance = maintained
		}
		sensor.UpdatedAt = now
		out = *sensor
		return nil
	})
	if err != nil {
		return domain.Sensor{}, err
	}

	s.audit(ctx, req.CallerID, "sensor.status_updated", out.ID, map[string]any{"status": string(out.Status)})
	return out, nil
}

// ReportStatus reconciles one device report with the garage counter.
// Reports older than the last accepted one are acknowledged and dropped.
func (s *Service) ReportStatus(ctx context.Context, req domain.ReportRequest) (domain.ReportAck, error) {
	if err := s.authz.Authorize(ctx, req.CallerID, authorization.PermSensorReport); err != nil {
		return domain.ReportAck{}, err
	}

	now := s.clock.Now().UTC()
	reportedAt := req.Timestamp.UTC()
	if req.Timestamp.IsZero() {
		reportedAt = now
	}
	if reportedAt.After(now.Add(maxFutureSkew)) {
		return domain.ReportAck{}, domain.ErrInvalidTimestamp
	}

	ack := domain.ReportAck{SensorID: req.SensorID}
	var garageID snowflake.ID
	err := s.uow.WithTx(ctx, func(tx *gorm.DB) error {
		sensor, err := s.repo.FindByIDForUpdate(ctx, tx, req.SensorID)
		if err != nil {
			return err
		}
		if sensor == nil {
			return domain.ErrNotFound
		}
		if sensor.Status != domain.StatusActive {
			return domain.ErrInactive
		}
		garage, err := s.garageRepo.FindByIDForUpdate(ctx, tx, sensor.GarageID)
		if err != nil {
			return err
		}
		if garage == nil {
			return domain.ErrGarageNotFound
		}
		garageID = garage.ID
		ack.AvailableSpots = garage.AvailableSpots

		if sensor.LastReportedAt != nil && reportedAt.Before(sensor.LastReportedAt.UTC()) {
			ack.Stale = true
			return nil
		}

		ack.Changed = sensor.IsOccupied != req.IsOccupied
		if err := s.repo.RecordReport(ctx, tx, sensor.ID, req.IsOccupied, reportedAt, now); err != nil {
			return err
		}

		if ack.Changed {
			var moved bool
			if req.IsOccupied {
				moved, err = s.garageRepo.DecrementSpots(ctx, tx, garage.ID, now)
			} else {
				moved, err = s.garageRepo.IncrementSpots(ctx, tx, garage.ID, now)
			}
			if err != nil {
				return err
			}
			if moved && req.IsOccupied {
				ack.AvailableSpots--
			} else if moved {
				ack.AvailableSpots++
			}
		}

		if req.BookingID != nil {
			return s.hook.OnOccupancy(ctx, tx, domain.OccupancyEvent{
				SensorID:   sensor.ID,
				GarageID:   garage.ID,
				BookingID:  *req.BookingID,
				IsOccupied: req.IsOccupied,
				Changed:    ack.Changed,
				ReportedAt: reportedAt,
			})
		}
		return nil
	})
	if err != nil {
		s.log.Warn("sensor report rejected", zap.String("sensor_id", req.SensorID.String()), zap.Error(err))
		return domain.ReportAck{}, err
	}

	switch {
	case ack.Stale:
		s.obsMetrics.RecordSensorReport(ctx, "stale")
		s.log.Debug("stale sensor report ignored", zap.String("sensor_id", req.SensorID.String()))
	case !ack.Changed:
		s.obsMetrics.RecordSensorReport(ctx, "unchanged")
	default:
		kind := occupancy.KindSpotFreed
		change := "freed"
		if req.IsOccupied {
			kind = occupancy.KindSpotOccupied
			change = "occupied"
		}
		s.obsMetrics.RecordSensorReport(ctx, change)
		s.publish(garageID, req.SensorID, kind, ack.AvailableSpots, now)
		s.log.Info("sensor occupancy changed",
			zap.String("sensor_id", req.SensorID.String()),
			zap.Bool("occupied", req.IsOccupied),
			zap.Int("available_spots", ack.AvailableSpots),
		)
	}
	return ack, nil
}

func (s *Service) publish(garageID, sensorID snowflake.ID, kind string, spots int, now time.Time) {
	if s.occupancy == nil {
		return
	}
	id := sensorID
	s.occupancy.Publish(occupancy.Event{
		GarageID:       garageID,
		Kind:           kind,
		AvailableSpots: spots,
		SensorID:       &id,
		OccurredAt:     now,
	})
}

func (s *Service) audit(ctx context.Context, callerID snowflake.ID, action string, sensorID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	targetID := sensorID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, action, "sensor", &targetID, metadata)
}
