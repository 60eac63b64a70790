package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/parkway/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize resolves the caller's role from the users table and enforces
// role:<role> against the permission. Role inheritance is seeded as grouping
// policies, so per-user groupings are never written.
func (s *ServiceImpl) Authorize(ctx context.Context, callerID snowflake.ID, permission string) error {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return ErrInvalidPermission
	}
	if callerID == 0 {
		return ErrInvalidActor
	}

	role, err := s.roleForUser(ctx, callerID)
	if err != nil {
		return err
	}
	if role == "" {
		s.auditDenied(ctx, callerID, permission, "unknown_actor")
		return ErrInvalidActor
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), permission)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, callerID, permission, role)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role FROM users WHERE id = ? LIMIT 1`,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(row.Role)), nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, callerID snowflake.ID, permission, role string) {
	s.log.Info("authorization denied",
		zap.String("caller_id", callerID.String()),
		zap.String("permission", permission),
		zap.String("role", role),
	)
	if s.auditSvc == nil {
		return
	}
	actorID := callerID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, &actorID, "authorization.denied", "permission", &permission, map[string]any{
		"role": role,
	})
}

func roleSubject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:operator", PermGarageManage},
		{"role:operator", PermSensorManage},
		{"role:operator", PermSensorReport},
		{"role:operator", PermBookingViewAny},
		{"role:operator", PermTokenCleanup},

		{"role:admin", PermBookingCancelAny},
		{"role:admin", PermWalletManageAny},
		{"role:admin", PermPaymentUpdateStatus},
		{"role:admin", PermUserManage},
		{"role:admin", PermAuditLogView},
		{"role:admin", PermTokenIssueForAnyUser},
		{"role:admin", PermGarageReconcile},

		// automated processes: scheduler, sensor consumer
		{"role:system", PermTokenCleanup},
		{"role:system", PermSensorReport},
		{"role:system", PermGarageReconcile},
		{"role:system", PermPaymentUpdateStatus},
	}
	for _, policy := range policies {
		if has, _ := enforcer.HasPolicy(policy[0], policy[1]); has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy[0], policy[1]); err != nil {
			return err
		}
	}

	groupings := [][]string{
		{"role:admin", "role:operator"},
	}
	for _, g := range groupings {
		if has, _ := enforcer.HasGroupingPolicy(g[0], g[1]); has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return err
		}
	}
	return nil
}
