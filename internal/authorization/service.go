package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/parkway/internal/errkind"
)

// Permissions checked by Authorize. Owners act on their own records without one.
const (
	PermBookingCancelAny     = "booking.cancel_any"
	PermBookingViewAny       = "booking.view_any"
	PermWalletManageAny      = "wallet.manage_any"
	PermPaymentUpdateStatus  = "payment.update_status"
	PermTokenCleanup         = "token.cleanup"
	PermGarageManage         = "garage.manage"
	PermGarageReconcile      = "garage.reconcile"
	PermSensorManage         = "sensor.manage"
	PermSensorReport         = "sensor.report"
	PermUserManage           = "user.manage"
	PermAuditLogView         = "audit_log.view"
	PermTokenIssueForAnyUser = "token.issue_any"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidActor      = errors.New("invalid_actor")
	ErrInvalidPermission = errors.New("invalid_permission")
)

func init() {
	errkind.Register(errkind.Forbidden, ErrForbidden, ErrInvalidActor)
	errkind.Register(errkind.InvalidArgument, ErrInvalidPermission)
}

// Service answers whether callerID holds permission.
type Service interface {
	Authorize(ctx context.Context, callerID snowflake.ID, permission string) error
}
