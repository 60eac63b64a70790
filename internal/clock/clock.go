package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the single source of "now" for booking windows, token expiry and jobs.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
