package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type RefundPolicy string

const (
	RefundNone RefundPolicy = "none"
	RefundFull RefundPolicy = "full"
)

// BookingPolicy holds the operator-tunable rules for booking, cancellation and access tokens.
type BookingPolicy struct {
	RefundPolicy    RefundPolicy  `mapstructure:"refundPolicy"`
	CancelLockout   time.Duration `mapstructure:"cancelLockout"`
	DefaultTokenTTL time.Duration `mapstructure:"defaultTokenTTL"`
	MaxTokenTTL     time.Duration `mapstructure:"maxTokenTTL"`
	MaxBookingSpan  time.Duration `mapstructure:"maxBookingSpan"`
	StartSkew       time.Duration `mapstructure:"startSkew"`
}

func DefaultBookingPolicy() BookingPolicy {
	return BookingPolicy{
		RefundPolicy:    RefundNone,
		CancelLockout:   30 * time.Minute,
		DefaultTokenTTL: 60 * time.Minute,
		MaxTokenTTL:     24 * time.Hour,
		MaxBookingSpan:  24 * time.Hour,
		StartSkew:       5 * time.Minute,
	}
}

// PolicySource is read by services on every call so hot reloads apply without restart.
type PolicySource interface {
	Get() BookingPolicy
}

type PolicyHolder struct {
	current atomic.Value // holds BookingPolicy
}

// StaticPolicy returns a holder pinned to p. Used by tests and tools.
func StaticPolicy(p BookingPolicy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(p)
	return h
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/parkway")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PARKWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBookingPolicy()
	v.SetDefault("booking.refundPolicy", string(defaults.RefundPolicy))
	v.SetDefault("booking.cancelLockout", defaults.CancelLockout)
	v.SetDefault("booking.defaultTokenTTL", defaults.DefaultTokenTTL)
	v.SetDefault("booking.maxTokenTTL", defaults.MaxTokenTTL)
	v.SetDefault("booking.maxBookingSpan", defaults.MaxBookingSpan)
	v.SetDefault("booking.startSkew", defaults.StartSkew)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read booking policy: %w", err)
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePolicy(v)
			if err != nil {
				log.Printf("[booking-policy] invalid policy ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[booking-policy] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() BookingPolicy {
	return h.current.Load().(BookingPolicy)
}

func decodePolicy(v *viper.Viper) (BookingPolicy, error) {
	var p BookingPolicy
	if err := v.UnmarshalKey("booking", &p); err != nil {
		return BookingPolicy{}, err
	}
	p.RefundPolicy = RefundPolicy(strings.ToLower(strings.TrimSpace(string(p.RefundPolicy))))
	if err := ValidateBookingPolicy(p); err != nil {
		return BookingPolicy{}, err
	}
	return p, nil
}

func ValidateBookingPolicy(p BookingPolicy) error {
	switch p.RefundPolicy {
	case RefundNone, RefundFull:
	default:
		return fmt.Errorf("booking.refundPolicy %q is not supported", p.RefundPolicy)
	}
	if p.CancelLockout < 0 {
		return errors.New("booking.cancelLockout cannot be negative")
	}
	if p.DefaultTokenTTL <= 0 {
		return errors.New("booking.defaultTokenTTL must be positive")
	}
	if p.MaxTokenTTL < p.DefaultTokenTTL {
		return errors.New("booking.maxTokenTTL must be >= defaultTokenTTL")
	}
	if p.MaxBookingSpan <= 0 {
		return errors.New("booking.maxBookingSpan must be positive")
	}
	return nil
}
