// Package errkind classifies domain errors into the four kinds surfaced to callers.
//
// Domain packages keep their own sentinel errors and register each one with a
// kind at init time. Transports and workers ask Of(err) instead of importing
// every domain package.
package errkind

import (
	"errors"
	"sync"
)

type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	Conflict
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

var (
	mu       sync.RWMutex
	registry = map[error]Kind{}
)

// Register binds sentinel errors to a kind. Registering the same sentinel twice keeps the last kind.
func Register(kind Kind, errs ...error) {
	mu.Lock()
	defer mu.Unlock()
	for _, err := range errs {
		if err != nil {
			registry[err] = kind
		}
	}
}

// Of returns the kind of the registered sentinel that err wraps, or Unknown.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	mu.RLock()
	defer mu.RUnlock()
	for sentinel, kind := range registry {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	return Of(err) == kind
}

type kinded interface {
	error
	Kind() Kind
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Kind() Kind    { return e.kind }

// New returns an ad hoc error carrying kind, for cases without a package sentinel.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
