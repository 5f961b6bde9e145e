package lock

import (
	"context"

	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/types"
)

// CycleLock guards billing cycle runs. A live run is exclusive. Dry runs may
// overlap each other but never a live run.
type CycleLock interface {
	// Acquire takes the guard and returns its release function, or an
	// ErrCycleAlreadyRunning error when the run would overlap another.
	Acquire(ctx context.Context, dryRun bool) (release func(), err error)

	// Status reports the runs currently holding the guard
	Status(ctx context.Context) (Status, error)
}

// Status describes the holders of the guard
type Status struct {
	Live    bool
	DryRuns int
}

// NewCycleLock builds the guard selected by lock.provider
func NewCycleLock(cfg *config.Configuration, log *logger.Logger) (CycleLock, error) {
	switch cfg.Lock.Provider {
	case types.LockProviderRedis:
		client, err := NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		log.Infow("using redis billing cycle lock", "key", cfg.Lock.Key, "ttl", cfg.Lock.TTL)
		return NewRedisCycleLock(client, cfg.Lock.Key, cfg.Lock.TTL, log), nil
	case types.LockProviderMemory, "":
		return NewMemoryCycleLock(), nil
	default:
		return nil, ierr.NewError("unsupported lock provider").
			WithHintf("Lock provider %s is not supported", cfg.Lock.Provider).
			Mark(ierr.ErrValidation)
	}
}

func errAlreadyRunning(dryRun bool) error {
	mode := "live"
	if dryRun {
		mode = "dry"
	}
	return ierr.NewError("billing cycle already running").
		WithHint("A billing cycle is already in progress, try again once it finishes").
		WithReportableDetails(map[string]any{"requested_mode": mode}).
		Mark(ierr.ErrCycleAlreadyRunning)
}
