package services

import (
	"context"
	"time"

	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/store"
)

// CodeJanitor deletes authorization codes once they are past expiry by
// more than the retention window. Used codes stay for the window so a
// replay still finds them and triggers revocation.
type CodeJanitor struct {
	store     *store.Store
	clock     domain.Clock
	retention time.Duration
	logger    log.Logger
}

func NewCodeJanitor(st *store.Store, clock domain.Clock, retention time.Duration, logger log.Logger) *CodeJanitor {
	return &CodeJanitor{
		store:     st,
		clock:     clock,
		retention: retention,
		logger:    logger.With(map[string]interface{}{"component": "code_janitor"}),
	}
}

// PurgeExpired removes stale codes and returns how many were removed.
func (j *CodeJanitor) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := j.clock.Now().Add(-j.retention)

	uow := j.store.Begin()
	defer uow.Rollback()

	stale := uow.AuthCodes.Find(func(c *domain.AuthCode) bool {
		return c.IsExpired(cutoff)
	})
	for _, c := range stale {
		if err := uow.AuthCodes.Remove(c.Code); err != nil {
			return 0, err
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := uow.Commit(); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Run purges on every tick until ctx is done.
func (j *CodeJanitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.PurgeExpired(ctx)
			if err != nil {
				j.logger.Error(ctx, "Purging expired authorization codes failed", err)
				continue
			}
			if n > 0 {
				j.logger.Debug(ctx, "Purged expired authorization codes", map[string]interface{}{"count": n})
			}
		}
	}
}
