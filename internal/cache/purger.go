package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Purger periodically removes expired entries, independent of the lazy
// expiry done on read.
type Purger struct {
	logger   *logrus.Logger
	store    *Store
	interval time.Duration
}

func NewPurger(logger *logrus.Logger, store *Store, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Purger{
		logger:   logger,
		store:    store,
		interval: interval,
	}
}

// Start blocks until ctx is cancelled.
func (p *Purger) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logEntry := p.logger.WithField("component", "cache_purger")
	logEntry.WithField("interval", p.interval).Info("Starting cache purger")

	for {
		select {
		case <-ticker.C:
			p.purgeExpiredCache(ctx, logEntry)
		case <-ctx.Done():
			logEntry.Info("Stopping cache purger")
			return
		}
	}
}

func (p *Purger) purgeExpiredCache(ctx context.Context, log *logrus.Entry) {
	log = log.WithField("operation", "cache_purge")

	count, err := p.store.CleanupExpired(ctx)
	if err != nil {
		log.WithError(err).Error("Cache purge failed")
		return
	}
	log.WithField("count", count).Debug("Processed expired cache entries")
}
