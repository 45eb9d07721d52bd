package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for published metrics.
	MetricsKeyPrefix = "metrics:"
	// DefaultReportInterval is used when the reporter is given a non-positive interval.
	DefaultReportInterval = 30 * time.Second
)

// KeySetter is the subset of the Redis client the reporter needs.
type KeySetter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// SnapshotFunc returns the document to publish.
type SnapshotFunc func() any

// Reporter periodically writes a metrics snapshot to Redis.
type Reporter struct {
	name     string
	client   KeySetter
	snapshot SnapshotFunc
	interval time.Duration
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewReporter creates a reporter publishing under MetricsKeyPrefix+name.
func NewReporter(name string, client KeySetter, snapshot SnapshotFunc, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	return &Reporter{
		name:     name,
		client:   client,
		snapshot: snapshot,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Key returns the Redis key the reporter writes.
func (r *Reporter) Key() string {
	return MetricsKeyPrefix + r.name
}

// Start begins periodic publication until ctx is done or Stop is called.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.Publish(context.Background())
				return
			case <-r.stopCh:
				r.Publish(context.Background())
				return
			case <-ticker.C:
				r.Publish(ctx)
			}
		}
	}()
}

// Stop halts publication after a final write.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Publish writes one snapshot. The key expires after two intervals so a
// dead process stops advertising stale numbers.
func (r *Reporter) Publish(ctx context.Context) error {
	data, err := json.Marshal(r.snapshot())
	if err != nil {
		r.logger.Error("marshal metrics", zap.Error(err))
		return err
	}
	if err := r.client.Set(ctx, r.Key(), data, 2*r.interval).Err(); err != nil {
		r.logger.Warn("write metrics to redis", zap.String("key", r.Key()), zap.Error(err))
		return err
	}
	r.logger.Debug("metrics published", zap.String("key", r.Key()))
	return nil
}
