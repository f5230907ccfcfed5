package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/staffbook/scheduling/pkg/logging"
)

const defaultScheduleTTL = 30 * time.Second

// ScheduleCache keeps recent day-schedule feeds in Redis so rapid view
// navigation does not hammer the authority. The TTL is short: the cache is
// a bandwidth saver, never a second source of truth.
type ScheduleCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewScheduleCache creates a cache. A zero ttl falls back to the default.
func NewScheduleCache(redisClient *redis.Client, ttl time.Duration) *ScheduleCache {
	if ttl <= 0 {
		ttl = defaultScheduleTTL
	}
	return &ScheduleCache{redis: redisClient, ttl: ttl}
}

func (c *ScheduleCache) key(date time.Time) string {
	return fmt.Sprintf("schedule:day:%s", date.Format(dateWireFormat))
}

// Get returns the cached feed for a day, or nil on miss.
func (c *ScheduleCache) Get(ctx context.Context, date time.Time) (*DaySchedule, error) {
	data, err := c.redis.Get(ctx, c.key(date)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("authority: cache get: %w", err)
	}
	var sched DaySchedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("authority: cache unmarshal: %w", err)
	}
	return &sched, nil
}

// Set stores the feed for a day.
func (c *ScheduleCache) Set(ctx context.Context, date time.Time, sched *DaySchedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("authority: cache marshal: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(date), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("authority: cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached feed for a day. Called after any mutation
// that touches the day.
func (c *ScheduleCache) Invalidate(ctx context.Context, date time.Time) error {
	if err := c.redis.Del(ctx, c.key(date)).Err(); err != nil {
		return fmt.Errorf("authority: cache invalidate: %w", err)
	}
	return nil
}

// CachedClient wraps Client with the read-through schedule cache. When the
// cache is nil (Redis disabled) every call passes straight through.
type CachedClient struct {
	*Client
	cache  *ScheduleCache
	logger *logging.Logger
}

// NewCachedClient wraps client. cache may be nil.
func NewCachedClient(client *Client, cache *ScheduleCache, logger *logging.Logger) *CachedClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedClient{Client: client, cache: cache, logger: logger}
}

// DaySchedule reads through the cache. Cache failures are logged and
// degrade to a direct fetch; they never fail the read themselves.
func (c *CachedClient) DaySchedule(ctx context.Context, date time.Time) (*DaySchedule, error) {
	if c.cache == nil {
		return c.Client.DaySchedule(ctx, date)
	}

	if cached, err := c.cache.Get(ctx, date); err != nil {
		c.logger.Warn("schedule cache read failed", "error", err)
	} else if cached != nil {
		return cached, nil
	}

	sched, err := c.Client.DaySchedule(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, date, sched); err != nil {
		c.logger.Warn("schedule cache write failed", "error", err)
	}
	return sched, nil
}

// InvalidateDay drops the cached feed for a day. The mutation coordinator
// calls this after any write that touched the day, so the next reload sees
// authority state instead of a stale cache entry.
func (c *CachedClient) InvalidateDay(ctx context.Context, date time.Time) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, date); err != nil {
		c.logger.Warn("schedule cache invalidate failed", "error", err)
	}
}
