package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/punchclock/engine/internal/signer"
	"github.com/punchclock/engine/pkg/circuit"
)

// SessionSummary is the cached, presentation-ready view of one employee's
// session state.
type SessionSummary struct {
	Identity     string    `json:"identity"`
	PunchedIn    bool      `json:"punched_in"`
	ChannelID    string    `json:"channel_id,omitempty"`
	PunchInAt    time.Time `json:"punch_in_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Reserve      string    `json:"reserve,omitempty"`
	MaxClaimable string    `json:"max_claimable,omitempty"`
}

// SessionCache keeps session summaries in Redis behind a circuit breaker,
// so a cache outage degrades to direct engine reads instead of stalling
// every status request.
type SessionCache struct {
	rdb     *redis.Client
	breaker *circuit.Breaker
	ttl     time.Duration
}

func NewSessionCache(redisURL string, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &SessionCache{
		rdb:     redis.NewClient(&redis.Options{Addr: redisURL}),
		breaker: circuit.NewBreaker(circuit.Config{MaxFailures: 3, Cooldown: 10 * time.Second}),
		ttl:     ttl,
	}
}

func cacheKey(identity signer.Identity) string {
	return "session:" + identity.String()
}

func (sc *SessionCache) Get(ctx context.Context, identity signer.Identity) (SessionSummary, bool) {
	var summary SessionSummary
	hit := false

	_ = sc.breaker.Execute(func() error {
		raw, err := sc.rdb.Get(ctx, cacheKey(identity)).Result()
		if err != nil {
			if err == redis.Nil {
				return nil
			}
			return err
		}
		if json.Unmarshal([]byte(raw), &summary) == nil {
			hit = true
		}
		return nil
	})

	return summary, hit
}

func (sc *SessionCache) Put(ctx context.Context, identity signer.Identity, summary SessionSummary) {
	_ = sc.breaker.Execute(func() error {
		raw, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		return sc.rdb.Set(ctx, cacheKey(identity), raw, sc.ttl).Err()
	})
}

func (sc *SessionCache) Invalidate(ctx context.Context, identity signer.Identity) {
	_ = sc.breaker.Execute(func() error {
		return sc.rdb.Del(ctx, cacheKey(identity)).Err()
	})
}

// The MaxClaimable field grows every second, so cached summaries carry a
// short TTL and any session mutation invalidates eagerly.

func (g *Gateway) cachedSession(c *gin.Context, identity signer.Identity) (SessionSummary, bool) {
	if g.cache == nil {
		return SessionSummary{}, false
	}
	return g.cache.Get(c.Request.Context(), identity)
}

func (g *Gateway) storeSession(c *gin.Context, identity signer.Identity, summary SessionSummary) {
	if g.cache == nil {
		return
	}
	g.cache.Put(c.Request.Context(), identity, summary)
}

func (g *Gateway) invalidateSession(c *gin.Context, identity signer.Identity) {
	if g.cache == nil {
		return
	}
	g.cache.Invalidate(c.Request.Context(), identity)
}
