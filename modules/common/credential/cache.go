package credential

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"imagen-relay-server/modules/common/metrics"
)

const keyPrefix = "imagen-relay:token:"

// CacheRecorder - 캐시 hit/miss 기록
type CacheRecorder interface {
	RecordTokenCache(result string)
}

type cachedToken struct {
	Value  string    `json:"value"`
	Expiry time.Time `json:"expiry"`
}

// CachedProvider keeps one token per scope in Redis until skew before its
// expiry. Redis failures fall through to the wrapped provider.
type CachedProvider struct {
	next     Provider
	rdb      *redis.Client
	key      string
	skew     time.Duration
	logger   *zap.Logger
	recorder CacheRecorder
	now      func() time.Time
}

func NewCachedProvider(next Provider, rdb *redis.Client, scope string, skew time.Duration, logger *zap.Logger, recorder CacheRecorder) *CachedProvider {
	return &CachedProvider{
		next:     next,
		rdb:      rdb,
		key:      keyPrefix + scope,
		skew:     skew,
		logger:   logger.With(zap.String("component", "token-cache")),
		recorder: recorder,
		now:      time.Now,
	}
}

func (c *CachedProvider) FetchAccessToken(ctx context.Context) (AccessToken, error) {
	if tok, ok := c.lookup(ctx); ok {
		return tok, nil
	}

	tok, err := c.next.FetchAccessToken(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	c.store(ctx, tok)
	return tok, nil
}

func (c *CachedProvider) lookup(ctx context.Context) (AccessToken, bool) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.record(metrics.CacheMiss)
		} else {
			c.logger.Warn("⚠️  Token cache read failed", zap.Error(err))
			c.record(metrics.CacheError)
		}
		return AccessToken{}, false
	}

	var cached cachedToken
	if err := json.Unmarshal(raw, &cached); err != nil || cached.Value == "" {
		c.logger.Warn("⚠️  Discarding malformed cached token", zap.Error(err))
		c.record(metrics.CacheError)
		return AccessToken{}, false
	}
	if !c.now().Add(c.skew).Before(cached.Expiry) {
		c.record(metrics.CacheMiss)
		return AccessToken{}, false
	}

	c.record(metrics.CacheHit)
	return AccessToken{Value: cached.Value, Expiry: cached.Expiry}, true
}

func (c *CachedProvider) store(ctx context.Context, tok AccessToken) {
	if tok.Expiry.IsZero() {
		return
	}
	ttl := tok.Expiry.Sub(c.now()) - c.skew
	if ttl <= 0 {
		return
	}

	payload, err := json.Marshal(cachedToken{Value: tok.Value, Expiry: tok.Expiry})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key, payload, ttl).Err(); err != nil {
		c.logger.Warn("⚠️  Token cache write failed", zap.Error(err))
		return
	}
	c.logger.Debug("💾 Access token cached", zap.Duration("ttl", ttl))
}

func (c *CachedProvider) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordTokenCache(result)
	}
}
