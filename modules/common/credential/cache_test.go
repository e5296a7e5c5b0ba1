package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"imagen-relay-server/modules/common/config"
)

type countingProvider struct {
	calls int
	token AccessToken
	err   error
}

func (p *countingProvider) FetchAccessToken(ctx context.Context) (AccessToken, error) {
	p.calls++
	return p.token, p.err
}

type recorder struct {
	results []string
}

func (r *recorder) RecordTokenCache(result string) {
	r.results = append(r.results, result)
}

func setupCache(t *testing.T, next Provider) (*miniredis.Miniredis, *CachedProvider, *recorder) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rec := &recorder{}
	return mr, NewCachedProvider(next, rdb, config.CloudPlatformScope, time.Minute, zap.NewNop(), rec), rec
}

func TestCachedProvider_MissThenHit(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok-1", Expiry: time.Now().Add(time.Hour)}}
	mr, cache, rec := setupCache(t, next)
	ctx := context.Background()

	tok, err := cache.FetchAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.True(t, mr.Exists(keyPrefix+config.CloudPlatformScope))

	tok, err = cache.FetchAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, []string{"miss", "hit"}, rec.results)
}

func TestCachedProvider_TTLHonorsSkew(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok", Expiry: time.Now().Add(10 * time.Minute)}}
	mr, cache, _ := setupCache(t, next)

	_, err := cache.FetchAccessToken(context.Background())
	require.NoError(t, err)

	ttl := mr.TTL(keyPrefix + config.CloudPlatformScope)
	assert.LessOrEqual(t, ttl, 9*time.Minute)
	assert.Greater(t, ttl, 8*time.Minute)
}

func TestCachedProvider_ExpiredEntryRefetches(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	mr, cache, _ := setupCache(t, next)
	ctx := context.Background()

	_, err := cache.FetchAccessToken(ctx)
	require.NoError(t, err)

	mr.FastForward(time.Hour)

	_, err = cache.FetchAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedProvider_StaleExpiryInsideSkew(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "fresh", Expiry: time.Now().Add(time.Hour)}}
	mr, cache, rec := setupCache(t, next)

	stale := `{"value":"stale","expiry":"` + time.Now().Add(30*time.Second).Format(time.RFC3339Nano) + `"}`
	require.NoError(t, mr.Set(keyPrefix+config.CloudPlatformScope, stale))

	tok, err := cache.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.Value)
	assert.Equal(t, []string{"miss"}, rec.results)
}

func TestCachedProvider_TokenWithoutExpiryNotCached(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok"}}
	mr, cache, _ := setupCache(t, next)

	_, err := cache.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.False(t, mr.Exists(keyPrefix+config.CloudPlatformScope))
}

func TestCachedProvider_RedisDownFallsThrough(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	mr, cache, rec := setupCache(t, next)
	mr.Close()

	tok, err := cache.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)
	assert.Equal(t, []string{"error"}, rec.results)
}

func TestCachedProvider_MalformedEntry(t *testing.T) {
	next := &countingProvider{token: AccessToken{Value: "tok", Expiry: time.Now().Add(time.Hour)}}
	mr, cache, _ := setupCache(t, next)
	require.NoError(t, mr.Set(keyPrefix+config.CloudPlatformScope, "{broken"))

	tok, err := cache.FetchAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Value)
	assert.Equal(t, 1, next.calls)
}

func TestCachedProvider_PropagatesError(t *testing.T) {
	next := &countingProvider{err: &CredentialError{Err: errors.New("boom")}}
	mr, cache, _ := setupCache(t, next)

	_, err := cache.FetchAccessToken(context.Background())
	var credErr *CredentialError
	assert.ErrorAs(t, err, &credErr)
	assert.False(t, mr.Exists(keyPrefix+config.CloudPlatformScope))
}
