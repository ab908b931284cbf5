package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/claude/njktraining/internal/models"
	"github.com/coocood/freecache"
)

// Validator resolves a bearer token to a user.
type Validator interface {
	Validate(ctx context.Context, token string) (*models.AuthUser, error)
}

// CachedValidator remembers successful validations for a short TTL so each
// API request does not cost a round trip to the proxy. Failures are not cached.
type CachedValidator struct {
	next  Validator
	cache *freecache.Cache
	ttl   int
	log   *slog.Logger
}

// NewCachedValidator wraps next with a cache of sizeBytes.
func NewCachedValidator(next Validator, sizeBytes int, ttl time.Duration, log *slog.Logger) *CachedValidator {
	return &CachedValidator{
		next:  next,
		cache: freecache.NewCache(sizeBytes),
		ttl:   int(ttl.Seconds()),
		log:   log,
	}
}

func cacheKey(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

// Validate returns a cached user or asks the wrapped validator.
func (v *CachedValidator) Validate(ctx context.Context, token string) (*models.AuthUser, error) {
	key := cacheKey(token)
	if data, err := v.cache.Get(key); err == nil {
		var u models.AuthUser
		if err := json.Unmarshal(data, &u); err == nil {
			return &u, nil
		}
		v.cache.Del(key)
	}

	u, err := v.next.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if v.ttl > 0 {
		data, err := json.Marshal(u)
		if err == nil {
			err = v.cache.Set(key, data, v.ttl)
		}
		if err != nil {
			v.log.Warn("token cache set failed", "error", err)
		}
	}
	return u, nil
}

// Forget drops a token from the cache.
func (v *CachedValidator) Forget(token string) {
	v.cache.Del(cacheKey(token))
}
