package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"pdfchat/internal/logger"
	"pdfchat/internal/models"
	"pdfchat/internal/redis"
)

const (
	artifactKeyPrefix = "pdfchat:artifact:"
	// remote files are deleted after 48h; stop handing them out a bit earlier
	DefaultArtifactTTL = 46 * time.Hour
	expiryMargin       = time.Hour
)

// ArtifactCache remembers uploads by local file fingerprint so an unchanged
// file is not sent twice. Lookups never fail; a broken backend is a miss.
type ArtifactCache interface {
	Get(ctx context.Context, fingerprint string) (*models.Artifact, bool)
	Put(ctx context.Context, fingerprint string, artifact *models.Artifact)
	Forget(ctx context.Context, fingerprint string)
}

func artifactTTL(artifact *models.Artifact, max time.Duration, now time.Time) time.Duration {
	if max <= 0 {
		max = DefaultArtifactTTL
	}
	if artifact.ExpiresAt.IsZero() {
		return max
	}
	left := artifact.ExpiresAt.Sub(now) - expiryMargin
	if left < max {
		return left
	}
	return max
}

type memoryArtifacts struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewMemoryArtifactCache keeps artifacts in process memory.
func NewMemoryArtifactCache(ttl time.Duration) ArtifactCache {
	return &memoryArtifacts{items: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

func (m *memoryArtifacts) Get(_ context.Context, fingerprint string) (*models.Artifact, bool) {
	v, ok := m.items.Get(fingerprint)
	if !ok {
		return nil, false
	}
	artifact := *v.(*models.Artifact)
	return &artifact, true
}

func (m *memoryArtifacts) Put(_ context.Context, fingerprint string, artifact *models.Artifact) {
	ttl := artifactTTL(artifact, m.ttl, time.Now())
	if ttl <= 0 {
		return
	}
	stored := *artifact
	m.items.Set(fingerprint, &stored, ttl)
}

func (m *memoryArtifacts) Forget(_ context.Context, fingerprint string) {
	m.items.Delete(fingerprint)
}

type redisArtifacts struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisArtifactCache shares artifacts across restarts through redis.
func NewRedisArtifactCache(client *redis.Client, ttl time.Duration) ArtifactCache {
	return &redisArtifacts{client: client, ttl: ttl}
}

func (r *redisArtifacts) Get(ctx context.Context, fingerprint string) (*models.Artifact, bool) {
	raw, err := r.client.Get(ctx, artifactKeyPrefix+fingerprint)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Warnf("artifact cache get %s: %v", fingerprint, err)
		}
		return nil, false
	}
	var artifact models.Artifact
	if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
		logger.Warnf("artifact cache decode %s: %v", fingerprint, err)
		return nil, false
	}
	return &artifact, true
}

func (r *redisArtifacts) Put(ctx context.Context, fingerprint string, artifact *models.Artifact) {
	ttl := artifactTTL(artifact, r.ttl, time.Now())
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		logger.Warnf("artifact cache encode %s: %v", fingerprint, err)
		return
	}
	if err := r.client.Set(ctx, artifactKeyPrefix+fingerprint, data, ttl); err != nil {
		logger.Warnf("artifact cache set %s: %v", fingerprint, err)
	}
}

func (r *redisArtifacts) Forget(ctx context.Context, fingerprint string) {
	if err := r.client.Del(ctx, artifactKeyPrefix+fingerprint); err != nil {
		logger.Warnf("artifact cache delete %s: %v", fingerprint, err)
	}
}
