package latest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"civicwatch/internal/integrity/models"
	id "civicwatch/pkg/domain"
)

const (
	// Redis key prefix for latest audit records
	latestKeyPrefix = "civicwatch:audit:latest:"
	platformKey     = "platform"

	maxPutRetries = 3
)

// RedisStore keeps latest audit records as JSON strings. Put uses an
// optimistic WATCH transaction so a slow run cannot overwrite a newer record.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL expires records after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = d
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func key(tenant id.TenantID) string {
	if tenant.IsNil() {
		return latestKeyPrefix + platformKey
	}
	return latestKeyPrefix + tenant.String()
}

func (s *RedisStore) Get(ctx context.Context, tenant id.TenantID) (models.LatestAudit, bool, error) {
	raw, err := s.client.Get(ctx, key(tenant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.LatestAudit{}, false, nil
	}
	if err != nil {
		return models.LatestAudit{}, false, fmt.Errorf("get latest audit: %w", err)
	}
	var rec models.LatestAudit
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.LatestAudit{}, false, fmt.Errorf("decode latest audit: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, tenant id.TenantID, rec models.LatestAudit) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode latest audit: %w", err)
	}
	k := key(tenant)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing models.LatestAudit
			if json.Unmarshal(cur, &existing) == nil && existing.ComputedAt.After(rec.ComputedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxPutRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("put latest audit: %w", err)
		}
		return nil
	}
	return fmt.Errorf("put latest audit: %w", redis.TxFailedErr)
}

func (s *RedisStore) Invalidate(ctx context.Context, tenant id.TenantID) error {
	if err := s.client.Del(ctx, key(tenant)).Err(); err != nil {
		return fmt.Errorf("invalidate latest audit: %w", err)
	}
	return nil
}
