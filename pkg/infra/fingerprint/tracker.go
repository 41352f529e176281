package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/utils"
	"github.com/go-redis/redis/v8"
)

const (
	similarDistance = 2
	similarMatches  = 2

	sightingKey      = "fp:%s"
	seenKey          = "fp:%s:seen"
	quarantinedKey   = "fp:%s:quarantined"
	maliciousKey     = "fp:%s:malicious"
	byIPKey          = "fp_by_ip:%s"
	byUserKey        = "fp_by_user:%s"
	byUserAgentKey   = "fp_by_ua:%s"
	quarantinedValue = "1"
)

// Sighting is what the tracker remembers about a fingerprint seen in a detection.
type Sighting struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserID    string `json:"user_id,omitempty"`
	UserAgent string `json:"user_agent"`
}

//go:generate mockery --name=Tracker --dir=. --output=../../../mocks --filename=fingerprint_tracker_mock.go --case=underscore --with-expecter
type Tracker interface {
	Store(ctx context.Context, s Sighting, ttl time.Duration) error
	FindSimilar(ctx context.Context, s Sighting) ([]Sighting, error)
	Quarantine(ctx context.Context, id string, duration time.Duration) error
	Release(ctx context.Context, id string) error
	IsQuarantined(ctx context.Context, id string) (bool, error)
	IncrementMaliciousCount(ctx context.Context, id string, ttl time.Duration) (int64, error)
}

type tracker struct {
	redis cache.Client
}

// NewTracker keeps sightings and quarantines in redis so every instance sees them.
func NewTracker(redis cache.Client) Tracker {
	return &tracker{redis: redis}
}

func normalizeUA(ua string) string {
	return strings.ToLower(strings.TrimSpace(ua))
}

func (t *tracker) indexKeys(s Sighting) []string {
	var keys []string
	if s.IP != "" {
		keys = append(keys, fmt.Sprintf(byIPKey, s.IP))
	}
	if s.UserID != "" {
		keys = append(keys, fmt.Sprintf(byUserKey, s.UserID))
	}
	if ua := normalizeUA(s.UserAgent); ua != "" {
		keys = append(keys, fmt.Sprintf(byUserAgentKey, ua))
	}
	return keys
}

func (t *tracker) Store(ctx context.Context, s Sighting, ttl time.Duration) error {
	if s.ID == "" {
		return errors.New("sighting has no fingerprint")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := t.redis.RedisClient().Pipeline()
	pipe.Set(ctx, fmt.Sprintf(sightingKey, s.ID), data, ttl)
	pipe.Incr(ctx, fmt.Sprintf(seenKey, s.ID))
	pipe.Expire(ctx, fmt.Sprintf(seenKey, s.ID), ttl)
	for _, key := range t.indexKeys(s) {
		pipe.SAdd(ctx, key, s.ID)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store fingerprint sighting: %w", err)
	}
	return nil
}

// FindSimilar returns the other fingerprints sharing an ip, user or user agent with s that
// match it on at least two of those attributes.
func (t *tracker) FindSimilar(ctx context.Context, s Sighting) ([]Sighting, error) {
	keys := t.indexKeys(s)
	if len(keys) < similarMatches {
		return nil, nil
	}
	ids, err := t.redis.RedisClient().SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("find similar fingerprints: %w", err)
	}

	var out []Sighting
	for _, id := range ids {
		if id == s.ID {
			continue
		}
		data, err := t.redis.RedisClient().Get(ctx, fmt.Sprintf(sightingKey, id)).Bytes()
		if err != nil {
			continue
		}
		var other Sighting
		if err := json.Unmarshal(data, &other); err != nil {
			continue
		}
		if matches(s, other) >= similarMatches {
			out = append(out, other)
		}
	}
	return out, nil
}

func matches(a, b Sighting) int {
	n := 0
	if utils.Similar(a.IP, b.IP, similarDistance) {
		n++
	}
	if utils.Similar(a.UserID, b.UserID, similarDistance) {
		n++
	}
	if utils.Similar(normalizeUA(a.UserAgent), normalizeUA(b.UserAgent), similarDistance) {
		n++
	}
	return n
}

func (t *tracker) Quarantine(ctx context.Context, id string, duration time.Duration) error {
	if duration <= 0 {
		return t.Release(ctx, id)
	}
	return t.redis.RedisClient().Set(ctx, fmt.Sprintf(quarantinedKey, id), quarantinedValue, duration).Err()
}

func (t *tracker) Release(ctx context.Context, id string) error {
	return t.redis.RedisClient().Del(ctx, fmt.Sprintf(quarantinedKey, id)).Err()
}

func (t *tracker) IsQuarantined(ctx context.Context, id string) (bool, error) {
	exists, err := t.redis.RedisClient().Exists(ctx, fmt.Sprintf(quarantinedKey, id)).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// IncrementMaliciousCount bumps the detection counter of the fingerprint and returns the new
// value.
func (t *tracker) IncrementMaliciousCount(ctx context.Context, id string, ttl time.Duration) (int64, error) {
	key := fmt.Sprintf(maliciousKey, id)
	count, err := t.redis.RedisClient().Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if err := t.redis.RedisClient().Expire(ctx, key, ttl).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return count, err
	}
	return count, nil
}
