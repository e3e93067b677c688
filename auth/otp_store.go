package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// OTPEntry is the cached state of one pending one-time code.
type OTPEntry struct {
	Hash     string `json:"hash"`
	Attempts int    `json:"attempts"`
}

// OTPStore keeps pending codes with a TTL. Get returns nil when the code is
// missing or expired.
type OTPStore interface {
	Put(ctx context.Context, mobile string, entry OTPEntry, ttl time.Duration) error
	Get(ctx context.Context, mobile string) (*OTPEntry, error)
	// Touch rewrites entry and keeps the remaining TTL.
	Touch(ctx context.Context, mobile string, entry OTPEntry) error
	Delete(ctx context.Context, mobile string) error
}

// ConnectRedis accepts either a redis:// URL or host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("auth: parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("auth: ping redis: %w", err)
	}
	return client, nil
}

type RedisOTPStore struct {
	client *redis.Client
}

func NewRedisOTPStore(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func otpKey(mobile string) string {
	return "otp:" + mobile
}

func (s *RedisOTPStore) Put(ctx context.Context, mobile string, entry OTPEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, otpKey(mobile), raw, ttl).Err()
}

func (s *RedisOTPStore) Get(ctx context.Context, mobile string) (*OTPEntry, error) {
	raw, err := s.client.Get(ctx, otpKey(mobile)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out OTPEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisOTPStore) Touch(ctx context.Context, mobile string, entry OTPEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, otpKey(mobile), raw, redis.KeepTTL).Err()
}

func (s *RedisOTPStore) Delete(ctx context.Context, mobile string) error {
	return s.client.Del(ctx, otpKey(mobile)).Err()
}
