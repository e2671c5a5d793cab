package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultPrefix names the hash tag when RedisConfig.Prefix is empty.
const defaultPrefix = "tp"

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUserInfo     = "user_info"
)

// RedisConfig controls key naming and lifetime for [RedisStore].
type RedisConfig struct {
	// Prefix namespaces the keys as a hash tag, e.g. "tp" gives {tp}:access_token, so all
	// keys of one store hash to the same cluster slot. Empty means "tp".
	Prefix string
	// TTL is applied to every key on write. Zero keeps keys until Clear.
	TTL time.Duration
}

// RedisStore persists credentials in Redis so several processes can share one session.
type RedisStore struct {
	redis  redis.UniversalClient
	config RedisConfig
}

// NewRedisStore creates a [RedisStore] backed by the given client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *RedisStore {
	return &RedisStore{
		redis:  client,
		config: cfg,
	}
}

func (s *RedisStore) Get(ctx context.Context) (Credentials, error) {
	values, err := s.redis.MGet(ctx, s.key(keyAccessToken), s.key(keyRefreshToken)).Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var creds Credentials
	if len(values) == 2 {
		creds.AccessToken, _ = values[0].(string)
		creds.RefreshToken, _ = values[1].(string)
	}
	return creds, nil
}

// Set writes both tokens in one MULTI/EXEC. An empty refresh token removes the stored one.
func (s *RedisStore) Set(ctx context.Context, creds Credentials) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if creds.AccessToken == "" {
			pipe.Del(ctx, s.key(keyAccessToken))
		} else {
			pipe.Set(ctx, s.key(keyAccessToken), creds.AccessToken, s.config.TTL)
		}
		if creds.RefreshToken == "" {
			pipe.Del(ctx, s.key(keyRefreshToken))
		} else {
			pipe.Set(ctx, s.key(keyRefreshToken), creds.RefreshToken, s.config.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Clear deletes the tokens and the cached identity in a single DEL.
func (s *RedisStore) Clear(ctx context.Context) error {
	err := s.redis.Del(ctx,
		s.key(keyAccessToken),
		s.key(keyRefreshToken),
		s.key(keyUserInfo),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Identity(ctx context.Context) (Identity, error) {
	raw, err := s.redis.Get(ctx, s.key(keyUserInfo)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Identity(raw), nil
}

func (s *RedisStore) SetIdentity(ctx context.Context, id Identity) error {
	var err error
	if id.Empty() {
		err = s.redis.Del(ctx, s.key(keyUserInfo)).Err()
	} else {
		err = s.redis.Set(ctx, s.key(keyUserInfo), []byte(id), s.config.TTL).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) key(name string) string {
	prefix := s.config.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return "{" + prefix + "}:" + name
}
