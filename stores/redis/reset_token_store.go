// Package redis keeps password reset tokens in Redis, where key expiry
// reclaims stale tokens without a sweeper.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	ac "github.com/panyam/authcore"
)

const defaultPrefix = "authcore:reset:"

var _ ac.ResetTokenStore = (*ResetTokenStore)(nil)

// ResetTokenStore implements ac.ResetTokenStore on Redis.
//
//	{prefix}token:{value}      JSON token, expires with the token
//	{prefix}identity:{id}      set of token values of one identity
type ResetTokenStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewResetTokenStore wraps an existing client. An empty prefix selects the default.
func NewResetTokenStore(client *redis.Client, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ResetTokenStore{client: client, prefix: prefix, now: time.Now}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *ResetTokenStore) tokenKey(token string) string {
	return s.prefix + "token:" + token
}

func (s *ResetTokenStore) identityKey(identityID string) string {
	return s.prefix + "identity:" + identityID
}

func (s *ResetTokenStore) CreateResetToken(ctx context.Context, token *ac.ResetToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return ac.Wrap(ac.KindInternal, "failed to marshal reset token", err)
	}
	ttl := token.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		// already expired tokens are kept briefly; lookups reject them anyway
		ttl = time.Second
	}

	idKey := s.identityKey(token.IdentityID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.tokenKey(token.Token), data, ttl)
		p.SAdd(ctx, idKey, token.Token)
		p.Expire(ctx, idKey, ttl)
		return nil
	})
	if err != nil {
		return ac.Wrap(ac.KindInternal, "failed to store reset token", err)
	}
	return nil
}

func (s *ResetTokenStore) FindResetToken(ctx context.Context, token string) (*ac.ResetToken, error) {
	data, err := s.client.Get(ctx, s.tokenKey(token)).Bytes()
	if err == redis.Nil {
		return nil, ac.ErrNotFound
	} else if err != nil {
		return nil, ac.Wrap(ac.KindInternal, "redis get failed", err)
	}

	var rt ac.ResetToken
	if err := json.Unmarshal(data, &rt); err != nil {
		s.client.Del(ctx, s.tokenKey(token))
		return nil, ac.Wrap(ac.KindInternal, "failed to unmarshal reset token", err)
	}
	return &rt, nil
}

func (s *ResetTokenStore) DeleteResetTokensForIdentity(ctx context.Context, identityID string) error {
	idKey := s.identityKey(identityID)
	tokens, err := s.client.SMembers(ctx, idKey).Result()
	if err != nil && err != redis.Nil {
		return ac.Wrap(ac.KindInternal, "redis smembers failed", err)
	}

	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, s.tokenKey(t))
	}
	keys = append(keys, idKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return ac.Wrap(ac.KindInternal, "redis del failed", err)
	}
	return nil
}
