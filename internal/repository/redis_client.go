package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"coronabot-fulfillment/internal/domain"
)

// redisAPI is the subset of redis.Cmdable used by RedisClient.
// *redis.Client satisfies this interface.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// redisContext is the JSON value stored per context key.
type redisContext struct {
	Lifespan   int               `json:"lifespan"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// RedisClient stores conversation contexts as JSON values with an idle expiry.
type RedisClient struct {
	api       redisAPI
	keyPrefix string
}

// NewRedis creates a RedisClient. An empty prefix defaults to "ctx".
func NewRedis(api redisAPI, keyPrefix string) (*RedisClient, error) {
	if api == nil {
		return nil, errors.New("repository: redis api must not be nil")
	}
	keyPrefix = strings.TrimRight(strings.TrimSpace(keyPrefix), ":")
	if keyPrefix == "" {
		keyPrefix = "ctx"
	}
	return &RedisClient{api: api, keyPrefix: keyPrefix}, nil
}

func (c *RedisClient) key(sessionID, name string) string {
	return c.keyPrefix + ":" + sessionID + ":" + name
}

func (c *RedisClient) Read(ctx context.Context, sessionID, name string) (domain.ConversationContext, bool, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(name) == "" {
		return domain.ConversationContext{}, false, errors.New("repository: redis Read: session id and name are required")
	}
	raw, err := c.api.Get(ctx, c.key(sessionID, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConversationContext{}, false, nil
	}
	if err != nil {
		return domain.ConversationContext{}, false, fmt.Errorf("repository: redis Read: %w", err)
	}

	var stored redisContext
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.ConversationContext{}, false, fmt.Errorf("repository: redis Read decode: %w", err)
	}
	if stored.Lifespan <= 0 {
		return domain.ConversationContext{}, false, nil
	}
	if stored.Parameters == nil {
		stored.Parameters = map[string]string{}
	}
	return domain.ConversationContext{
		Name:           name,
		RemainingTurns: stored.Lifespan,
		Parameters:     stored.Parameters,
	}, true, nil
}

func (c *RedisClient) Write(ctx context.Context, sessionID string, cc domain.ConversationContext) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(cc.Name) == "" {
		return errors.New("repository: redis Write: session id and name are required")
	}
	key := c.key(sessionID, cc.Name)

	if cc.RemainingTurns <= 0 {
		if err := c.api.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("repository: redis Write delete: %w", err)
		}
		return nil
	}

	body, err := json.Marshal(redisContext{Lifespan: cc.RemainingTurns, Parameters: cc.Parameters})
	if err != nil {
		return fmt.Errorf("repository: redis Write encode: %w", err)
	}
	if err := c.api.Set(ctx, key, body, ttlDuration).Err(); err != nil {
		return fmt.Errorf("repository: redis Write: %w", err)
	}
	return nil
}
