// Package redis provides a Redis implementation for memory storage.
//
// Each agent owns three keys: a hash of id -> JSON record, a hash of
// description -> id used for exact lookups, and a plain status string.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// Client implements MemoryStore on top of Redis.
type Client struct {
	rdb       *redis.Client
	keyPrefix string
}

// Config contains Redis configuration.
type Config struct {
	// URL is a redis:// connection string.
	URL string

	// KeyPrefix defaults to "agentmem".
	KeyPrefix string

	// AgentName scopes all keys.
	AgentName string
}

// NewClient connects to Redis and verifies the connection.
//
// Parameters:
//   - ctx: Context used for the initial PING
//   - cfg: Redis configuration (Addr, Password, DB, KeyPrefix, AgentName)
//
// Returns:
//   - *Client: Connected client scoped to cfg.AgentName
//   - error: storage.ErrPersistence if the server cannot be reached
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, storage.Wrap("NewRedisClient", fmt.Errorf("parse redis url: %w", err))
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, storage.Wrap("NewRedisClient", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "agentmem"
	}

	return &Client{
		rdb:       rdb,
		keyPrefix: fmt.Sprintf("%s:%s", prefix, cfg.AgentName),
	}, nil
}

func (c *Client) memoriesKey() string { return c.keyPrefix + ":memories" }
func (c *Client) descKey() string     { return c.keyPrefix + ":desc" }
func (c *Client) statusKey() string   { return c.keyPrefix + ":status" }

// Store writes the record and, if the description is new, its lookup entry.
func (c *Client) Store(ctx context.Context, record *storage.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return storage.Wrap("Store", err)
	}

	id := strconv.FormatInt(record.ID, 10)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.memoriesKey(), id, data)
		// the first record with a description keeps the lookup slot
		pipe.HSetNX(ctx, c.descKey(), record.Description, id)
		return nil
	})
	return storage.Wrap("Store", err)
}

// FindByDescription resolves the description index, then loads the record.
//
// Returns storage.ErrNotFound if no record for this agent has the exact description.
func (c *Client) FindByDescription(ctx context.Context, description string) (*storage.Record, error) {
	id, err := c.rdb.HGet(ctx, c.descKey(), description).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap("FindByDescription", err)
	}

	data, err := c.rdb.HGet(ctx, c.memoriesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Wrap("FindByDescription", err)
	}

	var record storage.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, storage.Wrap("FindByDescription", err)
	}
	return &record, nil
}

// ListAll returns every record stored for the agent.
func (c *Client) ListAll(ctx context.Context) ([]*storage.Record, error) {
	values, err := c.rdb.HVals(ctx, c.memoriesKey()).Result()
	if err != nil {
		return nil, storage.Wrap("ListAll", err)
	}

	records := make([]*storage.Record, 0, len(values))
	for _, v := range values {
		var record storage.Record
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, storage.Wrap("ListAll", err)
		}
		records = append(records, &record)
	}
	return records, nil
}

// GetStatus returns the agent status.
func (c *Client) GetStatus(ctx context.Context) (string, error) {
	status, err := c.rdb.Get(ctx, c.statusKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", storage.Wrap("GetStatus", err)
	}
	return status, nil
}

// SetStatus overwrites the agent status.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	return storage.Wrap("SetStatus", c.rdb.Set(ctx, c.statusKey(), status, 0).Err())
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
