package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for widget identity hashes.
const KeyPrefix = "widget:session:"

// RedisStore persists the session as a Redis hash with one field per
// attribute. It serves headless deployments (kiosks, in-store terminals)
// where several widget hosts share one state backend. Partial hashes read the
// same way partial file records do.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore for the given widget identity key
// (typically a stable per-device ID). The connection is verified before the
// store is returned.
func NewRedisStore(addr, widgetKey string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &RedisStore{client: client, key: KeyPrefix + widgetKey}, nil
}

// Load implements Store.
func (rs *RedisStore) Load(ctx context.Context) (Session, bool, error) {
	vals, err := rs.client.HGetAll(ctx, rs.key).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("session: redis load failed: %w", err)
	}
	s := Session{
		CustomerID:    vals[FieldCustomerID],
		CustomerName:  vals[FieldCustomerName],
		CustomerPhone: vals[FieldCustomerPhone],
		CustomerEmail: vals[FieldCustomerEmail],
		TicketID:      vals[FieldTicketID],
	}
	return s, s.Valid(), nil
}

// Save implements Store. Only the provided fields are touched; empty values
// delete their field so that Load cannot tell them apart from absent ones.
func (rs *RedisStore) Save(ctx context.Context, u Update) error {
	set := map[string]interface{}{}
	var del []string

	fields := map[string]*string{
		FieldCustomerID:    u.CustomerID,
		FieldCustomerName:  u.CustomerName,
		FieldCustomerPhone: u.CustomerPhone,
		FieldCustomerEmail: u.CustomerEmail,
		FieldTicketID:      u.TicketID,
	}
	for name, v := range fields {
		if v == nil {
			continue
		}
		if *v == "" {
			del = append(del, name)
		} else {
			set[name] = *v
		}
	}

	pipe := rs.client.Pipeline()
	if len(set) > 0 {
		pipe.HSet(ctx, rs.key, set)
	}
	if len(del) > 0 {
		pipe.HDel(ctx, rs.key, del...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis save failed: %w", err)
	}
	return nil
}

// Clear implements Store.
func (rs *RedisStore) Clear(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key).Err(); err != nil {
		return fmt.Errorf("session: redis clear failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
