package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(address string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: address})
	store := &RedisStore{client: client}
	// test the connection
	if err := store.Ping(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return store, nil
}

func (store *RedisStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.client.Ping(ctx).Err()
}

func (store *RedisStore) Set(key string, value string) error {
	return store.client.Set(context.Background(), key, value, 0).Err()
}

func (store *RedisStore) SetWithTTL(key string, value string, ttl uint64) error {
	expiry := time.Duration(ttl) * time.Second
	return store.client.Set(context.Background(), key, value, expiry).Err()
}

func (store *RedisStore) Get(key string) (string, error) {
	value, err := store.client.Get(context.Background(), key).Result()
	if err == redis.Nil {
		return "", errors.Errorf("key missing: %s", key)
	}
	return value, err
}

func (store *RedisStore) Delete(key string) error {
	return store.client.Del(context.Background(), key).Err()
}

func (store *RedisStore) GetRecursive(prefix string) ([]Node, error) {
	ctx := context.Background()
	iter := store.client.Scan(ctx, 0, prefix+"/*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(keys))
	for i, key := range keys {
		if value, ok := values[i].(string); ok {
			nodes = append(nodes, Node{Key: key, Value: value})
		}
	}
	return nodes, nil
}
