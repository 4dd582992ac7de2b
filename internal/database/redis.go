package database

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// OpenRedis connects to the shared lease/dedup store. Unlike a pure
// cache, this store backs the seat-lock mutual exclusion and webhook
// idempotency markers, so a failed connection is fatal rather than
// something to limp along without.
func OpenRedis() (*redis.Client, error) {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("error connecting to redis at %s: %w", addr, err)
	}

	log.Println("Redis connection established")
	return rdb, nil
}

// MustOpenRedis connects to the lease store or exits.
func MustOpenRedis() *redis.Client {
	rdb, err := OpenRedis()
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	return rdb
}
