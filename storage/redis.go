package storage

import (
	"context"
	"strings"

	"viewing-scheduler-server/config"

	"github.com/go-redis/redis/v8"
	"github.com/kataras/golog"
)

var Redis *redis.Client

// InitializeRedis accepts either a redis:// URL or a bare host:port.
func InitializeRedis(cfg *config.Config) *redis.Client {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "localhost:6379"
		golog.Warn("⚠️  REDIS_URL not set, using localhost:6379 (development mode)")
	}

	options := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			golog.Fatalf("💥 invalid REDIS_URL: %v", err)
		}
		options = parsed
	}

	Redis = redis.NewClient(options)
	if err := Redis.Ping(context.Background()).Err(); err != nil {
		golog.Warnf("⚠️  redis not reachable at %s: %v", options.Addr, err)
	}
	golog.Infof("🔧 Redis initialized with address: %s", options.Addr)
	return Redis
}
