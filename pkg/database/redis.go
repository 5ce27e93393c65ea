package database

import (
	"context"

	"chat-assistant-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。Redis 只承载缓存与激活会话指针，
// 连接失败不致命，返回错误由调用方降级处理（RDB 置空，缓存穿透）。
func InitRedis(addr, password string, db int) error {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := RDB.Ping(context.Background()).Err(); err != nil {
		RDB = nil
		return err
	}

	log.Info("Redis client connected successfully")
	return nil
}
