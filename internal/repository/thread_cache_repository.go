package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-assistant-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ThreadCacheRepository 在 Redis 中缓存渲染后的消息线程，并持久化
// 当前激活会话的指针（服务重启后恢复选中状态）。
type ThreadCacheRepository interface {
	GetThread(ctx context.Context, conversationID string) ([]model.RenderedMessage, bool, error)
	SetThread(ctx context.Context, conversationID string, thread []model.RenderedMessage) error
	InvalidateThread(ctx context.Context, conversationID string) error
	ActiveConversation(ctx context.Context) (string, error)
	SetActiveConversation(ctx context.Context, conversationID string) error
}

// redisThreadCacheRepository 是 ThreadCacheRepository 的 Redis 实现。
// redisClient 为 nil 时（未配置 Redis）全部操作直接穿透。
type redisThreadCacheRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewThreadCacheRepository 创建一个新的 ThreadCacheRepository 实例。
func NewThreadCacheRepository(redisClient *redis.Client, ttl time.Duration) ThreadCacheRepository {
	return &redisThreadCacheRepository{redisClient: redisClient, ttl: ttl}
}

const activeConversationKey = "ui:active_conversation"

func threadKey(conversationID string) string {
	return fmt.Sprintf("thread:%s", conversationID)
}

func (r *redisThreadCacheRepository) GetThread(ctx context.Context, conversationID string) ([]model.RenderedMessage, bool, error) {
	if r.redisClient == nil {
		return nil, false, nil
	}
	jsonData, err := r.redisClient.Get(ctx, threadKey(conversationID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("getThreadCache", err)
	}
	var thread []model.RenderedMessage
	if err := json.Unmarshal([]byte(jsonData), &thread); err != nil {
		// 缓存内容损坏：当作未命中，由调用方重建
		return nil, false, nil
	}
	return thread, true, nil
}

func (r *redisThreadCacheRepository) SetThread(ctx context.Context, conversationID string, thread []model.RenderedMessage) error {
	if r.redisClient == nil {
		return nil
	}
	jsonData, err := json.Marshal(thread)
	if err != nil {
		return storeErr("setThreadCache", err)
	}
	return storeErr("setThreadCache", r.redisClient.Set(ctx, threadKey(conversationID), jsonData, r.ttl).Err())
}

func (r *redisThreadCacheRepository) InvalidateThread(ctx context.Context, conversationID string) error {
	if r.redisClient == nil {
		return nil
	}
	return storeErr("invalidateThreadCache", r.redisClient.Del(ctx, threadKey(conversationID)).Err())
}

func (r *redisThreadCacheRepository) ActiveConversation(ctx context.Context) (string, error) {
	if r.redisClient == nil {
		return "", nil
	}
	id, err := r.redisClient.Get(ctx, activeConversationKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", storeErr("getActiveConversation", err)
	}
	return id, nil
}

func (r *redisThreadCacheRepository) SetActiveConversation(ctx context.Context, conversationID string) error {
	if r.redisClient == nil {
		return nil
	}
	if conversationID == "" {
		return storeErr("setActiveConversation", r.redisClient.Del(ctx, activeConversationKey).Err())
	}
	return storeErr("setActiveConversation", r.redisClient.Set(ctx, activeConversationKey, conversationID, 0).Err())
}
