package repository

import (
	"context"
	"time"

	"chat-assistant-go/internal/model"

	"github.com/google/uuid"
)

// 演示模式实现：当存储未配置或不可达时使用，所有操作退化为
// 无害的空操作而不是报错，界面呈现为空数据而不是崩溃。

// noopConversationRepository 是 ConversationRepository 的演示模式实现。
type noopConversationRepository struct{}

// NewNoopConversationRepository 创建一个不落盘的会话仓库。
func NewNoopConversationRepository() ConversationRepository {
	return &noopConversationRepository{}
}

func (r *noopConversationRepository) ListByUpdatedAt(ctx context.Context) ([]model.Conversation, error) {
	return []model.Conversation{}, nil
}

// Create 返回一个仅存在于内存中的会话，重启即丢。这样演示模式下
// 新建会话仍然可用，而不是悄无声息地失败。
func (r *noopConversationRepository) Create(ctx context.Context, title string) (*model.Conversation, error) {
	now := time.Now()
	return &model.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *noopConversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return nil
}

func (r *noopConversationRepository) Touch(ctx context.Context, id, lastMessage string, at time.Time) error {
	return nil
}

func (r *noopConversationRepository) Delete(ctx context.Context, id string) error {
	return nil
}

// noopMessageRepository 是 MessageRepository 的演示模式实现。
type noopMessageRepository struct{}

// NewNoopMessageRepository 创建一个不落盘的消息仓库。
func NewNoopMessageRepository() MessageRepository {
	return &noopMessageRepository{}
}

func (r *noopMessageRepository) FindByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	return []model.Message{}, nil
}

func (r *noopMessageRepository) Create(ctx context.Context, msg *model.Message) error {
	return nil
}
