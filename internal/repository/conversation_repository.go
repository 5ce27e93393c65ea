package repository

import (
	"context"
	"time"

	"chat-assistant-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationRepository 定义了会话表的数据持久化操作。
type ConversationRepository interface {
	// ListByUpdatedAt 返回全部会话，按 updated_at 降序（最近活跃在前）。
	ListByUpdatedAt(ctx context.Context) ([]model.Conversation, error)
	// Create 以占位标题插入一个新会话，ID 由存储层分配。
	Create(ctx context.Context, title string) (*model.Conversation, error)
	// UpdateTitle 持久化重命名。重命名不推进 updated_at。
	UpdateTitle(ctx context.Context, id, title string) error
	// Touch 在发送消息时推进 updated_at，并写入旧版单行兼容字段。
	Touch(ctx context.Context, id, lastMessage string, at time.Time) error
	// Delete 删除会话并级联删除其消息。
	Delete(ctx context.Context, id string) error
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) ListByUpdatedAt(ctx context.Context) ([]model.Conversation, error) {
	var conversations []model.Conversation
	err := r.db.WithContext(ctx).Order("updated_at desc").Find(&conversations).Error
	if err != nil {
		return nil, storeErr("listConversations", err)
	}
	return conversations, nil
}

func (r *conversationRepository) Create(ctx context.Context, title string) (*model.Conversation, error) {
	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, storeErr("createConversation", err)
	}
	return &conv, nil
}

func (r *conversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("session_id = ?", id).
		Update("title", title).Error
	return storeErr("updateConversation", err)
}

func (r *conversationRepository) Touch(ctx context.Context, id, lastMessage string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("session_id = ?", id).
		Updates(map[string]interface{}{
			"message":    lastMessage,
			"updated_at": at,
		}).Error
	return storeErr("updateConversation", err)
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", id).Delete(&model.Conversation{}).Error
	})
	return storeErr("deleteConversation", err)
}
