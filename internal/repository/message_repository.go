package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-assistant-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 定义了消息表的数据持久化操作。
// 正常路径下助手回复由外部应答服务直接写入存储，Create 仅用于
// 派发失败后的本地致歉消息。
type MessageRepository interface {
	// FindByConversation 返回某会话的全部消息，按 created_at 升序。
	// 规范表无数据时依次回退旧版 chat_automation 表和会话行上的单消息字段。
	FindByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	Create(ctx context.Context, msg *model.Message) error
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) FindByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Find(&messages).Error
	if err != nil {
		return nil, storeErr("getMessages", err)
	}
	if len(messages) > 0 {
		return messages, nil
	}

	// 旧版 chat_automation(id, session_id, message, created_at)：
	// role 留空，由归一化层从 message 字段内的 type 判别符推导。
	if r.db.Migrator().HasTable("chat_automation") {
		rows, err := r.findLegacyAutomation(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}

	// 最老的单行模式：消息直接挂在会话行的 message 字段上。
	return r.findLegacySingleRow(ctx, conversationID)
}

func (r *messageRepository) findLegacyAutomation(ctx context.Context, conversationID string) ([]model.Message, error) {
	// 对应旧版 n8n 流程写入的 chat_automation 表结构
	type row struct {
		ID        int64
		SessionID string
		Message   string
		CreatedAt time.Time
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Table("chat_automation").
		Select("id, session_id, message, created_at").
		Where("session_id = ?", conversationID).
		Order("created_at asc").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr("getMessages", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, lr := range rows {
		if lr.Message == "" || lr.Message == model.LegacyNullLiteral {
			continue
		}
		messages = append(messages, model.Message{
			ID:             fmt.Sprintf("auto-%d", lr.ID),
			ConversationID: lr.SessionID,
			Content:        lr.Message,
			CreatedAt:      lr.CreatedAt,
		})
	}
	return messages, nil
}

func (r *messageRepository) findLegacySingleRow(ctx context.Context, conversationID string) ([]model.Message, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).Where("session_id = ?", conversationID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return []model.Message{}, nil
		}
		return nil, storeErr("getMessages", err)
	}
	if conv.Message == "" || conv.Message == model.LegacyNullLiteral {
		return []model.Message{}, nil
	}
	return []model.Message{{
		ID:             "msg_" + conv.ID,
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        conv.Message,
		CreatedAt:      conv.CreatedAt,
	}}, nil
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	return storeErr("createMessage", r.db.WithContext(ctx).Create(msg).Error)
}
