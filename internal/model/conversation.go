// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色。role 不一定直接存储，历史数据可能缺失，由 normalize 推导。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LegacyNullLiteral 是旧版 n8n 流程写入的字面量 "NULL"，读取时视同空。
const LegacyNullLiteral = "NULL"

// Conversation 代表侧边栏中的一个会话线程。
// 主键沿用历史表的 session_id 列名，对外 JSON 暴露为 id。
type Conversation struct {
	ID    string `gorm:"primaryKey;column:session_id;size:64" json:"id"`
	Title string `gorm:"size:255" json:"title"`
	// Message 是旧版单行模式直接挂在会话行上的消息字段。为兼容旧读取方，
	// 每次发送时仍会同步写入最新一条用户消息，完整线程以 messages 表为准。
	Message   string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"index" json:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 代表会话中的一条消息。乐观条目使用 local- 前缀的本地 ID，
// 与存储分配的 ID 处于不同命名空间，二者永不跨空间比较。
type Message struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string    `gorm:"column:conversation_id;index;size:64" json:"conversationId"`
	Role           string    `gorm:"size:16" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// RenderedMessage 是经过归一化与受限 markdown 渲染后、可直接展示的消息。
type RenderedMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt LocalTime `json:"createdAt"`
}
