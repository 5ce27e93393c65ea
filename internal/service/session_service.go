// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-assistant-go/internal/config"
	"chat-assistant-go/internal/model"
	"chat-assistant-go/internal/normalize"
	"chat-assistant-go/internal/repository"
	"chat-assistant-go/pkg/log"
	"chat-assistant-go/pkg/responder"

	"github.com/google/uuid"
)

// apologyText 是派发失败后延迟插入的固定致歉消息。
const apologyText = "Sorry, an error occurred with the AI service."

// SessionSnapshot 是同步控制器当前状态的一份只读拷贝。
// PendingSend 用于门控输入框的禁用状态。
type SessionSnapshot struct {
	Conversations        []model.Conversation    `json:"conversations"`
	ActiveConversationID string                  `json:"activeConversationId"`
	Messages             []model.RenderedMessage `json:"messages"`
	PendingSend          bool                    `json:"pendingSend"`
}

// SessionService 是会话/消息同步控制器：所有本地状态变更都经由它的
// 操作完成，视图层不直接写任何状态。
type SessionService interface {
	// RefreshConversations 用存储中的完整列表替换本地会话列表，
	// 按 updated_at 降序。幂等，可重复调用。
	RefreshConversations(ctx context.Context) ([]model.Conversation, error)
	// SelectConversation 切换激活会话并整体替换消息列表，丢弃旧会话
	// 的全部消息与 pending 状态。加载失败时退化为空列表。
	SelectConversation(ctx context.Context, id string) ([]model.RenderedMessage, error)
	// CreateConversation 以占位标题新建会话，成功后置顶并激活。
	CreateConversation(ctx context.Context) (*model.Conversation, error)
	// RenameConversation 持久化修剪后的新标题并原位更新内存条目。
	// 空标题是空操作。重命名不改变 updated_at，也不触发重排序。
	RenameConversation(ctx context.Context, id, title string) error
	// DeleteConversation 删除会话；若删除的是激活会话则清空激活状态。
	DeleteConversation(ctx context.Context, id string) error
	// SendMessage 发送一条用户消息：乐观追加、推进 updated_at、派发
	// 到外部应答服务，并调度固定延迟后的重载。空文本或无激活会话
	// 时是空操作并返回 nil。
	SendMessage(ctx context.Context, text string) (*model.RenderedMessage, error)
	// MessagesFor 返回某会话渲染后的消息线程（激活会话走内存，其余
	// 经缓存回源存储），不改变控制器状态。
	MessagesFor(ctx context.Context, id string) ([]model.RenderedMessage, error)
	Snapshot() SessionSnapshot
}

type sessionService struct {
	convRepo   repository.ConversationRepository
	msgRepo    repository.MessageRepository
	cache      repository.ThreadCacheRepository
	dispatcher responder.Client

	defaultTitle  string
	reloadDelay   time.Duration
	fallbackDelay time.Duration
	now           func() time.Time
	schedule      func(time.Duration, func())

	mu            sync.Mutex
	conversations []model.Conversation
	activeID      string
	messages      []model.Message
	pendingSend   bool
}

// NewSessionService 创建一个新的 SessionService，延迟参数取自全局配置。
func NewSessionService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	cache repository.ThreadCacheRepository,
	dispatcher responder.Client,
) SessionService {
	reloadDelay := time.Duration(config.Conf.Responder.ReloadDelaySeconds) * time.Second
	if reloadDelay <= 0 {
		reloadDelay = 3 * time.Second
	}
	fallbackDelay := time.Duration(config.Conf.Responder.FallbackDelaySeconds) * time.Second
	if fallbackDelay <= 0 {
		fallbackDelay = 2 * time.Second
	}
	title := config.Conf.Chat.DefaultTitle
	if title == "" {
		title = "New conversation"
	}
	return &sessionService{
		convRepo:      convRepo,
		msgRepo:       msgRepo,
		cache:         cache,
		dispatcher:    dispatcher,
		defaultTitle:  title,
		reloadDelay:   reloadDelay,
		fallbackDelay: fallbackDelay,
		now:           time.Now,
		schedule: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (s *sessionService) RefreshConversations(ctx context.Context) ([]model.Conversation, error) {
	conversations, err := s.convRepo.ListByUpdatedAt(ctx)
	if err != nil {
		log.Errorf("加载会话列表失败: %v", err)
		return nil, err
	}
	sortByUpdatedAtDesc(conversations)

	s.mu.Lock()
	s.conversations = conversations
	out := copyConversations(conversations)
	s.mu.Unlock()
	return out, nil
}

func (s *sessionService) SelectConversation(ctx context.Context, id string) ([]model.RenderedMessage, error) {
	// 先整体丢弃旧会话的消息与 pending 状态，再加载新会话
	s.mu.Lock()
	s.activeID = id
	s.messages = nil
	s.pendingSend = false
	s.mu.Unlock()

	if err := s.cache.SetActiveConversation(ctx, id); err != nil {
		log.Warnf("持久化激活会话指针失败: %v", err)
	}

	messages, err := s.msgRepo.FindByConversation(ctx, id)
	if err != nil {
		// 加载失败退化为空线程，不让错误传到视图层
		log.Errorf("加载会话 %s 的消息失败: %v", id, err)
		messages = []model.Message{}
	}

	s.mu.Lock()
	if s.activeID == id {
		s.messages = messages
	}
	s.mu.Unlock()
	return s.renderThread(messages), nil
}

func (s *sessionService) CreateConversation(ctx context.Context) (*model.Conversation, error) {
	conv, err := s.convRepo.Create(ctx, s.defaultTitle)
	if err != nil {
		// 失败时状态保持不变
		log.Errorf("创建会话失败: %v", err)
		return nil, err
	}

	s.mu.Lock()
	s.conversations = append([]model.Conversation{*conv}, s.conversations...)
	s.activeID = conv.ID
	s.messages = nil
	s.pendingSend = false
	s.mu.Unlock()

	if err := s.cache.SetActiveConversation(ctx, conv.ID); err != nil {
		log.Warnf("持久化激活会话指针失败: %v", err)
	}
	return conv, nil
}

func (s *sessionService) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}

	if err := s.convRepo.UpdateTitle(ctx, id, title); err != nil {
		log.Errorf("重命名会话 %s 失败: %v", id, err)
		return err
	}

	// 原位更新，不重排序：重命名不推进 updated_at
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].Title = title
			break
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *sessionService) DeleteConversation(ctx context.Context, id string) error {
	if err := s.convRepo.Delete(ctx, id); err != nil {
		log.Errorf("删除会话 %s 失败: %v", id, err)
		return err
	}

	s.mu.Lock()
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
	wasActive := s.activeID == id
	if wasActive {
		s.activeID = ""
		s.messages = nil
		s.pendingSend = false
	}
	s.mu.Unlock()

	if err := s.cache.InvalidateThread(ctx, id); err != nil {
		log.Warnf("清理线程缓存失败: %v", err)
	}
	if wasActive {
		if err := s.cache.SetActiveConversation(ctx, ""); err != nil {
			log.Warnf("清空激活会话指针失败: %v", err)
		}
	}
	return nil
}

func (s *sessionService) SendMessage(ctx context.Context, text string) (*model.RenderedMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	s.mu.Lock()
	if s.activeID == "" {
		s.mu.Unlock()
		return nil, nil
	}
	convID := s.activeID
	s.pendingSend = true
	s.mu.Unlock()

	// 乐观条目：本地 ID 与存储 ID 处于不同命名空间
	optimistic := model.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        text,
		CreatedAt:      s.now(),
	}
	s.mu.Lock()
	if s.activeID == convID {
		s.messages = append(s.messages, optimistic)
	}
	s.mu.Unlock()

	// 推进 updated_at。失败只记录，不阻断后续步骤。
	if err := s.convRepo.Touch(ctx, convID, text, optimistic.CreatedAt); err != nil {
		log.Errorf("推进会话 %s 的 updated_at 失败: %v", convID, err)
	} else {
		s.mu.Lock()
		for i := range s.conversations {
			if s.conversations[i].ID == convID {
				s.conversations[i].UpdatedAt = optimistic.CreatedAt
				break
			}
		}
		sortByUpdatedAtDesc(s.conversations)
		s.mu.Unlock()
	}
	if err := s.cache.InvalidateThread(ctx, convID); err != nil {
		log.Warnf("清理线程缓存失败: %v", err)
	}

	dispatchErr := s.dispatcher.Dispatch(ctx, convID, text, optimistic.CreatedAt)

	s.mu.Lock()
	s.pendingSend = false
	s.mu.Unlock()

	// 固定延迟后整体重载消息列表：这是助手回复变得可见的唯一机制，
	// 应答服务直接写存储而不会同步返回回复。
	s.schedule(s.reloadDelay, func() {
		s.reloadIfActive(convID)
	})

	if dispatchErr != nil {
		log.Errorf("派发到应答服务失败: %v", dispatchErr)
		s.schedule(s.fallbackDelay, func() {
			s.insertFallback(convID)
		})
	}

	rendered := s.renderMessage(optimistic)
	return &rendered, nil
}

// reloadIfActive 用存储内容整体替换消息列表。过期守卫：只有目标会话
// 仍然是激活会话时才应用，切换会话不会取消在途任务，由这里丢弃。
func (s *sessionService) reloadIfActive(convID string) {
	ctx := context.Background()

	s.mu.Lock()
	if s.activeID != convID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	messages, err := s.msgRepo.FindByConversation(ctx, convID)
	if err != nil {
		log.Errorf("延迟重载会话 %s 失败: %v", convID, err)
		return
	}

	s.mu.Lock()
	if s.activeID == convID {
		s.messages = messages
	}
	s.mu.Unlock()

	if err := s.cache.InvalidateThread(ctx, convID); err != nil {
		log.Warnf("清理线程缓存失败: %v", err)
	}
}

// insertFallback 在派发失败的第二段延迟后插入固定的致歉助手消息。
// 同样受过期守卫保护：触发发送的会话不再激活时直接丢弃。
func (s *sessionService) insertFallback(convID string) {
	ctx := context.Background()

	s.mu.Lock()
	if s.activeID != convID {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        apologyText,
		CreatedAt:      s.now(),
	}
	if err := s.msgRepo.Create(ctx, &msg); err != nil {
		// 存储不支持客户端插入时退化为仅本地展示
		log.Warnf("致歉消息写入存储失败，仅保留本地展示: %v", err)
	}

	s.mu.Lock()
	if s.activeID == convID {
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	if err := s.cache.InvalidateThread(ctx, convID); err != nil {
		log.Warnf("清理线程缓存失败: %v", err)
	}
}

func (s *sessionService) MessagesFor(ctx context.Context, id string) ([]model.RenderedMessage, error) {
	s.mu.Lock()
	if id == s.activeID {
		thread := s.renderThread(s.messages)
		s.mu.Unlock()
		return thread, nil
	}
	s.mu.Unlock()

	if cached, hit, err := s.cache.GetThread(ctx, id); err == nil && hit {
		return cached, nil
	}

	messages, err := s.msgRepo.FindByConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	thread := s.renderThread(messages)
	if err := s.cache.SetThread(ctx, id, thread); err != nil {
		log.Warnf("写入线程缓存失败: %v", err)
	}
	return thread, nil
}

func (s *sessionService) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		Conversations:        copyConversations(s.conversations),
		ActiveConversationID: s.activeID,
		Messages:             s.renderThread(s.messages),
		PendingSend:          s.pendingSend,
	}
}

// renderMessage 归一化并渲染单条消息。
func (s *sessionService) renderMessage(m model.Message) model.RenderedMessage {
	n := normalize.Message(m.Content, m.Role)
	return model.RenderedMessage{
		ID:        m.ID,
		Role:      n.Role,
		Text:      n.Text,
		HTML:      normalize.Render(n.Text),
		CreatedAt: model.LocalTime(m.CreatedAt),
	}
}

func (s *sessionService) renderThread(messages []model.Message) []model.RenderedMessage {
	thread := make([]model.RenderedMessage, 0, len(messages))
	for _, m := range messages {
		thread = append(thread, s.renderMessage(m))
	}
	return thread
}

func sortByUpdatedAtDesc(conversations []model.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
}

func copyConversations(conversations []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(conversations))
	copy(out, conversations)
	return out
}
