package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chat-assistant-go/internal/model"
)

type fakeConversationRepo struct {
	listFn        func(context.Context) ([]model.Conversation, error)
	createFn      func(context.Context, string) (*model.Conversation, error)
	updateTitleFn func(context.Context, string, string) error
	touchFn       func(context.Context, string, string, time.Time) error
	deleteFn      func(context.Context, string) error
}

func (f *fakeConversationRepo) ListByUpdatedAt(ctx context.Context) ([]model.Conversation, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}
func (f *fakeConversationRepo) Create(ctx context.Context, title string) (*model.Conversation, error) {
	if f.createFn != nil {
		return f.createFn(ctx, title)
	}
	return &model.Conversation{ID: "created", Title: title}, nil
}
func (f *fakeConversationRepo) UpdateTitle(ctx context.Context, id, title string) error {
	if f.updateTitleFn != nil {
		return f.updateTitleFn(ctx, id, title)
	}
	return nil
}
func (f *fakeConversationRepo) Touch(ctx context.Context, id, lastMessage string, at time.Time) error {
	if f.touchFn != nil {
		return f.touchFn(ctx, id, lastMessage, at)
	}
	return nil
}
func (f *fakeConversationRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

type fakeMessageRepo struct {
	findFn   func(context.Context, string) ([]model.Message, error)
	createFn func(context.Context, *model.Message) error
	created  []model.Message
}

func (f *fakeMessageRepo) FindByConversation(ctx context.Context, id string) ([]model.Message, error) {
	if f.findFn != nil {
		return f.findFn(ctx, id)
	}
	return nil, nil
}
func (f *fakeMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	f.created = append(f.created, *msg)
	if f.createFn != nil {
		return f.createFn(ctx, msg)
	}
	return nil
}

type fakeCache struct{}

func (fakeCache) GetThread(context.Context, string) ([]model.RenderedMessage, bool, error) {
	return nil, false, nil
}
func (fakeCache) SetThread(context.Context, string, []model.RenderedMessage) error { return nil }
func (fakeCache) InvalidateThread(context.Context, string) error                   { return nil }
func (fakeCache) ActiveConversation(context.Context) (string, error)               { return "", nil }
func (fakeCache) SetActiveConversation(context.Context, string) error              { return nil }

type fakeDispatcher struct {
	err   error
	calls []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, conversationID, message string, at time.Time) error {
	f.calls = append(f.calls, message)
	return f.err
}

// newTestService 构造一个把延迟任务收集起来、由测试手动触发的控制器。
func newTestService(convRepo *fakeConversationRepo, msgRepo *fakeMessageRepo, dispatcher *fakeDispatcher) (*sessionService, *[]func()) {
	scheduled := &[]func(){}
	svc := &sessionService{
		convRepo:      convRepo,
		msgRepo:       msgRepo,
		cache:         fakeCache{},
		dispatcher:    dispatcher,
		defaultTitle:  "New conversation",
		reloadDelay:   3 * time.Second,
		fallbackDelay: 2 * time.Second,
		now:           time.Now,
		schedule: func(d time.Duration, f func()) {
			*scheduled = append(*scheduled, f)
		},
	}
	return svc, scheduled
}

func runScheduled(scheduled *[]func()) {
	tasks := *scheduled
	*scheduled = nil
	for _, f := range tasks {
		f()
	}
}

func TestRefreshConversationsSortedByUpdatedAtDesc(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	convRepo := &fakeConversationRepo{
		listFn: func(context.Context) ([]model.Conversation, error) {
			return []model.Conversation{
				{ID: "old", UpdatedAt: base},
				{ID: "newest", UpdatedAt: base.Add(2 * time.Hour)},
				{ID: "middle", UpdatedAt: base.Add(time.Hour)},
			}, nil
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})

	got, err := svc.RefreshConversations(context.Background())
	if err != nil {
		t.Fatalf("RefreshConversations failed: %v", err)
	}
	wantOrder := []string{"newest", "middle", "old"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("conversations[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestRefreshConversationsKeepsStateOnError(t *testing.T) {
	calls := 0
	convRepo := &fakeConversationRepo{
		listFn: func(context.Context) ([]model.Conversation, error) {
			calls++
			if calls > 1 {
				return nil, errors.New("store down")
			}
			return []model.Conversation{{ID: "c1"}}, nil
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})

	if _, err := svc.RefreshConversations(context.Background()); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if _, err := svc.RefreshConversations(context.Background()); err == nil {
		t.Fatal("second refresh should fail")
	}
	if snap := svc.Snapshot(); len(snap.Conversations) != 1 || snap.Conversations[0].ID != "c1" {
		t.Errorf("state changed on failed refresh: %+v", snap.Conversations)
	}
}

func TestSelectConversationReplacesMessages(t *testing.T) {
	msgRepo := &fakeMessageRepo{
		findFn: func(_ context.Context, id string) ([]model.Message, error) {
			return []model.Message{{ID: "msg-" + id, ConversationID: id, Role: model.RoleUser, Content: "from " + id}}, nil
		},
	}
	svc, _ := newTestService(&fakeConversationRepo{}, msgRepo, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := svc.SelectConversation(ctx, "a"); err != nil {
		t.Fatalf("select a failed: %v", err)
	}
	thread, err := svc.SelectConversation(ctx, "b")
	if err != nil {
		t.Fatalf("select b failed: %v", err)
	}
	if len(thread) != 1 || thread[0].ID != "msg-b" {
		t.Fatalf("thread = %+v, want only messages from b", thread)
	}
	snap := svc.Snapshot()
	if snap.ActiveConversationID != "b" {
		t.Errorf("active = %s, want b", snap.ActiveConversationID)
	}
	for _, m := range snap.Messages {
		if m.ID == "msg-a" {
			t.Error("messages from previous conversation still visible")
		}
	}
}

func TestSelectConversationLoadErrorGivesEmptyThread(t *testing.T) {
	msgRepo := &fakeMessageRepo{
		findFn: func(context.Context, string) ([]model.Message, error) {
			return nil, errors.New("store down")
		},
	}
	svc, _ := newTestService(&fakeConversationRepo{}, msgRepo, &fakeDispatcher{})

	thread, err := svc.SelectConversation(context.Background(), "a")
	if err != nil {
		t.Fatalf("SelectConversation should swallow load errors, got %v", err)
	}
	if len(thread) != 0 {
		t.Errorf("thread = %+v, want empty", thread)
	}
}

func TestCreateConversationPrependsAndActivates(t *testing.T) {
	convRepo := &fakeConversationRepo{
		createFn: func(_ context.Context, title string) (*model.Conversation, error) {
			return &model.Conversation{ID: "fresh", Title: title, UpdatedAt: time.Now()}, nil
		},
		listFn: func(context.Context) ([]model.Conversation, error) {
			return []model.Conversation{{ID: "existing"}}, nil
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := svc.RefreshConversations(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	conv, err := svc.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if conv.Title != "New conversation" {
		t.Errorf("title = %q, want placeholder", conv.Title)
	}

	snap := svc.Snapshot()
	if snap.Conversations[0].ID != "fresh" {
		t.Errorf("new conversation not prepended: %+v", snap.Conversations)
	}
	if snap.ActiveConversationID != "fresh" {
		t.Errorf("active = %s, want fresh", snap.ActiveConversationID)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("new conversation must start with empty thread, got %+v", snap.Messages)
	}
}

func TestCreateConversationFailureLeavesStateUnchanged(t *testing.T) {
	convRepo := &fakeConversationRepo{
		createFn: func(context.Context, string) (*model.Conversation, error) {
			return nil, errors.New("insert failed")
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})

	if _, err := svc.CreateConversation(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if snap := svc.Snapshot(); len(snap.Conversations) != 0 || snap.ActiveConversationID != "" {
		t.Errorf("state changed on failed create: %+v", snap)
	}
}

func TestRenameConversationTrimsAndPatchesInPlace(t *testing.T) {
	var persisted string
	convRepo := &fakeConversationRepo{
		listFn: func(context.Context) ([]model.Conversation, error) {
			return []model.Conversation{{ID: "c1", Title: "before"}}, nil
		},
		updateTitleFn: func(_ context.Context, id, title string) error {
			persisted = title
			return nil
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})
	ctx := context.Background()
	if _, err := svc.RefreshConversations(ctx); err != nil {
		t.Fatal(err)
	}

	if err := svc.RenameConversation(ctx, "c1", "  after  "); err != nil {
		t.Fatalf("RenameConversation failed: %v", err)
	}
	if persisted != "after" {
		t.Errorf("persisted title = %q, want trimmed", persisted)
	}
	if snap := svc.Snapshot(); snap.Conversations[0].Title != "after" {
		t.Errorf("in-memory title = %q", snap.Conversations[0].Title)
	}
}

func TestRenameConversationEmptyTitleIsNoop(t *testing.T) {
	called := false
	convRepo := &fakeConversationRepo{
		updateTitleFn: func(context.Context, string, string) error {
			called = true
			return nil
		},
	}
	svc, _ := newTestService(convRepo, &fakeMessageRepo{}, &fakeDispatcher{})

	if err := svc.RenameConversation(context.Background(), "c1", "   "); err != nil {
		t.Fatalf("RenameConversation failed: %v", err)
	}
	if called {
		t.Error("empty title must not reach the store")
	}
}

func TestDeleteActiveConversationClearsState(t *testing.T) {
	convRepo := &fakeConversationRepo{
		listFn: func(context.Context) ([]model.Conversation, error) {
			return []model.Conversation{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	msgRepo := &fakeMessageRepo{
		findFn: func(_ context.Context, id string) ([]model.Message, error) {
			return []model.Message{{ID: "m", ConversationID: id, Content: "x"}}, nil
		},
	}
	svc, _ := newTestService(convRepo, msgRepo, &fakeDispatcher{})
	ctx := context.Background()
	if _, err := svc.RefreshConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SelectConversation(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteConversation(ctx, "a"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	snap := svc.Snapshot()
	if snap.ActiveConversationID != "" {
		t.Errorf("active = %s, want cleared", snap.ActiveConversationID)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("messages not emptied: %+v", snap.Messages)
	}
	if len(snap.Conversations) != 1 || snap.Conversations[0].ID != "b" {
		t.Errorf("conversations = %+v, want only b", snap.Conversations)
	}
}

func TestDeleteNonActiveConversationKeepsActiveState(t *testing.T) {
	convRepo := &fakeConversationRepo{
		listFn: func(context.Context) ([]model.Conversation, error) {
			return []model.Conversation{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	msgRepo := &fakeMessageRepo{
		findFn: func(_ context.Context, id string) ([]model.Message, error) {
			return []model.Message{{ID: "m-" + id, ConversationID: id, Content: "x"}}, nil
		},
	}
	svc, _ := newTestService(convRepo, msgRepo, &fakeDispatcher{})
	ctx := context.Background()
	if _, err := svc.RefreshConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SelectConversation(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteConversation(ctx, "b"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	snap := svc.Snapshot()
	if snap.ActiveConversationID != "a" {
		t.Errorf("active = %s, want a untouched", snap.ActiveConversationID)
	}
	if len(snap.Messages) != 1 {
		t.Errorf("messages of active conversation lost: %+v", snap.Messages)
	}
}

func TestSendMessageEmptyTextIsNoop(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	svc, scheduled := newTestService(&fakeConversationRepo{}, &fakeMessageRepo{}, dispatcher)
	ctx := context.Background()
	if _, err := svc.SelectConversation(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	for _, text := range []string{"", "   "} {
		msg, err := svc.SendMessage(ctx, text)
		if err != nil || msg != nil {
			t.Errorf("SendMessage(%q) = (%v, %v), want no-op", text, msg, err)
		}
	}
	if len(dispatcher.calls) != 0 {
		t.Error("empty send must not dispatch")
	}
	if len(*scheduled) != 0 {
		t.Error("empty send must not schedule tasks")
	}
	if snap := svc.Snapshot(); len(snap.Messages) != 0 || snap.PendingSend {
		t.Errorf("state changed by empty send: %+v", snap)
	}
}

func TestSendMessageWithoutActiveConversationIsNoop(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	svc, _ := newTestService(&fakeConversationRepo{}, &fakeMessageRepo{}, dispatcher)

	msg, err := svc.SendMessage(context.Background(), "hello")
	if err != nil || msg != nil {
		t.Errorf("SendMessage without active = (%v, %v), want no-op", msg, err)
	}
	if len(dispatcher.calls) != 0 {
		t.Error("must not dispatch without an active conversation")
	}
}

func TestSendMessageOptimisticEntryThenReload(t *testing.T) {
	var touched bool
	convRepo := &fakeConversationRepo{
		touchFn: func(context.Context, string, string, time.Time) error {
			touched = true
			return nil
		},
	}
	storeMessages := []model.Message{}
	msgRepo := &fakeMessageRepo{
		findFn: func(context.Context, string) ([]model.Message, error) {
			return storeMessages, nil
		},
	}
	dispatcher := &fakeDispatcher{}
	svc, scheduled := newTestService(convRepo, msgRepo, dispatcher)
	ctx := context.Background()
	if _, err := svc.SelectConversation(ctx, "conv"); err != nil {
		t.Fatal(err)
	}

	sent, err := svc.SendMessage(ctx, "  Hello  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent == nil || sent.Text != "Hello" {
		t.Fatalf("sent = %+v, want trimmed optimistic entry", sent)
	}
	if !strings.HasPrefix(sent.ID, "local-") {
		t.Errorf("optimistic id = %s, want local- namespace", sent.ID)
	}
	if !touched {
		t.Error("updated_at was not bumped")
	}
	if dispatcher.calls[0] != "Hello" {
		t.Errorf("dispatched %q, want trimmed text", dispatcher.calls[0])
	}
	if snap := svc.Snapshot(); snap.PendingSend {
		t.Error("pendingSend must clear once dispatch resolves")
	}

	// 存储此刻已有应答服务写入的回复；延迟重载整体替换本地列表
	storeMessages = []model.Message{
		{ID: "s1", ConversationID: "conv", Role: model.RoleUser, Content: "Hello"},
		{ID: "s2", ConversationID: "conv", Content: `{"type":"ai","content":"Hi there"}`},
	}
	runScheduled(scheduled)

	snap := svc.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v, want store contents after reload", snap.Messages)
	}
	if snap.Messages[1].Role != model.RoleAssistant || snap.Messages[1].Text != "Hi there" {
		t.Errorf("assistant reply not normalized: %+v", snap.Messages[1])
	}
	for _, m := range snap.Messages {
		if strings.HasPrefix(m.ID, "local-") {
			t.Error("optimistic entry must be superseded by the store after reload")
		}
	}
}

func TestSendMessageDispatchFailureInsertsApology(t *testing.T) {
	msgRepo := &fakeMessageRepo{
		findFn: func(context.Context, string) ([]model.Message, error) {
			return nil, nil
		},
	}
	dispatcher := &fakeDispatcher{err: errors.New("webhook 500")}
	svc, scheduled := newTestService(&fakeConversationRepo{}, msgRepo, dispatcher)
	ctx := context.Background()
	if _, err := svc.SelectConversation(ctx, "conv"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SendMessage(ctx, "Hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	// 派发失败要调度两个任务：重载 + 致歉回退
	if len(*scheduled) != 2 {
		t.Fatalf("scheduled %d tasks, want reload and fallback", len(*scheduled))
	}
	runScheduled(scheduled)

	snap := svc.Snapshot()
	found := false
	for _, m := range snap.Messages {
		if m.Role == model.RoleAssistant && m.Text == apologyText {
			found = true
		}
	}
	if !found {
		t.Errorf("apology assistant message missing: %+v", snap.Messages)
	}
	if len(msgRepo.created) != 1 || msgRepo.created[0].Content != apologyText {
		t.Errorf("apology not written to store: %+v", msgRepo.created)
	}
}

func TestStaleResponseGuardDiscardsDelayedEffects(t *testing.T) {
	msgRepo := &fakeMessageRepo{
		findFn: func(_ context.Context, id string) ([]model.Message, error) {
			if id == "first" {
				return []model.Message{{ID: "stale", ConversationID: "first", Content: "old"}}, nil
			}
			return nil, nil
		},
	}
	dispatcher := &fakeDispatcher{err: errors.New("webhook down")}
	svc, scheduled := newTestService(&fakeConversationRepo{}, msgRepo, dispatcher)
	ctx := context.Background()

	if _, err := svc.SelectConversation(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, "Hello"); err != nil {
		t.Fatal(err)
	}

	// 延迟任务触发前切换会话：重载与致歉都必须被过期守卫丢弃
	if _, err := svc.SelectConversation(ctx, "second"); err != nil {
		t.Fatal(err)
	}
	runScheduled(scheduled)

	snap := svc.Snapshot()
	if snap.ActiveConversationID != "second" {
		t.Fatalf("active = %s", snap.ActiveConversationID)
	}
	if len(snap.Messages) != 0 {
		t.Errorf("delayed effects leaked into new conversation: %+v", snap.Messages)
	}
	if len(msgRepo.created) != 0 {
		t.Errorf("stale apology reached the store: %+v", msgRepo.created)
	}
}
