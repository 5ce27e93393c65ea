// Package responder provides a client for dispatching user messages to the
// external workflow-automation webhook that produces assistant replies.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chat-assistant-go/internal/config"
)

// DispatchError 标识一次 webhook 派发失败：HTTP 非 2xx、网络错误或未配置地址。
type DispatchError struct {
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("responder dispatch: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("responder dispatch: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Client defines the interface for the responder dispatcher.
type Client interface {
	// Dispatch 发送单次 HTTP POST。任何 2xx 状态码视为成功；
	// 其余状态、网络错误与缺失配置都返回 *DispatchError，没有重试。
	Dispatch(ctx context.Context, conversationID, message string, at time.Time) error
}

type webhookClient struct {
	cfg    config.ResponderConfig
	client *http.Client
}

// NewClient creates a new responder client from the webhook config.
func NewClient(cfg config.ResponderConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &webhookClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// dispatchRequest 是发给自动化工具的负载。消息文本在多个键下重复，
// 兼容不同版本流程里各自取用的字段名。
type dispatchRequest struct {
	Message        string `json:"message"`
	Input          string `json:"input"`
	ChatInput      string `json:"chatInput"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"sessionId"`
	Timestamp      string `json:"timestamp"`
}

func (c *webhookClient) Dispatch(ctx context.Context, conversationID, message string, at time.Time) error {
	if c.cfg.WebhookURL == "" {
		return &DispatchError{Err: errors.New("webhook url not configured")}
	}

	reqBody := dispatchRequest{
		Message:        message,
		Input:          message,
		ChatInput:      message,
		ConversationID: conversationID,
		SessionID:      conversationID,
		Timestamp:      at.UTC().Format(time.RFC3339),
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return &DispatchError{Err: fmt.Errorf("failed to marshal dispatch request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(reqBytes))
	if err != nil {
		return &DispatchError{Err: fmt.Errorf("failed to create dispatch request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &DispatchError{Err: fmt.Errorf("failed to call webhook: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DispatchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook returned non-2xx status: %s, body: %s", resp.Status, string(bodyBytes)),
		}
	}
	return nil
}
