package handler

import (
	"net/http"

	"chat-assistant-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 处理消息线程与发送相关的 API 请求。
type ChatHandler struct {
	service service.SessionService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(service service.SessionService) *ChatHandler {
	return &ChatHandler{service: service}
}

// Messages 返回某会话归一化并渲染后的消息线程。页面以轮询方式调用
// 此接口观察应答服务写入的助手回复。
func (h *ChatHandler) Messages(c *gin.Context) {
	thread, err := h.service.MessagesFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to load messages",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    thread,
	})
}

type sendRequest struct {
	Text string `json:"text"`
}

// Send 向激活会话发送一条用户消息。空文本或无激活会话按契约是
// 空操作，data 为 null；成功时 data 是乐观条目。
func (h *ChatHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "Invalid request body",
			"data":    nil,
		})
		return
	}
	msg, err := h.service.SendMessage(c.Request.Context(), req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to send message",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    msg,
	})
}

// State 返回控制器状态快照，pendingSend 用于门控输入框。
func (h *ChatHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    h.service.Snapshot(),
	})
}
