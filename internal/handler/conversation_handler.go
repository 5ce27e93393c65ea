// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"chat-assistant-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ConversationHandler 处理会话侧边栏相关的 API 请求。
type ConversationHandler struct {
	service service.SessionService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(service service.SessionService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// List 处理刷新并获取会话列表的请求，返回按 updated_at 降序的完整列表。
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.service.RefreshConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to load conversations",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    conversations,
	})
}

// Create 新建一个占位标题的空会话并将其置为激活。
func (h *ConversationHandler) Create(c *gin.Context) {
	conv, err := h.service.CreateConversation(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to create conversation",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    conv,
	})
}

type renameRequest struct {
	Title string `json:"title"`
}

// Rename 持久化新标题。修剪后为空的标题按契约是空操作，仍返回成功。
func (h *ConversationHandler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "Invalid request body",
			"data":    nil,
		})
		return
	}
	if err := h.service.RenameConversation(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to rename conversation",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    nil,
	})
}

// Delete 删除会话；激活会话被删除时控制器会同时清空激活状态。
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to delete conversation",
			"data":    nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    nil,
	})
}

// Select 将指定会话置为激活并整体加载其消息线程。
func (h *ConversationHandler) Select(c *gin.Context) {
	thread, err := h.service.SelectConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to select conversation",
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
