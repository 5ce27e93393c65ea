// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-assistant-go/internal/config"
	"chat-assistant-go/internal/handler"
	"chat-assistant-go/internal/middleware"
	"chat-assistant-go/internal/repository"
	"chat-assistant-go/internal/service"
	"chat-assistant-go/pkg/database"
	"chat-assistant-go/pkg/log"
	"chat-assistant-go/pkg/responder"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis。存储不可用不是启动失败：
	//    降级为演示模式，界面呈现空数据而不是崩溃。
	var (
		conversationRepo repository.ConversationRepository
		messageRepo      repository.MessageRepository
	)
	if cfg.Database.MySQL.DSN == "" {
		log.Warnf("未配置数据库 DSN，进入演示模式（空数据，写入不落盘）")
		conversationRepo = repository.NewNoopConversationRepository()
		messageRepo = repository.NewNoopMessageRepository()
	} else if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
		log.Errorf("数据库连接失败，进入演示模式: %v", err)
		conversationRepo = repository.NewNoopConversationRepository()
		messageRepo = repository.NewNoopMessageRepository()
	} else {
		conversationRepo = repository.NewConversationRepository(database.DB)
		messageRepo = repository.NewMessageRepository(database.DB)
	}

	if cfg.Database.Redis.Addr != "" {
		if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
			log.Warnf("Redis 连接失败，跳过缓存层: %v", err)
		}
	}
	cacheTTL := time.Duration(cfg.Chat.ThreadCacheTTLSeconds) * time.Second
	threadCache := repository.NewThreadCacheRepository(database.RDB, cacheTTL)

	// 4. 初始化应答服务客户端与同步控制器 (依赖注入)
	if cfg.Responder.WebhookURL == "" {
		log.Warnf("未配置应答服务 webhook 地址，消息派发将直接走致歉回退路径")
	}
	responderClient := responder.NewClient(cfg.Responder)
	sessionService := service.NewSessionService(conversationRepo, messageRepo, threadCache, responderClient)

	// 5. 启动时预热：加载会话列表，并恢复上次的激活会话
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := sessionService.RefreshConversations(startupCtx); err != nil {
		log.Warnf("启动时加载会话列表失败: %v", err)
	}
	if activeID, err := threadCache.ActiveConversation(startupCtx); err == nil && activeID != "" {
		if _, err := sessionService.SelectConversation(startupCtx, activeID); err != nil {
			log.Warnf("恢复激活会话 %s 失败: %v", activeID, err)
		}
	}
	cancelStartup()

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	conversationHandler := handler.NewConversationHandler(sessionService)
	chatHandler := handler.NewChatHandler(sessionService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		conversations := apiV1.Group("/conversations")
		{
			conversations.GET("", conversationHandler.List)
			conversations.POST("", conversationHandler.Create)
			conversations.PUT("/:id/title", conversationHandler.Rename)
			conversations.DELETE("/:id", conversationHandler.Delete)
			conversations.POST("/:id/select", conversationHandler.Select)
			conversations.GET("/:id/messages", chatHandler.Messages)
		}
		apiV1.POST("/messages", chatHandler.Send)
		apiV1.GET("/state", chatHandler.State)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
