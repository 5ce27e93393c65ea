// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件与环境变量加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Responder ResponderConfig `mapstructure:"responder"`
	Chat      ChatConfig      `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储托管 MySQL 数据库的配置。
// DSN 为空时服务进入演示模式：所有存储操作退化为无害的空操作。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时跳过缓存层。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ResponderConfig 存储外部自动化应答服务（webhook）的配置。
type ResponderConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	// TimeoutSeconds 是单次 HTTP 派发的超时时间，没有重试。
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// ReloadDelaySeconds 是派发后重新拉取消息列表前的固定延迟。
	ReloadDelaySeconds int `mapstructure:"reload_delay_seconds"`
	// FallbackDelaySeconds 是派发失败后插入致歉消息前的固定延迟。
	FallbackDelaySeconds int `mapstructure:"fallback_delay_seconds"`
}

// ChatConfig 存储会话层面的配置。
type ChatConfig struct {
	// DefaultTitle 是新建会话的占位标题。
	DefaultTitle string `mapstructure:"default_title"`
	// ThreadCacheTTLSeconds 是渲染后消息线程在 Redis 中的缓存时长。
	ThreadCacheTTLSeconds int `mapstructure:"thread_cache_ttl_seconds"`
}

// Init 初始化配置加载：先读取 YAML 文件，再叠加 CHAT_ 前缀的环境变量。
// 配置文件缺失不致命（纯环境变量部署），其他解析错误会 panic。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	setDefaults()

	viper.SetEnvPrefix("chat")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "配置文件 %s 不存在，仅使用环境变量和默认值\n", configPath)
		} else {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				panic(fmt.Errorf("读取配置文件失败: %w", err))
			}
		}
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

// setDefaults 设置与原始部署行为一致的默认值。
// 凭据类键也要注册空默认值，否则纯环境变量部署时 viper 不认识这些键，
// AutomaticEnv 叠加不上对应的 CHAT_* 变量。
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.mysql.dsn", "")
	viper.SetDefault("database.redis.addr", "")
	viper.SetDefault("database.redis.password", "")
	viper.SetDefault("database.redis.db", 0)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output_path", "")
	viper.SetDefault("responder.webhook_url", "")
	viper.SetDefault("responder.timeout_seconds", 30)
	viper.SetDefault("responder.reload_delay_seconds", 3)
	viper.SetDefault("responder.fallback_delay_seconds", 2)
	viper.SetDefault("chat.default_title", "New conversation")
	viper.SetDefault("chat.thread_cache_ttl_seconds", 60)
}
