package database

import (
	"time"

	"chat-assistant-go/internal/model"
	"chat-assistant-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化托管 MySQL 数据库连接并迁移规范表结构。
// 与致命退出不同，这里把错误交给调用方：DSN 缺失或连接失败时服务
// 以演示模式继续运行（空数据、无害写入），而不是启动失败。
func InitMySQL(dsn string) error {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		DB = nil
		return err
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		DB = nil
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 迁移规范表。旧版 chat_automation 表不在迁移范围内，只读兼容。
	if err := DB.AutoMigrate(&model.Conversation{}, &model.Message{}); err != nil {
		return err
	}

	log.Info("MySQL database connected successfully")
	return nil
}
