package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitlog/internal/config"
	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/handler"
	"github.com/habitlog/internal/router"
	"github.com/habitlog/internal/scheduler"
	"github.com/habitlog/internal/service"
	"github.com/sirupsen/logrus"
)

// notificationRetention 应用内通知的保留期限
const notificationRetention = 30 * 24 * time.Hour

func main() {
	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	logger := logrus.New()
	logger.Out = os.Stdout
	logger.SetFormatter(&logrus.JSONFormatter{})

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		logger.WithError(err).Fatal("failed to initialize database")
	}

	// 确保管理账号存在
	if err := db.EnsureUser(cfg.AdminUserName, cfg.AdminPassword); err != nil {
		logger.WithError(err).Fatal("failed to ensure admin user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 组装调度引擎：持久化存储 + 应用内通知呈现 + 配置回读
	// Run 启动时自动执行一次对账，重建重启前遗留的计时器
	notifications := service.NewNotificationService(db.DB)
	engine := scheduler.NewEngine(
		scheduler.NewGormStore(db.DB),
		service.NewFeedNotifier(notifications, logger),
		service.ReminderPayload(db.DB),
		logger,
	)
	go engine.Run(ctx)

	// 清理过期通知
	if purged, err := notifications.PurgeOlderThan(time.Now().Add(-notificationRetention)); err != nil {
		logger.WithError(err).Warn("failed to purge stale notifications")
	} else if purged > 0 {
		logger.WithField("purged", purged).Info("stale notifications purged")
	}

	// 设置并运行 Gin 服务器
	api := handler.NewAPI(db.DB, engine)
	r := router.SetupRouter(api, cfg.SessionSecret)
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.WithError(err).Fatal("failed to run server")
	}
}
