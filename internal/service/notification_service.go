package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/habitlog/internal/db"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotificationNotFound 在指定通知不存在时返回
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationService 负责应用内通知流水的写入与查询
type NotificationService struct {
	db *gorm.DB
}

// NotificationInput 定义写入通知时的字段
type NotificationInput struct {
	Type       string
	Title      string
	Body       string
	ReminderID string
}

// NewNotificationService 构造 NotificationService
func NewNotificationService(gdb *gorm.DB) *NotificationService {
	return &NotificationService{db: gdb}
}

// Record 写入一条通知
func (s *NotificationService) Record(input NotificationInput) (*db.Notification, error) {
	notification := db.Notification{
		Type:       strings.TrimSpace(input.Type),
		Title:      strings.TrimSpace(input.Title),
		Body:       strings.TrimSpace(input.Body),
		ReminderID: strings.TrimSpace(input.ReminderID),
	}

	if notification.Type == "" {
		notification.Type = "reminder"
	}

	if err := s.db.Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("record notification: %w", err)
	}

	return &notification, nil
}

// List 返回通知流水，按创建时间倒序；onlyUnread 时仅返回未读
func (s *NotificationService) List(onlyUnread bool, limit int) ([]db.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.Model(&db.Notification{}).Order("created_at DESC").Limit(limit)
	if onlyUnread {
		query = query.Where("read = ?", false)
	}

	var notifications []db.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return notifications, nil
}

// UnreadCount 返回未读通知数
func (s *NotificationService) UnreadCount() (int64, error) {
	var count int64
	if err := s.db.Model(&db.Notification{}).Where("read = ?", false).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead 标记单条通知为已读
func (s *NotificationService) MarkRead(id uint) error {
	result := s.db.Model(&db.Notification{}).Where("id = ?", id).Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// PurgeOlderThan 删除早于 cutoff 的通知，返回删除行数
func (s *NotificationService) PurgeOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Unscoped().
		Where("created_at < ?", cutoff).
		Delete(&db.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge notifications: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// FeedNotifier 把触发的提醒写入应用内通知流水，实现调度器的呈现边界。
// 写入失败向调度器返回错误，由其记录日志后丢弃（不重试）。
type FeedNotifier struct {
	notifications *NotificationService
	log           *logrus.Logger
}

// NewFeedNotifier 构造 FeedNotifier
func NewFeedNotifier(notifications *NotificationService, logger *logrus.Logger) *FeedNotifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &FeedNotifier{notifications: notifications, log: logger}
}

// Present 呈现一次提醒触发
func (f *FeedNotifier) Present(reminderID, title, body string) error {
	if _, err := f.notifications.Record(NotificationInput{
		Type:       "reminder",
		Title:      title,
		Body:       body,
		ReminderID: reminderID,
	}); err != nil {
		return err
	}

	f.log.WithField("reminder_id", reminderID).Info("notification presented")
	return nil
}
