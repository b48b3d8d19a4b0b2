package scheduler

import (
	"fmt"
	"time"

	"github.com/habitlog/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingNotification 是持久化待触发记录的读取投影
type PendingNotification struct {
	ReminderID string
	FireTime   time.Time
}

// Store 是调度引擎的持久化边界
// 以 reminderID 为键，每个提醒至多保留一条待触发记录；
// 单键 put/delete 即可满足语义，不要求跨键事务
type Store interface {
	Put(reminderID string, fireTime time.Time) error
	Delete(reminderID string) error
	All() ([]PendingNotification, error)
}

// GormStore 基于 gorm + sqlite 的 Store 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 GormStore
func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

// Put 写入或更新指定提醒的待触发记录（reminder_id 唯一索引上的 upsert）
func (s *GormStore) Put(reminderID string, fireTime time.Time) error {
	record := db.ScheduledNotification{
		ReminderID: reminderID,
		FireTime:   fireTime,
	}

	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reminder_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fire_time", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("put scheduled notification: %w", err)
	}

	return nil
}

// Delete 删除指定提醒的待触发记录，记录不存在时为 no-op。
// 使用物理删除，避免软删除行残留在唯一索引上阻塞后续 upsert。
func (s *GormStore) Delete(reminderID string) error {
	if err := s.db.Unscoped().
		Where("reminder_id = ?", reminderID).
		Delete(&db.ScheduledNotification{}).Error; err != nil {
		return fmt.Errorf("delete scheduled notification: %w", err)
	}
	return nil
}

// All 返回全部待触发记录，按触发时间升序
func (s *GormStore) All() ([]PendingNotification, error) {
	var rows []db.ScheduledNotification
	if err := s.db.Order("fire_time ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list scheduled notifications: %w", err)
	}

	pending := make([]PendingNotification, 0, len(rows))
	for _, row := range rows {
		pending = append(pending, PendingNotification{
			ReminderID: row.ReminderID,
			FireTime:   row.FireTime,
		})
	}

	return pending, nil
}
