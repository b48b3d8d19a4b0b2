package db

import (
	"time"

	"gorm.io/gorm"
)

// Reminder 保存提醒配置，是调度器读取配置的唯一来源
// PublicID 为对外暴露的稳定标识（uuid），调度器与前端均以它为键
// Frequency 支持 once/daily/weekdays/weekends/custom
// CustomDays 仅在 custom 频率下使用，存储逗号分隔的星期下标（0=周日..6=周六）
// TimeOfDay 为设备本地时区的 "15:04" 时刻
type Reminder struct {
	gorm.Model
	PublicID         string `gorm:"uniqueIndex;not null"`
	HabitID          uint   `gorm:"index"`
	Habit            Habit  `gorm:"constraint:OnDelete:CASCADE"`
	Frequency        string
	TimeOfDay        string
	CustomDays       string
	NotificationType string
	Enabled          bool
}

// ScheduledNotification 是调度器的持久化待触发记录
// 每个提醒同一时刻最多保留一条未触发行（reminder_id 唯一）
// FireTime 为绝对触发时间，写入时保证仍在未来
type ScheduledNotification struct {
	gorm.Model
	ReminderID string    `gorm:"uniqueIndex;not null"`
	FireTime   time.Time `gorm:"index"`
}

// Notification 是应用内通知流水，提醒触发后写入一行
// Read 标记用户是否已查看，过期数据由清理任务删除
type Notification struct {
	gorm.Model
	Type       string
	Title      string
	Body       string
	ReminderID string `gorm:"index"`
	Read       bool
}
