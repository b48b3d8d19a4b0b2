package db

import (
	"time"

	"gorm.io/gorm"
)

// Habit 定义了习惯模型
// HabitType 区分 good/bad 两类习惯，统计与筛选均依赖该字段
// 频率通过 FrequencyUnit/FrequencyCount 描述，例如 unit=daily/count=1
// Status 使用 active/inactive 控制列表展示
// StartDate/EndDate 便于未来扩展有效期，暂未强制使用
type Habit struct {
	gorm.Model
	Name           string
	Description    string
	HabitType      string
	FrequencyUnit  string
	FrequencyCount int
	Status         string
	StartDate      *time.Time
	EndDate        *time.Time
}

// HabitEntry 记录习惯每日完成情况
// Habit + EntryDate 采用唯一索引，保证同一天重复提交幂等
// Status 为 done/skipped，Source 标记来源（manual/admin 等）
type HabitEntry struct {
	gorm.Model
	HabitID   uint      `gorm:"index;index:idx_habit_entry_unique,unique"`
	Habit     Habit     `gorm:"constraint:OnDelete:CASCADE"`
	EntryDate time.Time `gorm:"index:idx_habit_entry_unique,unique"`
	Status    string
	Source    string
	Note      string
}

// TableName 重写确保唯一索引作用到 habit_id + entry_date
func (HabitEntry) TableName() string {
	return "habit_entries"
}
