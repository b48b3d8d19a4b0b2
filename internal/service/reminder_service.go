package service

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/scheduler"
	"gorm.io/gorm"
)

var (
	// ErrReminderNotFound 在指定提醒不存在时返回
	ErrReminderNotFound = errors.New("reminder not found")
	// ErrReminderInvalid 当提醒配置不合法时返回，该类输入不会被保存
	ErrReminderInvalid = errors.New("invalid reminder configuration")
	// ErrSchedulerUnavailable 表示后台调度引擎暂不可用，配置已保存但未生效
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
)

// SchedulerClient 是提醒服务与后台调度引擎之间的消息边界
type SchedulerClient interface {
	Schedule(req scheduler.Request) error
	Cancel(reminderID string) error
}

// ReminderService 负责提醒配置的增删改查，并把每次保存转换成调度消息。
// 编辑遵循先取消后重建：新的调度请求总是携带完整配置，旧计划先行取消。
type ReminderService struct {
	db    *gorm.DB
	sched SchedulerClient
}

// ReminderInput 定义创建/更新提醒时可配置字段
// CustomDays 使用 0=周日..6=周六 的下标，仅 custom 频率下必填
type ReminderInput struct {
	HabitID          uint
	Frequency        string
	TimeOfDay        string
	CustomDays       []int
	NotificationType string
	Enabled          bool
}

// NewReminderService 构造 ReminderService
func NewReminderService(gdb *gorm.DB, sched SchedulerClient) *ReminderService {
	return &ReminderService{db: gdb, sched: sched}
}

// ListByHabit 返回指定习惯的提醒，按创建时间倒序
func (s *ReminderService) ListByHabit(habitID uint) ([]db.Reminder, error) {
	var reminders []db.Reminder
	if err := s.db.Where("habit_id = ?", habitID).
		Order("created_at DESC").
		Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return reminders, nil
}

// Get 根据 ID 获取提醒
func (s *ReminderService) Get(id uint) (*db.Reminder, error) {
	var reminder db.Reminder
	if err := s.db.First(&reminder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return &reminder, nil
}

// Create 保存新提醒并向调度引擎发送调度消息
func (s *ReminderService) Create(input ReminderInput) (*db.Reminder, error) {
	if err := validateReminderInput(input); err != nil {
		return nil, err
	}

	var habit db.Habit
	if err := s.db.First(&habit, input.HabitID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHabitNotFound
		}
		return nil, fmt.Errorf("find habit: %w", err)
	}

	reminder := db.Reminder{
		PublicID:         uuid.NewString(),
		HabitID:          habit.ID,
		Frequency:        strings.ToLower(strings.TrimSpace(input.Frequency)),
		TimeOfDay:        strings.TrimSpace(input.TimeOfDay),
		CustomDays:       encodeCustomDays(input.CustomDays),
		NotificationType: normalizeNotificationType(input.NotificationType),
		Enabled:          input.Enabled,
	}

	if err := s.db.Create(&reminder).Error; err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	if err := s.syncSchedule(reminder); err != nil {
		return nil, err
	}

	return &reminder, nil
}

// Update 更新提醒配置：旧计划先取消，再按新配置重新调度
func (s *ReminderService) Update(id uint, input ReminderInput) (*db.Reminder, error) {
	if err := validateReminderInput(input); err != nil {
		return nil, err
	}

	var existing db.Reminder
	if err := s.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReminderNotFound
		}
		return nil, fmt.Errorf("find reminder: %w", err)
	}

	if err := s.sched.Cancel(existing.PublicID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)
	}

	existing.Frequency = strings.ToLower(strings.TrimSpace(input.Frequency))
	existing.TimeOfDay = strings.TrimSpace(input.TimeOfDay)
	existing.CustomDays = encodeCustomDays(input.CustomDays)
	existing.NotificationType = normalizeNotificationType(input.NotificationType)
	existing.Enabled = input.Enabled

	if err := s.db.Save(&existing).Error; err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	if err := s.syncSchedule(existing); err != nil {
		return nil, err
	}

	return &existing, nil
}

// Delete 删除提醒并取消其计划，计划不存在时取消为 no-op
func (s *ReminderService) Delete(id uint) error {
	var existing db.Reminder
	if err := s.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReminderNotFound
		}
		return fmt.Errorf("find reminder: %w", err)
	}

	if err := s.sched.Cancel(existing.PublicID); err != nil {
		return fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)
	}

	if err := s.db.Delete(&existing).Error; err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}

	return nil
}

// ReminderPayload 构造调度引擎的内容回读函数：
// 按调度器持有的 reminderID 回读提醒配置，生成通知标题与正文。
// 配置已被删除或读取失败时退回到通用文案。
func ReminderPayload(gdb *gorm.DB) scheduler.PayloadFunc {
	return func(reminderID string) (title, body string) {
		title = "习惯提醒"

		var reminder db.Reminder
		if err := gdb.Preload("Habit").
			Where("public_id = ?", reminderID).
			First(&reminder).Error; err != nil {
			return title, "该去完成你的习惯打卡了"
		}

		return title, fmt.Sprintf("该完成「%s」了", reminder.Habit.Name)
	}
}

// syncSchedule 把提醒配置转换成调度请求发送给引擎
// enabled=false 的请求由引擎转为取消处理
func (s *ReminderService) syncSchedule(reminder db.Reminder) error {
	req := scheduler.Request{
		ReminderID: reminder.PublicID,
		Frequency:  reminder.Frequency,
		TimeOfDay:  reminder.TimeOfDay,
		CustomDays: decodeCustomDays(reminder.CustomDays),
		Enabled:    reminder.Enabled,
	}

	if err := s.sched.Schedule(req); err != nil {
		if errors.Is(err, scheduler.ErrInvalidRequest) {
			return fmt.Errorf("%w: %v", ErrReminderInvalid, err)
		}
		return fmt.Errorf("%w: %v", ErrSchedulerUnavailable, err)
	}

	return nil
}

func validateReminderInput(input ReminderInput) error {
	if input.HabitID == 0 {
		return fmt.Errorf("%w: habit id is required", ErrReminderInvalid)
	}

	frequency := strings.ToLower(strings.TrimSpace(input.Frequency))
	switch frequency {
	case scheduler.FrequencyOnce, scheduler.FrequencyDaily,
		scheduler.FrequencyWeekdays, scheduler.FrequencyWeekends:
	case scheduler.FrequencyCustom:
		if len(input.CustomDays) == 0 {
			return fmt.Errorf("%w: custom frequency requires weekday set", ErrReminderInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported frequency %q", ErrReminderInvalid, input.Frequency)
	}

	for _, day := range input.CustomDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: weekday index %d out of range", ErrReminderInvalid, day)
		}
	}

	if _, _, err := scheduler.ParseTimeOfDay(input.TimeOfDay); err != nil {
		return fmt.Errorf("%w: time of day %q", ErrReminderInvalid, input.TimeOfDay)
	}

	return nil
}

func normalizeNotificationType(notificationType string) string {
	if strings.TrimSpace(strings.ToLower(notificationType)) == "vibration" {
		return "vibration"
	}
	return "sound"
}

func encodeCustomDays(days []int) string {
	if len(days) == 0 {
		return ""
	}

	unique := make(map[int]struct{}, len(days))
	for _, day := range days {
		unique[day] = struct{}{}
	}

	sorted := make([]int, 0, len(unique))
	for day := range unique {
		sorted = append(sorted, day)
	}
	sort.Ints(sorted)

	parts := make([]string, 0, len(sorted))
	for _, day := range sorted {
		parts = append(parts, strconv.Itoa(day))
	}
	return strings.Join(parts, ",")
}

func decodeCustomDays(encoded string) []time.Weekday {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil
	}

	parts := strings.Split(encoded, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		days = append(days, time.Weekday(value))
	}
	return days
}
