package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/service"
)

type reminderPayload struct {
	Frequency        string `json:"frequency"`
	TimeOfDay        string `json:"time_of_day"` // 15:04
	CustomDays       []int  `json:"custom_days"` // 0=周日..6=周六
	NotificationType string `json:"notification_type"`
	Enabled          bool   `json:"enabled"`
}

// ListHabitReminders 返回指定习惯的提醒列表
func (a *API) ListHabitReminders(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if _, err := a.habits.Get(habitID); err != nil {
		handleHabitError(c, err)
		return
	}

	reminders, err := a.reminders.ListByHabit(habitID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取提醒列表失败")
		return
	}

	items := make([]gin.H, 0, len(reminders))
	for _, reminder := range reminders {
		items = append(items, reminderToPayload(reminder))
	}

	c.JSON(http.StatusOK, gin.H{"reminders": items})
}

// CreateHabitReminder 为习惯创建提醒并触发后台调度
func (a *API) CreateHabitReminder(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	var payload reminderPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	reminder, err := a.reminders.Create(service.ReminderInput{
		HabitID:          habitID,
		Frequency:        payload.Frequency,
		TimeOfDay:        payload.TimeOfDay,
		CustomDays:       payload.CustomDays,
		NotificationType: payload.NotificationType,
		Enabled:          payload.Enabled,
	})
	if err != nil {
		handleReminderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reminder": reminderToPayload(*reminder)})
}

// UpdateReminder 更新提醒配置，旧计划先取消再重建
func (a *API) UpdateReminder(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的提醒ID")
		return
	}

	existing, err := a.reminders.Get(id)
	if err != nil {
		handleReminderError(c, err)
		return
	}

	var payload reminderPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	reminder, err := a.reminders.Update(id, service.ReminderInput{
		HabitID:          existing.HabitID,
		Frequency:        payload.Frequency,
		TimeOfDay:        payload.TimeOfDay,
		CustomDays:       payload.CustomDays,
		NotificationType: payload.NotificationType,
		Enabled:          payload.Enabled,
	})
	if err != nil {
		handleReminderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reminder": reminderToPayload(*reminder)})
}

// DeleteReminder 删除提醒并取消其计划
func (a *API) DeleteReminder(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的提醒ID")
		return
	}

	if err := a.reminders.Delete(id); err != nil {
		handleReminderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func reminderToPayload(reminder db.Reminder) gin.H {
	item := gin.H{
		"id":                reminder.ID,
		"public_id":         reminder.PublicID,
		"habit_id":          reminder.HabitID,
		"frequency":         reminder.Frequency,
		"time_of_day":       reminder.TimeOfDay,
		"notification_type": reminder.NotificationType,
		"enabled":           reminder.Enabled,
		"created_at":        reminder.CreatedAt.Format(time.RFC3339),
	}

	if reminder.CustomDays != "" {
		item["custom_days"] = reminder.CustomDays
	}

	return item
}

func handleReminderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrReminderNotFound):
		respondError(c, http.StatusNotFound, "提醒不存在")
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrReminderInvalid):
		respondError(c, http.StatusBadRequest, "提醒配置无效")
	case errors.Is(err, service.ErrSchedulerUnavailable):
		respondError(c, http.StatusServiceUnavailable, "后台调度暂不可用，请稍后重试")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
