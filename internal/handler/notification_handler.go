package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/service"
)

// ListNotifications 返回应用内通知流水
func (a *API) ListNotifications(c *gin.Context) {
	onlyUnread := c.Query("unread") == "true"

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	notifications, err := a.notifications.List(onlyUnread, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取通知失败")
		return
	}

	unread, err := a.notifications.UnreadCount()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取通知失败")
		return
	}

	items := make([]gin.H, 0, len(notifications))
	for _, notification := range notifications {
		items = append(items, serializeNotification(notification))
	}

	c.JSON(http.StatusOK, gin.H{"notifications": items, "unread_count": unread})
}

// MarkNotificationRead 标记通知为已读
func (a *API) MarkNotificationRead(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的通知ID")
		return
	}

	if err := a.notifications.MarkRead(id); err != nil {
		if errors.Is(err, service.ErrNotificationNotFound) {
			respondError(c, http.StatusNotFound, "通知不存在")
			return
		}
		respondError(c, http.StatusInternalServerError, "操作失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": true})
}

// GetOverview 返回首页概览数据
func (a *API) GetOverview(c *gin.Context) {
	var habitCount int64
	a.db.Model(&db.Habit{}).Where("status = ?", "active").Count(&habitCount)

	var entryCount int64
	today := time.Now()
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	a.db.Model(&db.HabitEntry{}).Where("entry_date = ?", todayDate).Count(&entryCount)

	unread, err := a.notifications.UnreadCount()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取概览失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active_habits":        habitCount,
		"today_entries":        entryCount,
		"unread_notifications": unread,
	})
}

func serializeNotification(notification db.Notification) gin.H {
	return gin.H{
		"id":          notification.ID,
		"type":        notification.Type,
		"title":       notification.Title,
		"body":        notification.Body,
		"reminder_id": notification.ReminderID,
		"read":        notification.Read,
		"created_at":  notification.CreatedAt.Format(time.RFC3339),
	}
}
