package handler

import (
	"github.com/habitlog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	habits        *service.HabitService
	entries       *service.HabitEntryService
	reminders     *service.ReminderService
	notifications *service.NotificationService
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, sched service.SchedulerClient) *API {
	return &API{
		db:            gdb,
		habits:        service.NewHabitService(gdb),
		entries:       service.NewHabitEntryService(gdb),
		reminders:     service.NewReminderService(gdb, sched),
		notifications: service.NewNotificationService(gdb),
	}
}

// DB exposes the underlying gorm instance for legacy paths.
func (a *API) DB() *gorm.DB {
	return a.db
}
