package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/habitlog/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("habitlog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.POST("/api/auth/login", handler.Login)
	r.POST("/api/auth/logout", handler.Logout)

	// 需要认证的 API 路由
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/overview", api.GetOverview)

		auth.GET("/habits", api.ListHabits)
		auth.POST("/habits", api.CreateHabit)
		auth.GET("/habits/heatmap", api.GetHabitHeatmap)
		auth.GET("/habits/:id", api.GetHabit)
		auth.PUT("/habits/:id", api.UpdateHabit)
		auth.DELETE("/habits/:id", api.DeleteHabit)

		auth.GET("/habits/:id/calendar", api.GetHabitCalendar)
		auth.POST("/habits/:id/entries", api.LogHabitEntry)
		auth.DELETE("/habits/:id/entries/:entryId", api.DeleteHabitEntry)

		auth.GET("/habits/:id/reminders", api.ListHabitReminders)
		auth.POST("/habits/:id/reminders", api.CreateHabitReminder)
		auth.PUT("/reminders/:id", api.UpdateReminder)
		auth.DELETE("/reminders/:id", api.DeleteReminder)

		auth.GET("/notifications", api.ListNotifications)
		auth.POST("/notifications/:id/read", api.MarkNotificationRead)
	}

	return r
}
