package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/service"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	defaultHabitView = "monthly"
	dateFormat       = "2006-01-02"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

type habitPayload struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	HabitType      string `json:"habit_type"`
	FrequencyUnit  string `json:"frequency_unit"`
	FrequencyCount int    `json:"frequency_count"`
	Status         string `json:"status"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
}

type heatmapHabit struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	HabitType string `json:"habit_type"`
}

type heatmapDay struct {
	Date   string         `json:"date"`
	Habits []heatmapHabit `json:"habits"`
}

// ListHabits 返回习惯列表 JSON
func (a *API) ListHabits(c *gin.Context) {
	filter := service.HabitFilter{
		Status:    c.Query("status"),
		HabitType: c.Query("type"),
		Search:    c.Query("search"),
	}

	habits, err := a.habits.List(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取习惯列表失败")
		return
	}

	items := make([]gin.H, 0, len(habits))
	for _, habit := range habits {
		items = append(items, habitToPayload(habit))
	}

	c.JSON(http.StatusOK, gin.H{"habits": items})
}

// GetHabit 返回单个习惯详情，描述以净化后的 HTML 返回
func (a *API) GetHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(id)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	payload := habitToPayload(*habit)
	if rendered, err := renderMarkdown(habit.Description); err == nil {
		payload["description_html"] = rendered
	}

	c.JSON(http.StatusOK, gin.H{"habit": payload})
}

// CreateHabit 创建习惯
func (a *API) CreateHabit(c *gin.Context) {
	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Create(input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// UpdateHabit 更新习惯
func (a *API) UpdateHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	input, ok := parseHabitInput(c)
	if !ok {
		return
	}

	habit, err := a.habits.Update(id, input)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"habit": habitToPayload(*habit)})
}

// DeleteHabit 删除习惯
func (a *API) DeleteHabit(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if err := a.habits.Delete(id); err != nil {
		respondError(c, http.StatusInternalServerError, "删除习惯失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GetHabitCalendar 返回日期区间内的打卡数据和统计
func (a *API) GetHabitCalendar(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	habit, err := a.habits.Get(habitID)
	if err != nil {
		handleHabitError(c, err)
		return
	}

	view := c.DefaultQuery("view", defaultHabitView)
	start, end := resolveRange(c.Query("start"), view)

	filter := service.HabitEntryFilter{HabitID: habit.ID, Start: start, End: end}

	entries, err := a.entries.ListBetween(filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取打卡记录失败")
		return
	}

	stats, err := a.entries.StatsBetween(filter, *habit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "计算统计信息失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"habit":   habitToPayload(*habit),
		"entries": serializeHabitEntries(entries),
		"stats":   serializeHabitStats(stats),
		"range":   gin.H{"start": start.Format(dateFormat), "end": end.Format(dateFormat), "view": view},
	})
}

// LogHabitEntry 记录一次打卡（同一天重复提交为更新）
func (a *API) LogHabitEntry(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	if _, err := a.habits.Get(habitID); err != nil {
		handleHabitError(c, err)
		return
	}

	var payload struct {
		EntryDate string `json:"entry_date"` // 2006-01-02
		Status    string `json:"status"`     // done/skipped，默认 done
		Note      string `json:"note"`
	}

	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	if payload.EntryDate == "" {
		respondError(c, http.StatusBadRequest, "请选择打卡日期")
		return
	}

	entryDate, err := time.ParseInLocation(dateFormat, payload.EntryDate, time.Local)
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡日期")
		return
	}

	entry, err := a.entries.Upsert(service.HabitEntryInput{
		HabitID:   habitID,
		EntryDate: entryDate,
		Status:    payload.Status,
		Note:      payload.Note,
		Source:    "manual",
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "保存打卡记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entry": serializeHabitEntry(*entry)})
}

// DeleteHabitEntry 删除单条打卡
func (a *API) DeleteHabitEntry(c *gin.Context) {
	habitID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的习惯ID")
		return
	}

	entryID, err := parseUintParam(c, "entryId")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的打卡记录ID")
		return
	}

	if err := a.entries.Delete(entryID); err != nil {
		respondError(c, http.StatusInternalServerError, "删除打卡记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true, "habit_id": habitID})
}

// GetHabitHeatmap 返回过去一年的习惯打卡热力图
func (a *API) GetHabitHeatmap(c *gin.Context) {
	now := time.Now().In(time.Local)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -364)

	rows, err := a.entries.HeatmapRange(start, end)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "获取热力图数据失败")
		return
	}

	dayMap := make(map[string][]heatmapHabit)
	for _, row := range rows {
		habit := heatmapHabit{ID: row.HabitID, Name: row.HabitName, HabitType: row.HabitType}
		key := row.EntryDate.Format(dateFormat)
		dayMap[key] = append(dayMap[key], habit)
	}

	days := make([]heatmapDay, 0, len(dayMap))
	for date, habits := range dayMap {
		days = append(days, heatmapDay{Date: date, Habits: habits})
	}

	c.JSON(http.StatusOK, gin.H{
		"range": gin.H{"start": start.Format(dateFormat), "end": end.Format(dateFormat)},
		"days":  days,
		"summary": gin.H{
			"total_entries": len(rows),
			"active_days":   len(dayMap),
		},
	})
}

func parseHabitInput(c *gin.Context) (service.HabitInput, bool) {
	var payload habitPayload

	if !bindJSON(c, &payload, "请求参数不合法") {
		return service.HabitInput{}, false
	}

	startPtr, ok := parseOptionalDate(payload.StartDate)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的开始日期")
		return service.HabitInput{}, false
	}
	endPtr, ok := parseOptionalDate(payload.EndDate)
	if !ok {
		respondError(c, http.StatusBadRequest, "无效的结束日期")
		return service.HabitInput{}, false
	}

	input := service.HabitInput{
		Name:           payload.Name,
		Description:    payload.Description,
		HabitType:      payload.HabitType,
		FrequencyUnit:  payload.FrequencyUnit,
		FrequencyCount: payload.FrequencyCount,
		Status:         payload.Status,
		StartDate:      startPtr,
		EndDate:        endPtr,
	}

	if input.FrequencyCount == 0 {
		respondError(c, http.StatusBadRequest, "目标频率不能为空")
		return service.HabitInput{}, false
	}

	return input, true
}

func parseOptionalDate(value string) (*time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}

	t, err := time.ParseInLocation(dateFormat, value, time.Local)
	if err != nil {
		return nil, false
	}

	return &t, true
}

func habitToPayload(habit db.Habit) gin.H {
	item := gin.H{
		"id":              habit.ID,
		"name":            habit.Name,
		"description":     habit.Description,
		"habit_type":      habit.HabitType,
		"frequency_unit":  habit.FrequencyUnit,
		"frequency_count": habit.FrequencyCount,
		"status":          habit.Status,
	}

	if habit.StartDate != nil {
		item["start_date"] = habit.StartDate.Format(dateFormat)
	}
	if habit.EndDate != nil {
		item["end_date"] = habit.EndDate.Format(dateFormat)
	}

	return item
}

func serializeHabitEntries(entries []db.HabitEntry) []gin.H {
	items := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		items = append(items, serializeHabitEntry(entry))
	}
	return items
}

func serializeHabitEntry(entry db.HabitEntry) gin.H {
	return gin.H{
		"id":         entry.ID,
		"habit_id":   entry.HabitID,
		"entry_date": entry.EntryDate.Format(dateFormat),
		"status":     entry.Status,
		"source":     entry.Source,
		"note":       entry.Note,
	}
}

func serializeHabitStats(stats *service.HabitStats) gin.H {
	return gin.H{
		"range_start":        stats.RangeStart.Format(dateFormat),
		"range_end":          stats.RangeEnd.Format(dateFormat),
		"completed_count":    stats.CompletedCount,
		"target_count":       stats.TargetCount,
		"completion_rate":    stats.CompletionRate,
		"current_streak":     stats.CurrentStreak,
		"longest_streak":     stats.LongestStreak,
		"milestones_reached": stats.MilestonesReached,
		"next_milestone":     stats.NextMilestone,
	}
}

func resolveRange(startStr, view string) (time.Time, time.Time) {
	var start time.Time
	var err error

	if startStr != "" {
		start, err = time.ParseInLocation(dateFormat, startStr, time.Local)
	}
	if err != nil || startStr == "" {
		today := time.Now()
		start = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	}

	switch strings.ToLower(view) {
	case "weekly":
		weekday := int(start.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = start.AddDate(0, 0, -weekday+1)
		end := start.AddDate(0, 0, 6)
		return start, end
	default:
		start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		end := start.AddDate(0, 1, -1)
		return start, end
	}
}

func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

func handleHabitError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHabitNotFound):
		respondError(c, http.StatusNotFound, "习惯不存在")
	case errors.Is(err, service.ErrHabitInvalidFrequency):
		respondError(c, http.StatusBadRequest, "频率配置无效")
	case errors.Is(err, service.ErrHabitInvalidType):
		respondError(c, http.StatusBadRequest, "习惯类型无效")
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
