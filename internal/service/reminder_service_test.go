package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/habitlog/internal/db"
	"github.com/habitlog/internal/scheduler"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeScheduler 按顺序记录收到的调度消息
type fakeScheduler struct {
	ops          []string
	lastRequest  scheduler.Request
	scheduleErr  error
	cancelErr    error
	scheduleSeen int
}

func (f *fakeScheduler) Schedule(req scheduler.Request) error {
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	f.scheduleSeen++
	f.lastRequest = req
	f.ops = append(f.ops, "schedule:"+req.ReminderID)
	return nil
}

func (f *fakeScheduler) Cancel(reminderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.ops = append(f.ops, "cancel:"+reminderID)
	return nil
}

func setupReminderTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.Habit{}, &db.Reminder{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func seedHabit(t *testing.T) *db.Habit {
	t.Helper()
	habit := db.Habit{Name: "晨跑", HabitType: "good", FrequencyUnit: "daily", FrequencyCount: 1, Status: "active"}
	if err := db.DB.Create(&habit).Error; err != nil {
		t.Fatalf("failed to seed habit: %v", err)
	}
	return &habit
}

func TestReminderServiceCreateSchedules(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	reminder, err := svc.Create(ReminderInput{
		HabitID:          habit.ID,
		Frequency:        "daily",
		TimeOfDay:        "08:00",
		NotificationType: "sound",
		Enabled:          true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if reminder.PublicID == "" {
		t.Fatal("expected reminder to have public id")
	}

	if sched.scheduleSeen != 1 {
		t.Fatalf("expected 1 schedule call, got %d", sched.scheduleSeen)
	}

	if sched.lastRequest.ReminderID != reminder.PublicID {
		t.Fatalf("schedule request carries wrong id: %s", sched.lastRequest.ReminderID)
	}

	if sched.lastRequest.Frequency != "daily" || sched.lastRequest.TimeOfDay != "08:00" {
		t.Fatalf("unexpected schedule request: %+v", sched.lastRequest)
	}

	if !sched.lastRequest.Enabled {
		t.Fatal("expected enabled schedule request")
	}
}

func TestReminderServiceCreateValidates(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	cases := []ReminderInput{
		{HabitID: habit.ID, Frequency: "hourly", TimeOfDay: "08:00", Enabled: true},
		{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "八点", Enabled: true},
		{HabitID: habit.ID, Frequency: "custom", TimeOfDay: "08:00", Enabled: true},
		{HabitID: habit.ID, Frequency: "custom", TimeOfDay: "08:00", CustomDays: []int{9}, Enabled: true},
		{HabitID: 0, Frequency: "daily", TimeOfDay: "08:00", Enabled: true},
	}

	for _, input := range cases {
		if _, err := svc.Create(input); !errors.Is(err, ErrReminderInvalid) {
			t.Fatalf("expected ErrReminderInvalid for %+v, got %v", input, err)
		}
	}

	var count int64
	if err := db.DB.Model(&db.Reminder{}).Count(&count).Error; err != nil {
		t.Fatalf("count reminders failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("invalid input must not be saved, got %d rows", count)
	}

	if len(sched.ops) != 0 {
		t.Fatalf("invalid input must not reach scheduler, got %v", sched.ops)
	}
}

func TestReminderServiceCreateUnknownHabit(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	svc := NewReminderService(db.DB, &fakeScheduler{})

	_, err := svc.Create(ReminderInput{HabitID: 42, Frequency: "daily", TimeOfDay: "08:00", Enabled: true})
	if !errors.Is(err, ErrHabitNotFound) {
		t.Fatalf("expected ErrHabitNotFound, got %v", err)
	}
}

func TestReminderServiceUpdateCancelsBeforeReschedule(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	reminder, err := svc.Create(ReminderInput{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "08:00", Enabled: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	updated, err := svc.Update(reminder.ID, ReminderInput{
		HabitID:   habit.ID,
		Frequency: "weekends",
		TimeOfDay: "10:30",
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	if updated.Frequency != "weekends" || updated.TimeOfDay != "10:30" {
		t.Fatalf("unexpected updated reminder: %+v", updated)
	}

	expected := []string{
		"schedule:" + reminder.PublicID,
		"cancel:" + reminder.PublicID,
		"schedule:" + reminder.PublicID,
	}
	if len(sched.ops) != len(expected) {
		t.Fatalf("expected ops %v, got %v", expected, sched.ops)
	}
	for i, op := range expected {
		if sched.ops[i] != op {
			t.Fatalf("expected ops %v, got %v", expected, sched.ops)
		}
	}
}

func TestReminderServiceDeleteCancels(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	reminder, err := svc.Create(ReminderInput{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "08:00", Enabled: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := svc.Delete(reminder.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	last := sched.ops[len(sched.ops)-1]
	if last != "cancel:"+reminder.PublicID {
		t.Fatalf("expected trailing cancel, got %v", sched.ops)
	}

	if _, err := svc.Get(reminder.ID); !errors.Is(err, ErrReminderNotFound) {
		t.Fatalf("expected ErrReminderNotFound after delete, got %v", err)
	}
}

func TestReminderServiceSchedulerUnavailable(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{scheduleErr: fmt.Errorf("engine restarting")}
	svc := NewReminderService(db.DB, sched)

	_, err := svc.Create(ReminderInput{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "08:00", Enabled: true})
	if !errors.Is(err, ErrSchedulerUnavailable) {
		t.Fatalf("expected ErrSchedulerUnavailable, got %v", err)
	}
}

func TestReminderServiceCustomDaysRoundTrip(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	reminder, err := svc.Create(ReminderInput{
		HabitID:    habit.ID,
		Frequency:  "custom",
		TimeOfDay:  "07:30",
		CustomDays: []int{3, 1, 1},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// 去重并升序存储
	if reminder.CustomDays != "1,3" {
		t.Fatalf("expected encoded custom days 1,3, got %s", reminder.CustomDays)
	}

	days := sched.lastRequest.CustomDays
	if len(days) != 2 || days[0] != time.Monday || days[1] != time.Wednesday {
		t.Fatalf("unexpected decoded custom days: %v", days)
	}
}

func TestReminderPayloadReadsHabitName(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	svc := NewReminderService(db.DB, &fakeScheduler{})

	reminder, err := svc.Create(ReminderInput{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "08:00", Enabled: true})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	payload := ReminderPayload(db.DB)

	title, body := payload(reminder.PublicID)
	if title == "" {
		t.Fatal("expected non-empty title")
	}
	if body != "该完成「晨跑」了" {
		t.Fatalf("unexpected body: %s", body)
	}

	// 配置已删除时退回通用文案
	_, fallback := payload("missing-id")
	if fallback != "该去完成你的习惯打卡了" {
		t.Fatalf("unexpected fallback body: %s", fallback)
	}
}

func TestReminderServiceDisabledStillSyncs(t *testing.T) {
	cleanup := setupReminderTestDB(t)
	defer cleanup()

	habit := seedHabit(t)
	sched := &fakeScheduler{}
	svc := NewReminderService(db.DB, sched)

	_, err := svc.Create(ReminderInput{HabitID: habit.ID, Frequency: "daily", TimeOfDay: "08:00", Enabled: false})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if sched.scheduleSeen != 1 {
		t.Fatalf("expected schedule call for disabled reminder, got %d", sched.scheduleSeen)
	}
	if sched.lastRequest.Enabled {
		t.Fatal("expected disabled schedule request")
	}
}
