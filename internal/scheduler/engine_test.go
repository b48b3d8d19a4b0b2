package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// memStore 是 Store 的内存实现，支持注入读写失败
type memStore struct {
	mu         sync.Mutex
	rows       map[string]time.Time
	failPut    error
	failDelete error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]time.Time)}
}

func (s *memStore) Put(reminderID string, fireTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.rows[reminderID] = fireTime
	return nil
}

func (s *memStore) Delete(reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return s.failDelete
	}
	delete(s.rows, reminderID)
	return nil
}

func (s *memStore) All() ([]PendingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]PendingNotification, 0, len(s.rows))
	for id, fireTime := range s.rows {
		pending = append(pending, PendingNotification{ReminderID: id, FireTime: fireTime})
	}
	return pending, nil
}

func (s *memStore) get(reminderID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fireTime, ok := s.rows[reminderID]
	return fireTime, ok
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) setFailDelete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDelete = err
}

// memNotifier 记录每次呈现调用
type memNotifier struct {
	mu          sync.Mutex
	presented   []string
	failPresent error
}

func (n *memNotifier) Present(reminderID, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failPresent != nil {
		return n.failPresent
	}
	n.presented = append(n.presented, reminderID)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.presented)
}

func testPayload(reminderID string) (string, string) {
	return "习惯提醒", reminderID
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func newTestEngine(store Store, notifier Notifier) *Engine {
	return NewEngine(store, notifier, testPayload, testLogger())
}

// startEngine 启动事件循环并在测试结束时等待其退出
func startEngine(t *testing.T, e *Engine) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	t.Cleanup(func() {
		cancel()
		<-e.done
	})

	// 一次空取消往返，确保启动时的对账已完成
	if err := e.Cancel("startup-sync"); err != nil {
		t.Fatalf("startup sync cancel failed: %v", err)
	}
}

func TestEngineSchedulePersistsBeforeArming(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	e := newTestEngine(store, notifier)
	e.now = func() time.Time { return baseTime }
	startEngine(t, e)

	err := e.Schedule(Request{
		ReminderID: "r1",
		Frequency:  FrequencyDaily,
		TimeOfDay:  "08:00",
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	fireTime, ok := store.get("r1")
	if !ok {
		t.Fatal("expected persisted row for r1")
	}
	expected := time.Date(2024, 6, 2, 8, 0, 0, 0, time.Local)
	if !fireTime.Equal(expected) {
		t.Fatalf("expected fire time %v, got %v", expected, fireTime)
	}

	if e.registry.size() != 1 {
		t.Fatalf("expected 1 armed timer, got %d", e.registry.size())
	}
}

func TestEngineRescheduleReplacesExistingPlan(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &memNotifier{})
	e.now = func() time.Time { return baseTime }
	startEngine(t, e)

	first := Request{ReminderID: "r1", Frequency: FrequencyDaily, TimeOfDay: "08:00", Enabled: true}
	if err := e.Schedule(first); err != nil {
		t.Fatalf("first Schedule failed: %v", err)
	}

	second := Request{ReminderID: "r1", Frequency: FrequencyOnce, TimeOfDay: "20:00", Enabled: true}
	if err := e.Schedule(second); err != nil {
		t.Fatalf("second Schedule failed: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected single row after reschedule, got %d", store.count())
	}
	fireTime, _ := store.get("r1")
	expected := time.Date(2024, 6, 1, 20, 0, 0, 0, time.Local)
	if !fireTime.Equal(expected) {
		t.Fatalf("expected fire time %v, got %v", expected, fireTime)
	}

	if e.registry.size() != 1 {
		t.Fatalf("expected single timer after reschedule, got %d", e.registry.size())
	}
}

func TestEngineDisabledRequestClearsPlan(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &memNotifier{})
	e.now = func() time.Time { return baseTime }
	startEngine(t, e)

	enabled := Request{ReminderID: "r1", Frequency: FrequencyDaily, TimeOfDay: "08:00", Enabled: true}
	if err := e.Schedule(enabled); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	disabled := enabled
	disabled.Enabled = false
	if err := e.Schedule(disabled); err != nil {
		t.Fatalf("disabled Schedule failed: %v", err)
	}

	if store.count() != 0 {
		t.Fatalf("expected no rows after disable, got %d", store.count())
	}
	if e.registry.size() != 0 {
		t.Fatalf("expected no timers after disable, got %d", e.registry.size())
	}
}

func TestEngineCancelMissingIsNoop(t *testing.T) {
	e := newTestEngine(newMemStore(), &memNotifier{})
	startEngine(t, e)

	if err := e.Cancel("never-scheduled"); err != nil {
		t.Fatalf("expected no-op cancel, got %v", err)
	}
}

func TestEngineRejectsInvalidRequest(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store, &memNotifier{})
	startEngine(t, e)

	cases := []Request{
		{ReminderID: "", Frequency: FrequencyDaily, TimeOfDay: "08:00", Enabled: true},
		{ReminderID: "r1", Frequency: "hourly", TimeOfDay: "08:00", Enabled: true},
		{ReminderID: "r1", Frequency: FrequencyDaily, TimeOfDay: "8 o'clock", Enabled: true},
		{ReminderID: "r1", Frequency: FrequencyCustom, TimeOfDay: "08:00", Enabled: true},
	}

	for _, req := range cases {
		if err := e.Schedule(req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}

	if store.count() != 0 {
		t.Fatalf("rejected requests must not persist rows, got %d", store.count())
	}
}

func TestEngineStoreFailureLeavesNoTimer(t *testing.T) {
	store := newMemStore()
	store.failPut = errors.New("disk full")
	e := newTestEngine(store, &memNotifier{})
	e.now = func() time.Time { return baseTime }
	startEngine(t, e)

	err := e.Schedule(Request{ReminderID: "r1", Frequency: FrequencyDaily, TimeOfDay: "08:00", Enabled: true})
	if err == nil {
		t.Fatal("expected error when store write fails")
	}

	if e.registry.size() != 0 {
		t.Fatalf("store failure must not leave orphan timer, got %d", e.registry.size())
	}
}

func TestEngineFireDeliversAndConsumesRow(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	e := newTestEngine(store, notifier)
	// 固定时钟落在触发时刻前 50ms，计时器以极短延迟武装
	e.now = func() time.Time {
		return time.Date(2024, 6, 1, 7, 59, 59, 950*int(time.Millisecond), time.Local)
	}
	startEngine(t, e)

	err := e.Schedule(Request{ReminderID: "r1", Frequency: FrequencyOnce, TimeOfDay: "08:00", Enabled: true})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for notifier.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("notification was not presented before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 空取消往返，确保触发处理已在事件循环内完成
	if err := e.Cancel("fire-sync"); err != nil {
		t.Fatalf("sync cancel failed: %v", err)
	}

	if store.count() != 0 {
		t.Fatalf("fired row must be consumed, got %d rows", store.count())
	}
	if e.registry.size() != 0 {
		t.Fatalf("fired timer must be removed, got %d", e.registry.size())
	}
}

func TestEngineStoppedAfterRunExits(t *testing.T) {
	e := newTestEngine(newMemStore(), &memNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	cancel()
	<-e.done

	err := e.Schedule(Request{ReminderID: "r1", Frequency: FrequencyDaily, TimeOfDay: "08:00", Enabled: true})
	if !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped, got %v", err)
	}

	if err := e.Cancel("r1"); !errors.Is(err, ErrEngineStopped) {
		t.Fatalf("expected ErrEngineStopped on cancel, got %v", err)
	}
}

func TestReconcileRearmsFutureRows(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	if err := store.Put("future", baseTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	e := newTestEngine(store, notifier)
	e.now = func() time.Time { return baseTime }
	t.Cleanup(e.registry.stopAll)

	e.reconcile()

	if !e.registry.has("future") {
		t.Fatal("expected future row to be re-armed")
	}
	if notifier.count() != 0 {
		t.Fatalf("future row must not fire during reconciliation, got %d", notifier.count())
	}
	if store.count() != 1 {
		t.Fatalf("future row must be retained, got %d rows", store.count())
	}

	// 重复对账幂等：已持有计时器的行不重复武装
	e.reconcile()
	if e.registry.size() != 1 {
		t.Fatalf("expected single timer after repeated reconcile, got %d", e.registry.size())
	}
}

func TestReconcileFiresPastDueOnce(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	if err := store.Put("missed", baseTime.Add(-3*time.Hour)); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	e := newTestEngine(store, notifier)
	e.now = func() time.Time { return baseTime }
	t.Cleanup(e.registry.stopAll)

	e.reconcile()

	if notifier.count() != 1 {
		t.Fatalf("expected missed row to fire exactly once, got %d", notifier.count())
	}
	if store.count() != 0 {
		t.Fatalf("fired row must be deleted, got %d rows", store.count())
	}
	if e.registry.size() != 0 {
		t.Fatalf("past due row must not arm a timer, got %d", e.registry.size())
	}

	e.reconcile()
	if notifier.count() != 1 {
		t.Fatalf("repeated reconcile must not fire again, got %d", notifier.count())
	}
}

func TestReconcileRetriesWhenDeleteFails(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{}
	if err := store.Put("sticky", baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}
	store.setFailDelete(errors.New("db locked"))

	e := newTestEngine(store, notifier)
	e.now = func() time.Time { return baseTime }
	t.Cleanup(e.registry.stopAll)

	// 删除失败：行保留，触发已呈现
	e.reconcile()
	if notifier.count() != 1 {
		t.Fatalf("expected one presentation, got %d", notifier.count())
	}
	if store.count() != 1 {
		t.Fatal("row must survive failed delete for later retry")
	}

	// 存储恢复后再次对账：至少一次语义允许重复呈现
	store.setFailDelete(nil)
	e.reconcile()
	if notifier.count() != 2 {
		t.Fatalf("expected redelivery after recovery, got %d", notifier.count())
	}
	if store.count() != 0 {
		t.Fatalf("row must be consumed after successful delete, got %d", store.count())
	}
}

func TestReconcilePresentFailureStillConsumesRow(t *testing.T) {
	store := newMemStore()
	notifier := &memNotifier{failPresent: errors.New("permission revoked")}
	if err := store.Put("blocked", baseTime.Add(-time.Minute)); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	e := newTestEngine(store, notifier)
	e.now = func() time.Time { return baseTime }
	t.Cleanup(e.registry.stopAll)

	e.reconcile()

	if store.count() != 0 {
		t.Fatalf("presentation failure must still consume the row, got %d rows", store.count())
	}
}
