package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier 是平台通知的呈现边界，呈现失败由调度器记录日志后丢弃
type Notifier interface {
	Present(reminderID, title, body string) error
}

// PayloadFunc 按 reminderID 取回通知标题与正文，通常回读提醒配置存储
type PayloadFunc func(reminderID string) (title, body string)

// Request 描述一次调度请求。
// 由前台在每次保存提醒时重新构造，发送后不再修改；
// Enabled 为 false 时等价于取消该 id 的既有计划。
type Request struct {
	ReminderID string
	Frequency  string
	TimeOfDay  string
	CustomDays []time.Weekday
	Enabled    bool
}

// ErrEngineStopped 在引擎事件循环已退出后提交请求时返回
var ErrEngineStopped = errors.New("scheduler engine stopped")

type opKind int

const (
	opSchedule opKind = iota
	opCancel
	opFire
)

type envelope struct {
	kind  opKind
	req   Request
	id    string
	reply chan error
}

// Engine 是提醒调度的状态机，按单事件循环处理调度/取消/触发消息。
// 计时器注册表只在 Run 的 goroutine 中访问，同一 reminderID 的
// schedule/cancel/fire 操作按到达顺序全序执行，取消与触发之间不存在竞态。
// 持久化记录是跨进程重启的唯一事实来源，计时器是它的易失缓存。
type Engine struct {
	store    Store
	notifier Notifier
	payload  PayloadFunc
	now      func() time.Time
	log      *logrus.Logger
	registry *timerRegistry
	inbox    chan envelope
	done     chan struct{}
}

// NewEngine 构造调度引擎，Schedule/Cancel 需在 Run 启动后调用
func NewEngine(store Store, notifier Notifier, payload PayloadFunc, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}

	return &Engine{
		store:    store,
		notifier: notifier,
		payload:  payload,
		now:      time.Now,
		log:      logger,
		registry: newTimerRegistry(),
		inbox:    make(chan envelope, 64),
		done:     make(chan struct{}),
	}
}

// Schedule 提交调度请求并等待事件循环处理完成。
// 返回 ErrInvalidRequest 的包装错误表示请求被同步拒绝；
// 持久化写入失败时该提醒不视为已调度，错误原样上抛。
func (e *Engine) Schedule(req Request) error {
	return e.submit(envelope{kind: opSchedule, req: req, reply: make(chan error, 1)})
}

// Cancel 取消指定提醒的计划，不存在计划时为 no-op
func (e *Engine) Cancel(reminderID string) error {
	return e.submit(envelope{kind: opCancel, id: reminderID, reply: make(chan error, 1)})
}

func (e *Engine) submit(env envelope) error {
	select {
	case e.inbox <- env:
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case err := <-env.reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	}
}

// Run 启动事件循环：先执行一次对账重建计时器，之后顺序消费消息直到 ctx 结束
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	defer e.registry.stopAll()

	e.reconcile()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("scheduler engine stopped")
			return
		case env := <-e.inbox:
			switch env.kind {
			case opSchedule:
				env.reply <- e.handleSchedule(env.req)
			case opCancel:
				env.reply <- e.handleCancel(env.id)
			case opFire:
				e.handleFire(env.id)
			}
		}
	}
}

func (e *Engine) handleSchedule(req Request) error {
	id := strings.TrimSpace(req.ReminderID)
	if id == "" {
		return fmt.Errorf("%w: empty reminder id", ErrInvalidRequest)
	}

	// enabled=false：不武装计时器，并清理该 id 的既有计划
	if !req.Enabled {
		return e.handleCancel(id)
	}

	now := e.now()
	fireTime, err := NextFireTime(now, req.Frequency, req.TimeOfDay, req.CustomDays)
	if err != nil {
		return err
	}

	// 先落库再武装：写入失败时不得留下孤儿计时器
	if err := e.store.Put(id, fireTime); err != nil {
		return fmt.Errorf("persist scheduled notification: %w", err)
	}

	e.armAt(id, fireTime, now)
	e.log.WithFields(logrus.Fields{
		"reminder_id": id,
		"fire_time":   fireTime.Format(time.RFC3339),
	}).Info("reminder scheduled")

	return nil
}

func (e *Engine) handleCancel(id string) error {
	e.registry.cancel(id)
	if err := e.store.Delete(id); err != nil {
		return fmt.Errorf("cancel scheduled notification: %w", err)
	}
	return nil
}

// handleFire 处理计时器到期：触发已进入事件循环后不可被取消撤回
func (e *Engine) handleFire(id string) {
	e.registry.remove(id)
	e.dispatch(id)
}

// armAt 为 id 武装一个到 fireTime 的计时器，到期后把触发消息投回事件循环
func (e *Engine) armAt(id string, fireTime, now time.Time) {
	e.registry.arm(id, fireTime.Sub(now), func() {
		e.enqueueFire(id)
	})
}

func (e *Engine) enqueueFire(id string) {
	select {
	case e.inbox <- envelope{kind: opFire, id: id}:
	case <-e.done:
	}
}

// dispatch 呈现通知并消费对应持久化行。
// 呈现失败（权限被收回等）记录日志后仍删除记录，该次触发视为已消费；
// 删除失败记录日志并保留行，下次对账时会再触发一次（至少一次送达）。
func (e *Engine) dispatch(id string) {
	title, body := e.payload(id)

	if err := e.notifier.Present(id, title, body); err != nil {
		e.log.WithError(err).WithField("reminder_id", id).Warn("present notification failed")
	}

	if err := e.store.Delete(id); err != nil {
		e.log.WithError(err).WithField("reminder_id", id).Error("delete fired notification failed")
		return
	}

	e.log.WithField("reminder_id", id).Info("reminder fired")
}

// reconcile 从持久化记录重建计时器。
// 仍在未来的行按剩余延迟重新武装；已到期的行视为离线期间错过，
// 立即触发一次后删除。重复执行幂等，已持有计时器的行不会被重复武装。
func (e *Engine) reconcile() {
	rows, err := e.store.All()
	if err != nil {
		e.log.WithError(err).Error("load scheduled notifications failed")
		return
	}

	now := e.now()
	for _, row := range rows {
		if e.registry.has(row.ReminderID) {
			continue
		}

		if row.FireTime.After(now) {
			e.armAt(row.ReminderID, row.FireTime, now)
			continue
		}

		e.log.WithFields(logrus.Fields{
			"reminder_id": row.ReminderID,
			"fire_time":   row.FireTime.Format(time.RFC3339),
		}).Warn("scheduled notification already due, firing immediately")
		e.dispatch(row.ReminderID)
	}

	e.log.WithField("armed", e.registry.size()).Info("scheduler reconciliation finished")
}
