package scheduler

import "time"

// timerRegistry 维护 reminderID 到活动延迟计时器的映射。
// 映射只在引擎事件循环的 goroutine 中访问，同一 id 至多持有一个计时器；
// 进程退出后计时器全部失效，需由持久化记录重建。
type timerRegistry struct {
	timers map[string]*time.Timer
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{timers: make(map[string]*time.Timer)}
}

// arm 为指定 id 启动计时器，已有计时器时先取消旧的
func (r *timerRegistry) arm(id string, delay time.Duration, onFire func()) {
	r.cancel(id)
	r.timers[id] = time.AfterFunc(delay, onFire)
}

// cancel 停止并移除指定 id 的计时器，不存在时为 no-op
func (r *timerRegistry) cancel(id string) {
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
}

// remove 仅移除映射项，用于计时器已自行触发的场合
func (r *timerRegistry) remove(id string) {
	delete(r.timers, id)
}

func (r *timerRegistry) has(id string) bool {
	_, ok := r.timers[id]
	return ok
}

func (r *timerRegistry) size() int {
	return len(r.timers)
}

// stopAll 停止全部计时器，引擎关停时调用
func (r *timerRegistry) stopAll() {
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
