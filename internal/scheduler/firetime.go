package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// 提醒频率取值，与前端保存的配置保持一致
const (
	FrequencyOnce     = "once"
	FrequencyDaily    = "daily"
	FrequencyWeekdays = "weekdays"
	FrequencyWeekends = "weekends"
	FrequencyCustom   = "custom"
)

// ErrInvalidRequest 在调度请求的频率或时间配置不合法时返回，
// 该类请求在同步校验阶段即被拒绝，不会写入持久化存储
var ErrInvalidRequest = errors.New("invalid reminder request")

// ParseTimeOfDay 解析 "15:04" 形式的本地时刻
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidRequest, value)
	}
	return parsed.Hour(), parsed.Minute(), nil
}

// NextFireTime 根据频率与每日时刻计算下一次触发的绝对时间。
// 计算基于 now 所在时区的日历：once/daily 取今天该时刻，已过则顺延一天；
// weekdays/weekends/custom 取下一个匹配星期（今天时刻未过则含今天）。
// 返回值保证严格晚于 now。
func NextFireTime(now time.Time, frequency, timeOfDay string, customDays []time.Weekday) (time.Time, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	allowed, err := allowedWeekdays(frequency, customDays)
	if err != nil {
		return time.Time{}, err
	}

	if allowed == nil {
		// once/daily：今天时刻已过则滚动到明天
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate, nil
	}

	// 最多向前看一周即可命中任意非空星期集合
	for i := 0; i < 8; i++ {
		if candidate.After(now) && allowed[candidate.Weekday()] {
			return candidate, nil
		}
		candidate = candidate.AddDate(0, 0, 1)
	}

	return time.Time{}, fmt.Errorf("%w: no matching weekday for %s", ErrInvalidRequest, frequency)
}

// allowedWeekdays 返回频率对应的星期集合，once/daily 返回 nil 表示不限
func allowedWeekdays(frequency string, customDays []time.Weekday) (map[time.Weekday]bool, error) {
	switch strings.ToLower(strings.TrimSpace(frequency)) {
	case FrequencyOnce, FrequencyDaily:
		return nil, nil
	case FrequencyWeekdays:
		return map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		}, nil
	case FrequencyWeekends:
		return map[time.Weekday]bool{
			time.Saturday: true,
			time.Sunday:   true,
		}, nil
	case FrequencyCustom:
		if len(customDays) == 0 {
			return nil, fmt.Errorf("%w: custom frequency requires weekday set", ErrInvalidRequest)
		}
		allowed := make(map[time.Weekday]bool, len(customDays))
		for _, day := range customDays {
			if day < time.Sunday || day > time.Saturday {
				return nil, fmt.Errorf("%w: weekday index %d out of range", ErrInvalidRequest, day)
			}
			allowed[day] = true
		}
		return allowed, nil
	default:
		return nil, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRequest, frequency)
	}
}
