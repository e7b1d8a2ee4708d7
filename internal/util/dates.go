package util

import (
	"fmt"
	"time"
)

// DateOf 将任意时间戳投影到 UTC 日历日（零点），与时刻和原始时区无关
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays 在 UTC 日历日上加减天数
func AddDays(day time.Time, n int) time.Time {
	return DateOf(day).AddDate(0, 0, n)
}

// DaysBetween 返回 b - a 的整天数（均先归一化）
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// FormatDate 格式化为 yyyy-mm-dd
func FormatDate(t time.Time) string {
	return DateOf(t).Format(DateFormat)
}

// DateRange 由预设推导出的查询区间，Since 为 nil 表示不限
type DateRange struct {
	Preset string
	Since  *time.Time
	Days   int
}

// ParseRangePreset 解析 7d/30d/90d/all，空字符串默认为 30d
func ParseRangePreset(preset string, now time.Time) (DateRange, error) {
	if preset == "" {
		preset = Range30Days
	}

	var days int
	switch preset {
	case Range7Days:
		days = 7
	case Range30Days:
		days = 30
	case Range90Days:
		days = 90
	case RangeAll:
		return DateRange{Preset: RangeAll}, nil
	default:
		return DateRange{}, fmt.Errorf("%w: %q", ErrInvalidRange, preset)
	}

	since := AddDays(now, -(days - 1))
	return DateRange{Preset: preset, Since: &since, Days: days}, nil
}
