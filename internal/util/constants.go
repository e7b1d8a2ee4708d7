package util

const DateFormat = "2006-01-02"

// 计量资源的周期键
const (
	PeriodLifetime = "lifetime"
)

// 分析时间范围预设
const (
	Range7Days  = "7d"
	Range30Days = "30d"
	Range90Days = "90d"
	RangeAll    = "all"
)
