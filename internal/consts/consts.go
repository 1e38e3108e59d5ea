package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"
	UserID    = "user_id"

	// Redis key前缀：节流状态
	ThrottleLastSentPrefix = "alert:throttle:last:"
	ThrottleWindowPrefix   = "alert:throttle:window:"

	// 节流滑动窗口长度，跨午夜也不重置
	ThrottleWindow = 24 * time.Hour

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

const (
	// 浮点等值比较的容差
	FloatTolerance = 1e-3

	// 规则检查间隔的合法区间（分钟）
	CheckIntervalMin = 1
	CheckIntervalMax = 1440

	// 指标缺失时RSI的缺省值
	DefaultRSI = 50
)
