package xbreaker

// TripPolicy 熔断判定策略接口
//
// ReadyToTrip 返回 true 时，熔断器从 Closed 转换为 Open。
type TripPolicy interface {
	ReadyToTrip(counts Counts) bool
}

// ConsecutiveFailuresPolicy 连续失败熔断策略
type ConsecutiveFailuresPolicy struct {
	threshold uint32
}

// NewConsecutiveFailures 创建连续失败熔断策略。
// threshold 为 0 时按 1 处理。
func NewConsecutiveFailures(threshold uint32) *ConsecutiveFailuresPolicy {
	if threshold == 0 {
		threshold = 1
	}
	return &ConsecutiveFailuresPolicy{threshold: threshold}
}

// ReadyToTrip 判断是否应该触发熔断
func (p *ConsecutiveFailuresPolicy) ReadyToTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= p.threshold
}

// Threshold 返回阈值
func (p *ConsecutiveFailuresPolicy) Threshold() uint32 {
	return p.threshold
}

// FailureRatioPolicy 失败率熔断策略
//
// 只有请求数达到 minRequests 时才计算失败率。
type FailureRatioPolicy struct {
	ratio       float64
	minRequests uint32
}

// NewFailureRatio 创建失败率熔断策略，ratio 被限制在 [0, 1]。
func NewFailureRatio(ratio float64, minRequests uint32) *FailureRatioPolicy {
	ratio = min(max(ratio, 0), 1)
	return &FailureRatioPolicy{ratio: ratio, minRequests: minRequests}
}

// ReadyToTrip 判断是否应该触发熔断
func (p *FailureRatioPolicy) ReadyToTrip(counts Counts) bool {
	if counts.Requests == 0 || counts.Requests < p.minRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.ratio
}

var (
	_ TripPolicy = (*ConsecutiveFailuresPolicy)(nil)
	_ TripPolicy = (*FailureRatioPolicy)(nil)
)
