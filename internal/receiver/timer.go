// =============================================================================
// 文件: internal/receiver/timer.go
// 描述: 协作式周期定时器 - 在事件循环每轮迭代顶端非阻塞检查
// =============================================================================
package receiver

// periodicTimer 周期定时器
// 以协议时间戳 (µs, uint32 回绕) 计时；ready 返回 true 即视为本次触发，
// 下次触发不早于 interval 之后。
type periodicTimer struct {
	interval uint32 // 周期 (µs)
	last     uint32 // 上次触发时间戳
}

// ready 检查是否到期，到期则消耗本次触发
func (t *periodicTimer) ready(now uint32) bool {
	// uint32 减法天然处理时间戳回绕
	if now-t.last < t.interval {
		return false
	}
	t.last = now
	return true
}

// reset 重新对齐触发基准
func (t *periodicTimer) reset(now uint32) {
	t.last = now
}
