// =============================================================================
// 文件: internal/receiver/stats.go
// 描述: 接收端统计 - 原子计数器集合
// =============================================================================
package receiver

import "sync/atomic"

// Stats 接收端统计
// 由接收循环单写，外部并发读，全部经由原子操作访问。
type Stats struct {
	// 包统计
	PacketsReceived uint64
	DataReceived    uint64
	Duplicates      uint64 // 已接收过的序列号再次到达
	Belated         uint64 // 迟到但成功补洞的包
	Abandoned       uint64 // 已被隐式/显式丢弃后才到达的包

	// 控制包统计
	AcksSent            uint64
	NaksSent            uint64
	NakSeqs             uint64 // NAK 中累计携带的序列号数
	Ack2Received        uint64
	StaleAck2           uint64 // 指向已被覆盖的 ACK 序号，预期内，忽略
	HandshakesReflected uint64
	KeepAlives          uint64
	DropRequests        uint64
	UnknownControl      uint64
	NotApplicable       uint64 // 接收角色不处理的控制类型 (Ack/Nak)

	// 交付统计
	Delivered     uint64
	DeliveryDrops uint64 // 交付队列满被丢弃

	// 异常统计
	SendErrors  uint64
	LossEvicted uint64 // 丢失列表溢出淘汰
	ExpEvents   uint64 // 过期定时器升级次数

	// RTT (µs)
	RTT           uint32
	RTTVar        uint32
	LastRTTSample uint32

	// 瞬时值
	LossListLen int64
}

// snapshot 复制一份当前值
func (s *Stats) snapshot() Stats {
	return Stats{
		PacketsReceived:     atomic.LoadUint64(&s.PacketsReceived),
		DataReceived:        atomic.LoadUint64(&s.DataReceived),
		Duplicates:          atomic.LoadUint64(&s.Duplicates),
		Belated:             atomic.LoadUint64(&s.Belated),
		Abandoned:           atomic.LoadUint64(&s.Abandoned),
		AcksSent:            atomic.LoadUint64(&s.AcksSent),
		NaksSent:            atomic.LoadUint64(&s.NaksSent),
		NakSeqs:             atomic.LoadUint64(&s.NakSeqs),
		Ack2Received:        atomic.LoadUint64(&s.Ack2Received),
		StaleAck2:           atomic.LoadUint64(&s.StaleAck2),
		HandshakesReflected: atomic.LoadUint64(&s.HandshakesReflected),
		KeepAlives:          atomic.LoadUint64(&s.KeepAlives),
		DropRequests:        atomic.LoadUint64(&s.DropRequests),
		UnknownControl:      atomic.LoadUint64(&s.UnknownControl),
		NotApplicable:       atomic.LoadUint64(&s.NotApplicable),
		Delivered:           atomic.LoadUint64(&s.Delivered),
		DeliveryDrops:       atomic.LoadUint64(&s.DeliveryDrops),
		SendErrors:          atomic.LoadUint64(&s.SendErrors),
		LossEvicted:         atomic.LoadUint64(&s.LossEvicted),
		ExpEvents:           atomic.LoadUint64(&s.ExpEvents),
		RTT:                 atomic.LoadUint32(&s.RTT),
		RTTVar:              atomic.LoadUint32(&s.RTTVar),
		LastRTTSample:       atomic.LoadUint32(&s.LastRTTSample),
		LossListLen:         atomic.LoadInt64(&s.LossListLen),
	}
}
