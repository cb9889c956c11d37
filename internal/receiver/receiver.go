// =============================================================================
// 文件: internal/receiver/receiver.go
// 描述: 接收端可靠性引擎 - 丢失检测、ACK/NAK 反馈、RTT 与到达速率估算
//       单协程协作式事件循环，状态不跨连接共享
// =============================================================================
package receiver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/srt-go/internal/loss"
	"github.com/mrcgq/srt-go/internal/packet"
	"github.com/mrcgq/srt-go/internal/seqnum"
	"github.com/mrcgq/srt-go/internal/transport"
	"github.com/mrcgq/srt-go/internal/window"
)

// 错误定义
var (
	ErrTransportClosed = fmt.Errorf("传输已永久关闭")
	ErrExpired         = fmt.Errorf("对端超时无响应")
)

// 默认参数
const (
	DefaultAckInterval    = 10 * time.Millisecond
	DefaultNakInterval    = 20 * time.Millisecond
	DefaultNakBackoffMax  = 5 * time.Second
	DefaultExpInterval    = 500 * time.Millisecond
	DefaultExpThreshold   = 16
	DefaultInitialRTT     = 100 * time.Millisecond
	DefaultAckHistorySize = 1024
	DefaultArrivalWindow  = 64
	DefaultReorderWindow  = 1024
	DefaultPayloadQueue   = 1024
	DefaultMaxLossEntries = loss.DefaultCapacity
	minWakeInterval       = time.Millisecond
)

// Config 接收端配置 (唯一定义)
type Config struct {
	// ACK 定时器周期
	AckInterval time.Duration

	// NAK 基准周期: RTT 估计可用后以 RTT+4*RTTVar 自适应，该值作为下限
	NakInterval time.Duration

	// 单个条目 NAK 退避间隔的上限
	NakBackoffMax time.Duration

	// 过期定时器周期与升级阈值
	ExpInterval  time.Duration
	ExpThreshold int

	// RTT 初值 (首个样本到来前用于 NAK 周期推导)
	InitialRTT time.Duration

	// 交付顺序
	Order DeliveryOrder

	// 容量
	MaxLossEntries int
	AckHistorySize int
	ArrivalWindow  int
	ReorderWindow  int
	PayloadQueue   int

	// 发往对端的连接标识
	DestID uint32
}

// DefaultConfig 默认配置 (唯一定义)
func DefaultConfig() *Config {
	return &Config{
		AckInterval:    DefaultAckInterval,
		NakInterval:    DefaultNakInterval,
		NakBackoffMax:  DefaultNakBackoffMax,
		ExpInterval:    DefaultExpInterval,
		ExpThreshold:   DefaultExpThreshold,
		InitialRTT:     DefaultInitialRTT,
		Order:          OrderArrival,
		MaxLossEntries: DefaultMaxLossEntries,
		AckHistorySize: DefaultAckHistorySize,
		ArrivalWindow:  DefaultArrivalWindow,
		ReorderWindow:  DefaultReorderWindow,
		PayloadQueue:   DefaultPayloadQueue,
	}
}

// SenderFeedback 双向对端的发送侧回调接口
// 纯接收角色不处理 Ack/Nak，由组合出双向连接的上层注入实现。
type SenderFeedback interface {
	// OnAck 对端确认了本端发出的数据
	OnAck(ackSeq uint32, info *packet.AckInfo)

	// OnNak 对端请求重传本端发出的数据
	OnNak(losses []packet.LossRange)
}

// Receiver 单连接接收端状态机
// 全部可变状态由 Run 循环独占，跨连接零共享。
type Receiver struct {
	tr     transport.Transport
	remote *net.UDPAddr
	cfg    *Config

	// 核心状态
	lossList  *loss.List
	ackHist   *window.History
	arrivals  *window.ArrivalWindow
	lrsn      seqnum.Seq // 已收到的最大序列号
	lrsnValid bool       // 首个数据包到来前为 false
	nextAck   uint32     // 独立于数据序列号单调递增

	// RTT 估算 (µs)
	rtt    uint32
	rttVar uint32

	// 定时器
	ackTimer periodicTimer
	nakTimer periodicTimer
	expTimer periodicTimer

	// 过期升级
	expCount     int
	seenSinceExp bool

	// 交付
	reorder  *reorderBuffer // Order=Sequence 时使用
	belated  *belatedFilter
	payloads chan []byte

	// 可选的发送侧路由
	sender SenderFeedback

	stats     Stats
	closeOnce sync.Once
}

// New 创建接收端
func New(tr transport.Transport, remote *net.UDPAddr, cfg *Config) *Receiver {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	r := &Receiver{
		tr:       tr,
		remote:   remote,
		cfg:      cfg,
		lossList: loss.New(cfg.MaxLossEntries),
		ackHist:  window.NewHistory(cfg.AckHistorySize),
		arrivals: window.NewArrivalWindow(cfg.ArrivalWindow),
		belated:  newBelatedFilter(),
		payloads: make(chan []byte, cfg.PayloadQueue),
		rtt:      durUS(cfg.InitialRTT),
		rttVar:   durUS(cfg.InitialRTT) / 2,
	}
	r.ackTimer.interval = durUS(cfg.AckInterval)
	r.nakTimer.interval = r.nakPeriod()
	r.expTimer.interval = durUS(cfg.ExpInterval)

	if cfg.Order == OrderSequence {
		r.reorder = newReorderBuffer(cfg.ReorderWindow)
	}
	return r
}

// SetSenderFeedback 注入发送侧回调 (必须在 Run 之前调用)
func (r *Receiver) SetSenderFeedback(s SenderFeedback) {
	r.sender = s
}

// Payloads 交付序列: 到达的数据载荷，终止信号后通道关闭
func (r *Receiver) Payloads() <-chan []byte {
	return r.payloads
}

// Stats 统计快照
func (r *Receiver) Stats() Stats {
	return r.stats.snapshot()
}

// Remote 对端地址
func (r *Receiver) Remote() *net.UDPAddr {
	return r.remote
}

// Run 运行接收循环，直到 Shutdown、传输关闭、对端超时或 ctx 取消
// 每轮迭代先排空到期的定时器再消费下一个入站包，
// 周期性反馈不会被持续的入站流量饿死。
func (r *Receiver) Run(ctx context.Context) error {
	defer r.closePayloads()

	wakeEvery := r.wakeInterval()
	wake := time.NewTimer(wakeEvery)
	defer wake.Stop()

	for {
		now := r.tr.Timestamp()
		if err := r.checkTimers(now); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-r.tr.Inbound():
			if !ok {
				// 传输永久关闭: 致命且终止，绝不静默忽略
				return ErrTransportClosed
			}
			if done := r.handlePacket(in.Pkt, in.From); done {
				return nil
			}

		case <-wake.C:
			// 定时器唤醒，回到循环顶端检查
			wake.Reset(wakeEvery)
		}
	}
}

// wakeInterval 空闲时的唤醒粒度: 最短定时器周期的一半
func (r *Receiver) wakeInterval() time.Duration {
	min := r.cfg.AckInterval
	if r.cfg.NakInterval < min {
		min = r.cfg.NakInterval
	}
	if r.cfg.ExpInterval < min {
		min = r.cfg.ExpInterval
	}
	min /= 2
	if min < minWakeInterval {
		min = minWakeInterval
	}
	return min
}

// checkTimers 排空所有到期定时器
func (r *Receiver) checkTimers(now uint32) error {
	if r.ackTimer.ready(now) {
		r.sendAck(now)
	}
	if r.nakTimer.ready(now) {
		r.sendNak(now)
	}
	if r.expTimer.ready(now) {
		if r.checkExpiration() {
			return ErrExpired
		}
	}
	return nil
}

// sendAck ACK 定时器触发: 发送 ACK、记入 ACK 历史、递增 ACK 序号
func (r *Receiver) sendAck(now uint32) {
	if !r.lrsnValid {
		// 首个数据包到来前没有可确认的内容
		return
	}

	info := &packet.AckInfo{
		LRSN:     r.lrsn,
		RTT:      atomic.LoadUint32(&r.stats.RTT),
		RTTVar:   atomic.LoadUint32(&r.stats.RTTVar),
		BufAvail: r.bufAvail(),
		RecvRate: r.arrivals.PacketRate(),
	}

	ack := packet.NewAckPacket(r.nextAck, info, now, r.cfg.DestID)
	if err := r.tr.Send(ack, r.remote); err != nil {
		// 单个控制包发送失败非致命: ACK 周期性发送，下个周期自愈
		atomic.AddUint64(&r.stats.SendErrors, 1)
		return
	}

	r.ackHist.Record(r.nextAck, now)
	r.nextAck++
	atomic.AddUint64(&r.stats.AcksSent, 1)
}

// bufAvail 可用接收缓冲 (包数)，报告给对端做流控参考
func (r *Receiver) bufAvail() uint32 {
	avail := r.cfg.PayloadQueue - len(r.payloads)
	if r.reorder != nil {
		if ra := r.reorder.Available(); ra < avail {
			avail = ra
		}
	}
	if avail < 0 {
		avail = 0
	}
	return uint32(avail)
}

// sendNak NAK 定时器触发: 把到期条目打包成 NAK
// 区间数超过编解码上限时拆成多个 NAK 包，每包不超过 MaxLossRanges，
// 否则对端会按解码失败丢弃整个包。
func (r *Receiver) sendNak(now uint32) {
	due := r.lossList.DueForFeedback(now, r.nakTimer.interval, durUS(r.cfg.NakBackoffMax))
	if len(due) == 0 {
		return
	}

	ranges := toLossRanges(due)
	for len(ranges) > 0 {
		n := len(ranges)
		if n > packet.MaxLossRanges {
			n = packet.MaxLossRanges
		}

		nak := packet.NewNakPacket(ranges[:n], now, r.cfg.DestID)
		if err := r.tr.Send(nak, r.remote); err != nil {
			atomic.AddUint64(&r.stats.SendErrors, 1)
			return
		}
		atomic.AddUint64(&r.stats.NaksSent, 1)

		var seqs uint64
		for _, lr := range ranges[:n] {
			seqs += uint64(seqnum.Diff(lr.Last, lr.First) + 1)
		}
		atomic.AddUint64(&r.stats.NakSeqs, seqs)

		ranges = ranges[n:]
	}
}

// checkExpiration 过期定时器触发: 无流量则升级计数，超过阈值判定连接失效
func (r *Receiver) checkExpiration() bool {
	if r.seenSinceExp {
		r.seenSinceExp = false
		r.expCount = 0
		return false
	}

	r.expCount++
	atomic.AddUint64(&r.stats.ExpEvents, 1)
	return r.expCount > r.cfg.ExpThreshold
}

// handlePacket 按类型分发入站包，返回 true 表示收到终止信号
func (r *Receiver) handlePacket(pkt *packet.Packet, from *net.UDPAddr) bool {
	now := r.tr.Timestamp()
	r.seenSinceExp = true
	atomic.AddUint64(&r.stats.PacketsReceived, 1)

	if pkt.IsData() {
		r.handleData(pkt, now)
		return false
	}

	switch pkt.Type {
	case packet.TypeHandshake:
		// 握手协商由连接层负责，这里只负责原样回射:
		// 线路上握手与稳态流量共用同一通道
		if err := r.tr.Send(pkt, from); err != nil {
			atomic.AddUint64(&r.stats.SendErrors, 1)
		} else {
			atomic.AddUint64(&r.stats.HandshakesReflected, 1)
		}

	case packet.TypeKeepAlive:
		// 只重置过期计数，无其他副作用
		r.expCount = 0
		atomic.AddUint64(&r.stats.KeepAlives, 1)

	case packet.TypeAck2:
		r.handleAck2(pkt, now)

	case packet.TypeAck:
		// 发送角色的事务: 双向对端路由给发送侧，纯接收角色计数后忽略
		if r.sender != nil {
			r.sender.OnAck(pkt.AddInfo, pkt.Ack)
		} else {
			atomic.AddUint64(&r.stats.NotApplicable, 1)
		}

	case packet.TypeNak:
		if r.sender != nil {
			r.sender.OnNak(pkt.Losses)
		} else {
			atomic.AddUint64(&r.stats.NotApplicable, 1)
		}

	case packet.TypeDropRequest:
		r.handleDrop(pkt)

	case packet.TypeShutdown:
		return true

	default:
		// 未知控制类型: 协议异常，计数后继续，绝不中止循环
		atomic.AddUint64(&r.stats.UnknownControl, 1)
	}

	return false
}

// handleAck2 用 ACK 历史关联 ACK2，得到 RTT 样本
func (r *Receiver) handleAck2(pkt *packet.Packet, now uint32) {
	sendTime, ok := r.ackHist.Find(pkt.AddInfo)
	if !ok {
		// 已被覆盖或从未发出: ACK 高频轮换下属预期行为，忽略即可
		atomic.AddUint64(&r.stats.StaleAck2, 1)
		return
	}

	sample := now - sendTime
	r.updateRTT(sample)
	atomic.AddUint64(&r.stats.Ack2Received, 1)
	atomic.StoreUint32(&r.stats.LastRTTSample, sample)
}

// updateRTT RFC 6298 指数滑动平均
func (r *Receiver) updateRTT(sample uint32) {
	diff := int64(r.rtt) - int64(sample)
	if diff < 0 {
		diff = -diff
	}
	r.rttVar = uint32((int64(r.rttVar)*3 + diff) / 4)
	r.rtt = uint32((int64(r.rtt)*7 + int64(sample)) / 8)

	atomic.StoreUint32(&r.stats.RTT, r.rtt)
	atomic.StoreUint32(&r.stats.RTTVar, r.rttVar)

	// NAK 周期随 RTT 自适应
	r.nakTimer.interval = r.nakPeriod()
}

// nakPeriod NAK 周期: RTT+4*RTTVar，下限为配置的基准周期
func (r *Receiver) nakPeriod() uint32 {
	p := r.rtt + 4*r.rttVar
	if floor := durUS(r.cfg.NakInterval); p < floor {
		p = floor
	}
	return p
}

// handleDrop 对端声明永不重传该区间: 无条件移除并登记永久空洞
func (r *Receiver) handleDrop(pkt *packet.Packet) {
	r.lossList.RemoveRange(pkt.Drop.First, pkt.Drop.Last)
	if r.reorder != nil {
		// 空洞变成永久跳过后，被压住的后续包立即可交付
		r.reorder.SkipRange(pkt.Drop.First, pkt.Drop.Last)
		for _, data := range r.reorder.ReadOrdered() {
			r.enqueue(data)
		}
	}
	atomic.AddUint64(&r.stats.DropRequests, 1)
	atomic.StoreInt64(&r.stats.LossListLen, int64(r.lossList.Len()))
}

// handleData 数据包处理
func (r *Receiver) handleData(pkt *packet.Packet, now uint32) {
	atomic.AddUint64(&r.stats.DataReceived, 1)
	r.arrivals.Record(uint32(pkt.Seq), now)

	if !r.lrsnValid {
		// 首个数据包确定接收窗口起点
		r.lrsn = pkt.Seq
		r.lrsnValid = true
		r.accept(pkt)
		return
	}

	next := r.lrsn.Inc()
	switch {
	case pkt.Seq == next:
		// 恰好是期望的下一个
		r.lrsn = pkt.Seq

	case seqnum.Gt(pkt.Seq, next):
		// 空洞: 登记 [next, seq-1] 全部缺失
		dropFirst, dropLast, dropped := r.lossList.RecordGap(next, pkt.Seq.Dec(), now)
		if dropped > 0 {
			// 溢出淘汰按隐式丢弃处理，交付游标越过而不是永久等待
			atomic.AddUint64(&r.stats.LossEvicted, uint64(dropped))
			if r.reorder != nil {
				r.reorder.SkipRange(dropFirst, dropLast)
			}
		}
		r.lrsn = pkt.Seq

	default:
		// 落后于 lrsn: 迟到补洞、重复、或已被放弃
		if r.lossList.Remove(pkt.Seq) {
			atomic.AddUint64(&r.stats.Belated, 1)
		} else {
			if r.belated.Seen(pkt.Seq) {
				atomic.AddUint64(&r.stats.Duplicates, 1)
			} else {
				atomic.AddUint64(&r.stats.Abandoned, 1)
			}
			atomic.StoreInt64(&r.stats.LossListLen, int64(r.lossList.Len()))
			return
		}
	}

	atomic.StoreInt64(&r.stats.LossListLen, int64(r.lossList.Len()))
	r.accept(pkt)
}

// accept 接受数据包并按配置的顺序模式交付
func (r *Receiver) accept(pkt *packet.Packet) {
	r.belated.Mark(pkt.Seq)

	if r.reorder == nil {
		// 到达顺序模式: 直接交付
		r.enqueue(pkt.Payload)
		return
	}

	// 序列号顺序模式: 先重组再交付
	r.reorder.Insert(pkt.Seq, pkt.Payload)
	for _, data := range r.reorder.ReadOrdered() {
		r.enqueue(data)
	}
}

// enqueue 非阻塞入队交付
// 队列满时丢弃并计数: 接收循环绝不能阻塞在慢消费者上
func (r *Receiver) enqueue(data []byte) {
	select {
	case r.payloads <- data:
		atomic.AddUint64(&r.stats.Delivered, 1)
	default:
		atomic.AddUint64(&r.stats.DeliveryDrops, 1)
	}
}

// closePayloads 关闭交付通道 (幂等)
func (r *Receiver) closePayloads() {
	r.closeOnce.Do(func() { close(r.payloads) })
}

// toLossRanges 把递增的序列号列表压缩成连续区间
func toLossRanges(seqs []seqnum.Seq) []packet.LossRange {
	if len(seqs) == 0 {
		return nil
	}

	ranges := make([]packet.LossRange, 0, len(seqs))
	cur := packet.LossRange{First: seqs[0], Last: seqs[0]}
	for _, s := range seqs[1:] {
		if s == cur.Last.Inc() {
			cur.Last = s
			continue
		}
		ranges = append(ranges, cur)
		cur = packet.LossRange{First: s, Last: s}
	}
	return append(ranges, cur)
}

// durUS 时长转协议时间戳单位 (µs)
func durUS(d time.Duration) uint32 {
	return uint32(d.Microseconds())
}
