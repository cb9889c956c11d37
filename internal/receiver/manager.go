// =============================================================================
// 文件: internal/receiver/manager.go
// 描述: 多连接管理 - 按对端地址把共享传输分流到独立的接收端实例
// =============================================================================
package receiver

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mrcgq/srt-go/internal/packet"
	"github.com/mrcgq/srt-go/internal/transport"
)

const boundQueueSize = 256

// Delivery 带来源标注的交付载荷
type Delivery struct {
	From *net.UDPAddr
	Data []byte
}

// Manager 在一个共享传输上复用多个接收端
// 每个对端地址对应一个独立的 Receiver 协程，互不共享可变状态。
type Manager struct {
	tr  transport.Transport
	cfg *Config

	conns   sync.Map // remote.String() -> *boundConn
	createG singleflight.Group

	payloads chan Delivery

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connCount  int64
	routeDrops uint64
	running    int32
	closed     int32
}

type boundConn struct {
	recv    *Receiver
	inbound chan transport.Inbound
}

// NewManager 创建管理器
// cfg 作为每个新连接的模板；nil 使用默认配置。
func NewManager(tr transport.Transport, cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tr:       tr,
		cfg:      cfg,
		payloads: make(chan Delivery, cfg.PayloadQueue),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Payloads 所有连接的合并交付序列
func (m *Manager) Payloads() <-chan Delivery {
	return m.payloads
}

// ConnCount 活跃连接数
func (m *Manager) ConnCount() int64 {
	return atomic.LoadInt64(&m.connCount)
}

// RouteDrops 因单连接入站队列满而丢弃的包数
func (m *Manager) RouteDrops() uint64 {
	return atomic.LoadUint64(&m.routeDrops)
}

// Running 分流循环是否在运行，供存活/就绪探针使用
func (m *Manager) Running() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// Run 主分流循环: 消费共享传输的入站包，按来源路由
// 传输关闭后等待所有连接协程退出再返回。
func (m *Manager) Run(ctx context.Context) error {
	atomic.StoreInt32(&m.running, 1)
	defer m.shutdown()
	defer atomic.StoreInt32(&m.running, 0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-m.tr.Inbound():
			if !ok {
				return ErrTransportClosed
			}
			m.route(in)
		}
	}
}

// route 投递到对应连接，必要时创建
func (m *Manager) route(in transport.Inbound) {
	key := in.From.String()

	v, ok := m.conns.Load(key)
	if !ok {
		created, err, _ := m.createG.Do(key, func() (interface{}, error) {
			if existing, ok := m.conns.Load(key); ok {
				return existing, nil
			}
			return m.spawn(key, in.From), nil
		})
		if err != nil {
			return
		}
		v = created
	}

	bc := v.(*boundConn)
	select {
	case bc.inbound <- in:
	default:
		// 单连接积压不能阻塞整个分流循环
		atomic.AddUint64(&m.routeDrops, 1)
	}
}

// spawn 为新对端创建接收端并启动其事件循环
func (m *Manager) spawn(key string, remote *net.UDPAddr) *boundConn {
	bc := &boundConn{
		inbound: make(chan transport.Inbound, boundQueueSize),
	}
	bt := &boundTransport{parent: m.tr, inbound: bc.inbound}
	bc.recv = New(bt, remote, m.cloneConfig())

	m.conns.Store(key, bc)
	atomic.AddInt64(&m.connCount, 1)
	log.Printf("[接收管理] 新连接: %s", key)

	// 交付转发协程: 把单连接的载荷汇入合并通道
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for data := range bc.recv.Payloads() {
			select {
			case m.payloads <- Delivery{From: remote, Data: data}:
			case <-m.ctx.Done():
				return
			}
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.conns.Delete(key)
			atomic.AddInt64(&m.connCount, -1)
		}()

		err := bc.recv.Run(m.ctx)
		switch err {
		case nil:
			log.Printf("[接收管理] 连接正常关闭: %s", key)
		case context.Canceled, ErrTransportClosed:
			// 管理器整体停机
		default:
			log.Printf("[接收管理] 连接异常退出: %s: %v", key, err)
		}
	}()

	return bc
}

// cloneConfig 每连接独立副本，避免共享可变配置
func (m *Manager) cloneConfig() *Config {
	c := *m.cfg
	return &c
}

// shutdown 停止所有连接协程并关闭合并通道
func (m *Manager) shutdown() {
	if !atomic.CompareAndSwapInt32(&m.closed, 0, 1) {
		return
	}
	m.cancel()

	// 关闭各连接的入站通道，让阻塞在 Inbound 上的循环退出
	m.conns.Range(func(_, v interface{}) bool {
		close(v.(*boundConn).inbound)
		return true
	})

	m.wg.Wait()
	close(m.payloads)
}

// AggregateStats 汇总全部活跃连接的统计
func (m *Manager) AggregateStats() Stats {
	var total Stats
	m.conns.Range(func(_, v interface{}) bool {
		s := v.(*boundConn).recv.Stats()
		total.PacketsReceived += s.PacketsReceived
		total.DataReceived += s.DataReceived
		total.Duplicates += s.Duplicates
		total.Belated += s.Belated
		total.Abandoned += s.Abandoned
		total.AcksSent += s.AcksSent
		total.NaksSent += s.NaksSent
		total.NakSeqs += s.NakSeqs
		total.Ack2Received += s.Ack2Received
		total.StaleAck2 += s.StaleAck2
		total.HandshakesReflected += s.HandshakesReflected
		total.KeepAlives += s.KeepAlives
		total.DropRequests += s.DropRequests
		total.UnknownControl += s.UnknownControl
		total.NotApplicable += s.NotApplicable
		total.Delivered += s.Delivered
		total.DeliveryDrops += s.DeliveryDrops
		total.SendErrors += s.SendErrors
		total.LossEvicted += s.LossEvicted
		total.ExpEvents += s.ExpEvents
		total.LossListLen += s.LossListLen
		// RTT 取任一活跃连接的近期值即可
		total.RTT = s.RTT
		total.RTTVar = s.RTTVar
		total.LastRTTSample = s.LastRTTSample
		return true
	})
	return total
}

// boundTransport 绑定单个对端的传输视图
// Send/Timestamp 透传给共享传输，Inbound 只看到本连接的分流。
type boundTransport struct {
	parent  transport.Transport
	inbound chan transport.Inbound
}

func (b *boundTransport) Send(p *packet.Packet, to *net.UDPAddr) error {
	return b.parent.Send(p, to)
}

func (b *boundTransport) Inbound() <-chan transport.Inbound {
	return b.inbound
}

func (b *boundTransport) Timestamp() uint32 {
	return b.parent.Timestamp()
}

func (b *boundTransport) Close() error {
	// 共享传输的生命周期归管理器所有
	return nil
}
