// =============================================================================
// 文件: internal/transport/udp.go
// 描述: UDP 数据报传输 - 读循环解码入站包，解码失败计数后继续
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/srt-go/internal/packet"
)

const (
	// udpReadBufferSize 单次读取缓冲大小
	udpReadBufferSize = 65535

	// udpInboundQueueSize 入站包队列容量
	udpInboundQueueSize = 1024

	// socketBufferSize 套接字收发缓冲 (高带宽链路下避免内核丢包)
	socketBufferSize = 8 * 1024 * 1024
)

// UDPTransport 基于 UDP 的数据报传输
type UDPTransport struct {
	conn  *net.UDPConn
	start time.Time // 时间戳原点

	inbound chan Inbound

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed int32

	// 统计
	packetsIn    uint64
	packetsOut   uint64
	decodeErrors uint64
	inboundDrops uint64
}

// ListenUDP 绑定本地地址并启动读循环
func ListenUDP(listen string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("解析监听地址失败: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("绑定 UDP 失败: %w", err)
	}

	// 设置失败不致命，内核会回退到系统上限
	conn.SetReadBuffer(socketBufferSize)
	conn.SetWriteBuffer(socketBufferSize)

	return NewUDPTransport(conn), nil
}

// NewUDPTransport 基于已有 UDP 套接字创建传输
func NewUDPTransport(conn *net.UDPConn) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:    conn,
		start:   time.Now(),
		inbound: make(chan Inbound, udpInboundQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	t.wg.Add(1)
	go t.readLoop()

	return t
}

// readLoop 读循环
func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	defer close(t.inbound)

	buf := make([]byte, udpReadBufferSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			// 套接字关闭或不可恢复错误: 入站通道关闭即终止信号
			return
		}

		pkt, err := packet.Decode(buf[:n])
		if err != nil {
			// 协议异常: 计数后继续，绝不中断循环
			atomic.AddUint64(&t.decodeErrors, 1)
			continue
		}
		atomic.AddUint64(&t.packetsIn, 1)

		select {
		case t.inbound <- Inbound{Pkt: pkt, From: from}:
		case <-t.ctx.Done():
			return
		default:
			// 入站队列满: 丢弃并计数，丢失检测会驱动对端重传
			atomic.AddUint64(&t.inboundDrops, 1)
		}
	}
}

// Send 发送一个包
func (t *UDPTransport) Send(p *packet.Packet, to *net.UDPAddr) error {
	if atomic.LoadInt32(&t.closed) != 0 {
		return ErrTransportClosed
	}
	if len(p.Payload) > packet.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	if _, err := t.conn.WriteToUDP(p.Encode(), to); err != nil {
		return fmt.Errorf("UDP 发送失败: %w", err)
	}
	atomic.AddUint64(&t.packetsOut, 1)
	return nil
}

// Inbound 入站包通道
func (t *UDPTransport) Inbound() <-chan Inbound {
	return t.inbound
}

// Timestamp 套接字建立以来的微秒
func (t *UDPTransport) Timestamp() uint32 {
	return uint32(time.Since(t.start).Microseconds())
}

// LocalAddr 本地地址
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// DecodeErrors 解码失败计数
func (t *UDPTransport) DecodeErrors() uint64 {
	return atomic.LoadUint64(&t.decodeErrors)
}

// InboundDrops 入站队列满丢弃计数
func (t *UDPTransport) InboundDrops() uint64 {
	return atomic.LoadUint64(&t.inboundDrops)
}

// Close 关闭传输
func (t *UDPTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
