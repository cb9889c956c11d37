// =============================================================================
// 文件: internal/transport/transport.go
// 描述: 数据报传输抽象 - 唯一定义位置
// =============================================================================
package transport

import (
	"fmt"
	"net"

	"github.com/mrcgq/srt-go/internal/packet"
)

// 错误定义
var (
	ErrTransportClosed = fmt.Errorf("传输已关闭")
	ErrPayloadTooLarge = fmt.Errorf("载荷超过单包上限")
)

// Inbound 入站数据报 (已解码为类型化的包)
type Inbound struct {
	Pkt  *packet.Packet
	From *net.UDPAddr
}

// Transport 数据报传输抽象
// Inbound 通道关闭即为永久终止信号；单个包解码失败只计数不中断。
type Transport interface {
	// Send 非阻塞发送一个包；失败必须上报，不得静默丢弃
	Send(p *packet.Packet, to *net.UDPAddr) error

	// Inbound 入站包通道，传输永久关闭时该通道关闭
	Inbound() <-chan Inbound

	// Timestamp 单调时钟读数 (套接字建立以来的微秒)
	// 连接上的所有对端共享同一时间原点
	Timestamp() uint32

	// Close 关闭传输并释放资源
	Close() error
}
