// =============================================================================
// 文件: internal/transport/websocket.go
// 描述: WebSocket 数据报传输 - 每个二进制消息承载一个编码后的协议包，
//       用于 UDP 被限制的网络环境
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mrcgq/srt-go/internal/packet"
)

const (
	wsReadDeadline  = 5 * time.Minute
	wsWriteDeadline = 30 * time.Second
	wsBufferSize    = 32 * 1024
)

// wsSession 单个 WebSocket 会话
// gorilla/websocket 要求写串行化，由 mu 保护
type wsSession struct {
	conn       *websocket.Conn
	addr       *net.UDPAddr // 模拟的数据报地址
	lastActive time.Time
	mu         sync.Mutex
}

func (s *wsSession) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WSTransport WebSocket 数据报传输
// 服务端模式接受任意多个对端升级；客户端模式只有一个对端。
type WSTransport struct {
	start time.Time

	inbound chan Inbound

	sessions sync.Map // addr string -> *wsSession

	httpServer *http.Server
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed      int32
	closeOnce   sync.Once
	activeConns int64

	// 统计
	decodeErrors uint64
	inboundDrops uint64
}

func newWSTransport() *WSTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		start:   time.Now(),
		inbound: make(chan Inbound, udpInboundQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListenWebSocket 启动 WebSocket 服务端传输
func ListenWebSocket(listen, path string) (*WSTransport, error) {
	t := newWSTransport()

	mux := http.NewServeMux()
	mux.HandleFunc(path, t.handleUpgrade)

	t.httpServer = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket 长连接
		WriteTimeout: 0,
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("绑定 WebSocket 监听失败: %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[WebSocket] 服务器错误: %v", err)
		}
	}()

	return t, nil
}

// DialWebSocket 连接远端 WebSocket 传输 (客户端模式)
func DialWebSocket(url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("连接 WebSocket 失败: %w", err)
	}

	t := newWSTransport()

	remote := wsRemoteAddr(conn.RemoteAddr().String())
	session := &wsSession{conn: conn, addr: remote, lastActive: time.Now()}
	t.sessions.Store(remote.String(), session)
	atomic.AddInt64(&t.activeConns, 1)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(session)
		// 客户端模式下唯一对端断开即传输终止
		// 在新协程中关闭，避免 Close 里的 wg.Wait 等待自身
		go t.Close()
	}()

	return t, nil
}

// handleUpgrade 处理升级请求
func (t *WSTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	remote := wsRemoteAddr(r.RemoteAddr)
	session := &wsSession{conn: conn, addr: remote, lastActive: time.Now()}
	t.sessions.Store(remote.String(), session)
	atomic.AddInt64(&t.activeConns, 1)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(session)
		t.sessions.Delete(remote.String())
		atomic.AddInt64(&t.activeConns, -1)
		conn.Close()
	}()
}

// wsRemoteAddr 把 host:port 字符串转成模拟的数据报地址
func wsRemoteAddr(hostPort string) *net.UDPAddr {
	if addr, err := net.ResolveUDPAddr("udp", hostPort); err == nil {
		return addr
	}
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

// readLoop 单个会话的读循环
func (t *WSTransport) readLoop(s *wsSession) {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		s.mu.Lock()
		s.lastActive = time.Now()
		s.mu.Unlock()

		pkt, err := packet.Decode(data)
		if err != nil {
			atomic.AddUint64(&t.decodeErrors, 1)
			continue
		}

		select {
		case t.inbound <- Inbound{Pkt: pkt, From: s.addr}:
		case <-t.ctx.Done():
			return
		default:
			atomic.AddUint64(&t.inboundDrops, 1)
		}
	}
}

// Send 发送一个包到指定对端
func (t *WSTransport) Send(p *packet.Packet, to *net.UDPAddr) error {
	if atomic.LoadInt32(&t.closed) != 0 {
		return ErrTransportClosed
	}
	if len(p.Payload) > packet.MaxPayloadSize {
		return ErrPayloadTooLarge
	}

	var s *wsSession
	if to == nil {
		// 客户端模式只有一个会话，目的地址可省略
		t.sessions.Range(func(_, v interface{}) bool {
			s = v.(*wsSession)
			return false
		})
	} else if v, ok := t.sessions.Load(to.String()); ok {
		s = v.(*wsSession)
	}
	if s == nil {
		return fmt.Errorf("会话不存在: %s", to)
	}

	if err := s.write(p.Encode()); err != nil {
		return fmt.Errorf("WebSocket 发送失败: %w", err)
	}
	return nil
}

// Inbound 入站包通道
func (t *WSTransport) Inbound() <-chan Inbound {
	return t.inbound
}

// Timestamp 传输建立以来的微秒
func (t *WSTransport) Timestamp() uint32 {
	return uint32(time.Since(t.start).Microseconds())
}

// ActiveConns 活跃会话数
func (t *WSTransport) ActiveConns() int64 {
	return atomic.LoadInt64(&t.activeConns)
}

// Close 关闭传输与全部会话
func (t *WSTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.cancel()

	t.sessions.Range(func(key, value interface{}) bool {
		s := value.(*wsSession)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
		return true
	})

	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.httpServer.Shutdown(ctx)
	}

	t.wg.Wait()
	t.closeOnce.Do(func() { close(t.inbound) })
	return nil
}
