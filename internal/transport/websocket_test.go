// =============================================================================
// 文件: internal/transport/websocket_test.go
// 描述: WebSocket 传输测试 - 监听/拨号双端回环
// =============================================================================
package transport

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/mrcgq/srt-go/internal/packet"
)

func wsPair(t *testing.T) (*WSTransport, *WSTransport) {
	t.Helper()

	// 先抢一个空闲端口再监听，拨号端需要确定的地址
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("探测端口失败: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	srv, err := ListenWebSocket(addr, "/srt")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}

	var cli *WSTransport
	// 监听器就绪存在竞态窗口，拨号重试
	for i := 0; i < 20; i++ {
		cli, err = DialWebSocket(fmt.Sprintf("ws://%s/srt", addr))
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		srv.Close()
		t.Fatalf("拨号失败: %v", err)
	}

	t.Cleanup(func() { cli.Close(); srv.Close() })
	return srv, cli
}

func TestWebSocketRoundtrip(t *testing.T) {
	srv, cli := wsPair(t)

	payload := []byte("经由 websocket 的数据报")
	if err := cli.Send(packet.NewDataPacket(9, payload, 0, 0), nil); err != nil {
		t.Fatalf("客户端发送失败: %v", err)
	}

	in := recvOne(t, srv)
	if in.Pkt.Seq != 9 || !bytes.Equal(in.Pkt.Payload, payload) {
		t.Errorf("服务端收到的包不正确: %+v", in.Pkt)
	}

	// 服务端按来源地址回发
	if err := srv.Send(packet.NewKeepAlivePacket(0, 0), in.From); err != nil {
		t.Fatalf("服务端回发失败: %v", err)
	}
	back := recvOne(t, cli)
	if back.Pkt.Type != packet.TypeKeepAlive {
		t.Errorf("客户端期望 KeepAlive，实际: %+v", back.Pkt)
	}
}

func TestWebSocketActiveConns(t *testing.T) {
	srv, _ := wsPair(t)

	deadline := time.Now().Add(3 * time.Second)
	for srv.ActiveConns() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveConns = %d，期望 1", srv.ActiveConns())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketSendUnknownRemote(t *testing.T) {
	srv, _ := wsPair(t)

	ghost := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1234}
	if err := srv.Send(packet.NewKeepAlivePacket(0, 0), ghost); err == nil {
		t.Error("向未知对端发送应返回错误")
	}
}

func TestWebSocketCloseClosesInbound(t *testing.T) {
	srv, cli := wsPair(t)
	_ = srv

	cli.Close()
	select {
	case _, ok := <-cli.Inbound():
		if ok {
			t.Error("关闭后入站通道不应再有数据")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("关闭后入站通道未关闭")
	}
}
