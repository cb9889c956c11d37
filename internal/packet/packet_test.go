// =============================================================================
// 文件: internal/packet/packet_test.go
// 描述: 协议包编解码测试
// =============================================================================
package packet

import (
	"bytes"
	"testing"

	"github.com/mrcgq/srt-go/internal/seqnum"
)

func TestDataPacketEncodeDecode(t *testing.T) {
	original := NewDataPacket(12345, []byte("hello, srt"), 987654, 42)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if decoded.Control {
		t.Error("数据包不应被识别为控制包")
	}
	if decoded.Seq != original.Seq {
		t.Errorf("Seq 不匹配: got %d, want %d", decoded.Seq, original.Seq)
	}
	if decoded.Timestamp != original.Timestamp {
		t.Errorf("Timestamp 不匹配: got %d, want %d", decoded.Timestamp, original.Timestamp)
	}
	if decoded.DestID != original.DestID {
		t.Errorf("DestID 不匹配: got %d, want %d", decoded.DestID, original.DestID)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload 不匹配: got %v, want %v", decoded.Payload, original.Payload)
	}
}

func TestAckPacketEncodeDecode(t *testing.T) {
	info := &AckInfo{
		LRSN:     seqnum.Seq(seqnum.MaxSeq), // 边界值
		RTT:      100000,
		RTTVar:   50000,
		BufAvail: 8192,
		RecvRate: 1500,
	}
	original := NewAckPacket(7, info, 111, 42)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}

	if !decoded.Control || decoded.Type != TypeAck {
		t.Fatalf("类型不匹配: control=%v type=%s", decoded.Control, decoded.Type)
	}
	if decoded.AddInfo != 7 {
		t.Errorf("ACK 序号不匹配: got %d, want 7", decoded.AddInfo)
	}
	if decoded.Ack == nil {
		t.Fatal("ACK 信息体缺失")
	}
	if *decoded.Ack != *info {
		t.Errorf("ACK 信息不匹配: got %+v, want %+v", decoded.Ack, info)
	}
}

func TestLiteAckEncodeDecode(t *testing.T) {
	original := NewAckPacket(3, &AckInfo{LRSN: 99, Lite: true}, 0, 0)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Ack == nil || !decoded.Ack.Lite {
		t.Fatal("精简 ACK 应该被识别为 Lite")
	}
	if decoded.Ack.LRSN != 99 {
		t.Errorf("LRSN 不匹配: got %d, want 99", decoded.Ack.LRSN)
	}
}

func TestNakLossListCompression(t *testing.T) {
	losses := []LossRange{
		{First: 5, Last: 5},   // 单个
		{First: 10, Last: 20}, // 区间
		{First: seqnum.Seq(seqnum.MaxSeq), Last: seqnum.Seq(seqnum.MaxSeq)},
	}
	original := NewNakPacket(losses, 222, 42)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Type != TypeNak {
		t.Fatalf("类型不匹配: %s", decoded.Type)
	}
	if len(decoded.Losses) != len(losses) {
		t.Fatalf("区间数不匹配: got %d, want %d", len(decoded.Losses), len(losses))
	}
	for i, r := range decoded.Losses {
		if r != losses[i] {
			t.Errorf("区间 %d 不匹配: got %+v, want %+v", i, r, losses[i])
		}
	}

	// 单个序列号只占一个字, 区间占两个字
	wantLen := HeaderSize + 4 + 8 + 4
	if got := len(original.Encode()); got != wantLen {
		t.Errorf("压缩编码长度不正确: got %d, want %d", got, wantLen)
	}
}

func TestDropRequestEncodeDecode(t *testing.T) {
	original := NewDropRequestPacket(9, 100, 110, 333, 42)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Type != TypeDropRequest {
		t.Fatalf("类型不匹配: %s", decoded.Type)
	}
	if decoded.AddInfo != 9 {
		t.Errorf("消息号不匹配: got %d, want 9", decoded.AddInfo)
	}
	if decoded.Drop.First != 100 || decoded.Drop.Last != 110 {
		t.Errorf("丢弃区间不匹配: got %+v", decoded.Drop)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	info := []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB}
	original := NewHandshakePacket(info, 1, 2)

	encoded := original.Encode()
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	// 握手信息体必须原样保留，接收端要求逐字节回射
	if !bytes.Equal(decoded.Payload, info) {
		t.Errorf("握手信息体被篡改: got %v, want %v", decoded.Payload, info)
	}
	if !bytes.Equal(decoded.Encode(), encoded) {
		t.Error("握手包重编码后与原始字节不一致")
	}
}

func TestEmptyBodyControlTypes(t *testing.T) {
	for _, typ := range []ControlType{TypeKeepAlive, TypeShutdown, TypeAck2} {
		p := &Packet{Control: true, Type: typ, Timestamp: 5, DestID: 6}
		decoded, err := Decode(p.Encode())
		if err != nil {
			t.Fatalf("%s 解码失败: %v", typ, err)
		}
		if decoded.Type != typ {
			t.Errorf("类型不匹配: got %s, want %s", decoded.Type, typ)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("头部不完整应该返回错误")
	}

	// ACK 缺信息体
	p := &Packet{Control: true, Type: TypeAck, Ack: &AckInfo{LRSN: 1}}
	data := p.Encode()[:HeaderSize]
	if _, err := Decode(data); err == nil {
		t.Error("ACK 缺信息体应该返回错误")
	}
}

// 基准测试
func BenchmarkDataPacketEncode(b *testing.B) {
	p := NewDataPacket(12345, make([]byte, 1200), 111, 42)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Encode()
	}
}

func BenchmarkDataPacketDecode(b *testing.B) {
	data := NewDataPacket(12345, make([]byte, 1200), 111, 42).Encode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Decode(data)
	}
}
