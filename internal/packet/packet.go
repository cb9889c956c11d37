// =============================================================================
// 文件: internal/packet/packet.go
// 描述: 协议包编解码 - 数据包与控制包的统一表示 (唯一定义位置)
// =============================================================================
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/mrcgq/srt-go/internal/seqnum"
)

// 协议常量
const (
	// HeaderSize 包头大小: W0(4) + W1(4) + Timestamp(4) + DestID(4) = 16 bytes
	HeaderSize = 16

	// controlFlag W0 最高位: 1=控制包, 0=数据包
	controlFlag uint32 = 0x80000000

	// lossRangeFlag NAK 丢失列表中的区间起点标志位
	lossRangeFlag uint32 = 0x80000000

	// MaxPayloadSize 单包最大有效载荷 (MTU 1500 - IP/UDP 头 - 包头)
	MaxPayloadSize = 1500 - 28 - HeaderSize

	// AckInfoSize 完整 ACK 信息体大小: LRSN(4) + RTT(4) + RTTVar(4) + BufAvail(4) + RecvRate(4)
	AckInfoSize = 20

	// ackInfoMinSize 精简 ACK 信息体 (只有 LRSN)
	ackInfoMinSize = 4

	// MaxLossRanges 单个 NAK 最多携带的丢失区间数
	MaxLossRanges = 128
)

// ControlType 控制包类型
type ControlType uint16

const (
	TypeHandshake   ControlType = 0x0
	TypeKeepAlive   ControlType = 0x1
	TypeAck         ControlType = 0x2
	TypeNak         ControlType = 0x3
	TypeShutdown    ControlType = 0x5
	TypeAck2        ControlType = 0x6
	TypeDropRequest ControlType = 0x7
)

func (t ControlType) String() string {
	switch t {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeKeepAlive:
		return "KEEPALIVE"
	case TypeAck:
		return "ACK"
	case TypeNak:
		return "NAK"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypeAck2:
		return "ACK2"
	case TypeDropRequest:
		return "DROPREQ"
	}
	return "UNKNOWN"
}

// AckInfo ACK 附带信息
type AckInfo struct {
	LRSN     seqnum.Seq // 已收到的最大序列号
	RTT      uint32     // 当前 RTT 估计 (µs)
	RTTVar   uint32     // RTT 方差 (µs)
	BufAvail uint32     // 可用接收缓冲 (包数)
	RecvRate uint32     // 包到达速率 (包/秒)
	Lite     bool       // 精简 ACK (只携带 LRSN)
}

// LossRange 丢失序列号区间 [First, Last] (闭区间)
type LossRange struct {
	First seqnum.Seq
	Last  seqnum.Seq
}

// Packet 协议包
// Control=false 时只有 Seq/Timestamp/DestID/Payload 有意义；
// Control=true 时按 Type 区分使用哪些字段。
type Packet struct {
	Control   bool
	Type      ControlType
	Seq       seqnum.Seq // 数据序列号
	AddInfo   uint32     // W1 附加信息: ACK/ACK2 的确认序号, DropRequest 的消息号
	Timestamp uint32     // 发送时间戳 (连接起点以来的 µs)
	DestID    uint32     // 目标连接标识

	Payload []byte // 数据载荷; Handshake 的原样信息体

	Ack    *AckInfo    // Type=Ack 时有效
	Losses []LossRange // Type=Nak 时有效
	Drop   LossRange   // Type=DropRequest 时有效
}

// IsData 是否为数据包
func (p *Packet) IsData() bool { return !p.Control }

// Encode 编码为线路格式
func (p *Packet) Encode() []byte {
	body := p.encodeBody()
	buf := make([]byte, HeaderSize+len(body))

	var w0 uint32
	if p.Control {
		w0 = controlFlag | uint32(p.Type)<<16
	} else {
		w0 = uint32(p.Seq) &^ controlFlag
	}
	binary.BigEndian.PutUint32(buf[0:4], w0)
	binary.BigEndian.PutUint32(buf[4:8], p.AddInfo)
	binary.BigEndian.PutUint32(buf[8:12], p.Timestamp)
	binary.BigEndian.PutUint32(buf[12:16], p.DestID)
	copy(buf[HeaderSize:], body)

	return buf
}

// encodeBody 编码包体
func (p *Packet) encodeBody() []byte {
	if !p.Control {
		return p.Payload
	}

	switch p.Type {
	case TypeAck:
		if p.Ack == nil {
			return nil
		}
		if p.Ack.Lite {
			body := make([]byte, ackInfoMinSize)
			binary.BigEndian.PutUint32(body[0:4], uint32(p.Ack.LRSN))
			return body
		}
		body := make([]byte, AckInfoSize)
		binary.BigEndian.PutUint32(body[0:4], uint32(p.Ack.LRSN))
		binary.BigEndian.PutUint32(body[4:8], p.Ack.RTT)
		binary.BigEndian.PutUint32(body[8:12], p.Ack.RTTVar)
		binary.BigEndian.PutUint32(body[12:16], p.Ack.BufAvail)
		binary.BigEndian.PutUint32(body[16:20], p.Ack.RecvRate)
		return body

	case TypeNak:
		return encodeLossList(p.Losses)

	case TypeDropRequest:
		body := make([]byte, 8)
		binary.BigEndian.PutUint32(body[0:4], uint32(p.Drop.First))
		binary.BigEndian.PutUint32(body[4:8], uint32(p.Drop.Last))
		return body

	case TypeHandshake:
		return p.Payload
	}

	// KeepAlive / Shutdown / Ack2 没有包体
	return nil
}

// encodeLossList 压缩编码丢失列表
// 单个序列号占一个字，区间用两个字表示: 起点置最高位，随后是终点
func encodeLossList(losses []LossRange) []byte {
	words := make([]uint32, 0, len(losses)*2)
	for _, r := range losses {
		if r.First == r.Last {
			words = append(words, uint32(r.First))
		} else {
			words = append(words, uint32(r.First)|lossRangeFlag, uint32(r.Last))
		}
	}

	body := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(body[i*4:], w)
	}
	return body
}

// decodeLossList 解码丢失列表
func decodeLossList(body []byte) ([]LossRange, error) {
	if len(body)%4 != 0 {
		return nil, fmt.Errorf("NAK 包体长度不是 4 的倍数: %d", len(body))
	}

	var losses []LossRange
	for i := 0; i < len(body); i += 4 {
		w := binary.BigEndian.Uint32(body[i:])
		if w&lossRangeFlag != 0 {
			if i+4 >= len(body) {
				return nil, fmt.Errorf("NAK 区间缺少终点")
			}
			i += 4
			last := binary.BigEndian.Uint32(body[i:])
			losses = append(losses, LossRange{
				First: seqnum.Seq(w &^ lossRangeFlag),
				Last:  seqnum.Seq(last &^ lossRangeFlag),
			})
		} else {
			losses = append(losses, LossRange{First: seqnum.Seq(w), Last: seqnum.Seq(w)})
		}
		if len(losses) > MaxLossRanges {
			return nil, fmt.Errorf("NAK 区间数超限: > %d", MaxLossRanges)
		}
	}
	return losses, nil
}

// Decode 从线路格式解码
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("数据太短: %d < %d", len(data), HeaderSize)
	}

	w0 := binary.BigEndian.Uint32(data[0:4])
	p := &Packet{
		AddInfo:   binary.BigEndian.Uint32(data[4:8]),
		Timestamp: binary.BigEndian.Uint32(data[8:12]),
		DestID:    binary.BigEndian.Uint32(data[12:16]),
	}
	body := data[HeaderSize:]

	if w0&controlFlag == 0 {
		// 数据包
		p.Seq = seqnum.Seq(w0)
		if len(body) > 0 {
			p.Payload = make([]byte, len(body))
			copy(p.Payload, body)
		}
		return p, nil
	}

	p.Control = true
	p.Type = ControlType(w0 >> 16 &^ 0x8000)

	switch p.Type {
	case TypeAck:
		if len(body) < ackInfoMinSize {
			return nil, fmt.Errorf("ACK 信息体太短: %d", len(body))
		}
		ack := &AckInfo{LRSN: seqnum.Seq(binary.BigEndian.Uint32(body[0:4]))}
		if len(body) >= AckInfoSize {
			ack.RTT = binary.BigEndian.Uint32(body[4:8])
			ack.RTTVar = binary.BigEndian.Uint32(body[8:12])
			ack.BufAvail = binary.BigEndian.Uint32(body[12:16])
			ack.RecvRate = binary.BigEndian.Uint32(body[16:20])
		} else {
			ack.Lite = true
		}
		p.Ack = ack

	case TypeNak:
		losses, err := decodeLossList(body)
		if err != nil {
			return nil, err
		}
		p.Losses = losses

	case TypeDropRequest:
		if len(body) < 8 {
			return nil, fmt.Errorf("DropRequest 信息体太短: %d", len(body))
		}
		p.Drop = LossRange{
			First: seqnum.Seq(binary.BigEndian.Uint32(body[0:4])),
			Last:  seqnum.Seq(binary.BigEndian.Uint32(body[4:8])),
		}

	case TypeHandshake:
		if len(body) > 0 {
			p.Payload = make([]byte, len(body))
			copy(p.Payload, body)
		}

	case TypeKeepAlive, TypeShutdown, TypeAck2:
		// 无包体

	default:
		// 未知控制类型保留原始包体，由上层决定忽略还是转发
		if len(body) > 0 {
			p.Payload = make([]byte, len(body))
			copy(p.Payload, body)
		}
	}

	return p, nil
}

// NewDataPacket 创建数据包
func NewDataPacket(seq seqnum.Seq, payload []byte, ts, destID uint32) *Packet {
	p := &Packet{Seq: seq, Timestamp: ts, DestID: destID}
	if len(payload) > 0 {
		p.Payload = make([]byte, len(payload))
		copy(p.Payload, payload)
	}
	return p
}

// NewAckPacket 创建 ACK 包
func NewAckPacket(ackSeq uint32, info *AckInfo, ts, destID uint32) *Packet {
	return &Packet{
		Control:   true,
		Type:      TypeAck,
		AddInfo:   ackSeq,
		Timestamp: ts,
		DestID:    destID,
		Ack:       info,
	}
}

// NewAck2Packet 创建 ACK2 包 (回显 ACK 序号)
func NewAck2Packet(ackSeq uint32, ts, destID uint32) *Packet {
	return &Packet{
		Control:   true,
		Type:      TypeAck2,
		AddInfo:   ackSeq,
		Timestamp: ts,
		DestID:    destID,
	}
}

// NewNakPacket 创建 NAK 包
func NewNakPacket(losses []LossRange, ts, destID uint32) *Packet {
	return &Packet{
		Control:   true,
		Type:      TypeNak,
		Timestamp: ts,
		DestID:    destID,
		Losses:    losses,
	}
}

// NewKeepAlivePacket 创建心跳包
func NewKeepAlivePacket(ts, destID uint32) *Packet {
	return &Packet{Control: true, Type: TypeKeepAlive, Timestamp: ts, DestID: destID}
}

// NewShutdownPacket 创建关闭包
func NewShutdownPacket(ts, destID uint32) *Packet {
	return &Packet{Control: true, Type: TypeShutdown, Timestamp: ts, DestID: destID}
}

// NewDropRequestPacket 创建丢弃请求包
func NewDropRequestPacket(msgNo uint32, first, last seqnum.Seq, ts, destID uint32) *Packet {
	return &Packet{
		Control:   true,
		Type:      TypeDropRequest,
		AddInfo:   msgNo,
		Timestamp: ts,
		DestID:    destID,
		Drop:      LossRange{First: first, Last: last},
	}
}

// NewHandshakePacket 创建握手包 (信息体原样携带)
func NewHandshakePacket(info []byte, ts, destID uint32) *Packet {
	p := &Packet{Control: true, Type: TypeHandshake, Timestamp: ts, DestID: destID}
	if len(info) > 0 {
		p.Payload = make([]byte, len(info))
		copy(p.Payload, info)
	}
	return p
}
