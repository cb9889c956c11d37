// =============================================================================
// 文件: internal/receiver/delivery.go
// 描述: 按序交付缓冲 - 乱序重组，支持跳过被声明放弃的序列号
// =============================================================================
package receiver

import (
	"github.com/mrcgq/srt-go/internal/seqnum"
)

// DeliveryOrder 交付顺序模式
type DeliveryOrder uint8

const (
	// OrderArrival 按到达顺序交付 (默认)
	OrderArrival DeliveryOrder = iota

	// OrderSequence 按序列号顺序交付，空洞补齐或被放弃前持有后续包
	OrderSequence
)

func (o DeliveryOrder) String() string {
	switch o {
	case OrderArrival:
		return "arrival"
	case OrderSequence:
		return "sequence"
	}
	return "unknown"
}

// reorderSlot 重组槽位
type reorderSlot struct {
	seq  seqnum.Seq
	data []byte
	used bool
}

// reorderBuffer 按序交付的滑动窗口重组缓冲
// expected 是下一个待交付的序列号；被 DropRequest 或丢失列表溢出
// 放弃的序列号登记为跳过，交付游标越过它们而不是永久等待。
type reorderBuffer struct {
	slots    []reorderSlot
	size     int
	expected seqnum.Seq
	started  bool

	skipped map[seqnum.Seq]struct{}

	// 统计
	outOfWindow uint64
}

// newReorderBuffer 创建重组缓冲
func newReorderBuffer(size int) *reorderBuffer {
	if size <= 0 {
		size = 1024
	}
	return &reorderBuffer{
		slots:   make([]reorderSlot, size),
		size:    size,
		skipped: make(map[seqnum.Seq]struct{}),
	}
}

// Insert 插入一个包; 返回是否被接受
// 第一个包确定交付起点。窗口外 (太旧或太新) 的包被拒绝。
func (b *reorderBuffer) Insert(seq seqnum.Seq, data []byte) bool {
	if !b.started {
		b.expected = seq
		b.started = true
	}

	offset := seqnum.Diff(seq, b.expected)
	if offset < 0 {
		// 已交付或已跳过的旧序号
		return false
	}
	if offset >= int32(b.size) {
		b.outOfWindow++
		return false
	}

	idx := int(uint32(seq)) % b.size
	if b.slots[idx].used && b.slots[idx].seq == seq {
		return false
	}

	b.slots[idx] = reorderSlot{seq: seq, data: data, used: true}
	delete(b.skipped, seq)
	return true
}

// ReadOrdered 取出从 expected 开始的连续可交付数据
// 已登记跳过的序列号被越过，视为永久空洞。
func (b *reorderBuffer) ReadOrdered() [][]byte {
	if !b.started {
		return nil
	}

	var out [][]byte
	for {
		idx := int(uint32(b.expected)) % b.size
		slot := &b.slots[idx]
		if slot.used && slot.seq == b.expected {
			out = append(out, slot.data)
			slot.used = false
			slot.data = nil
			b.expected = b.expected.Inc()
			continue
		}
		if _, ok := b.skipped[b.expected]; ok {
			delete(b.skipped, b.expected)
			b.expected = b.expected.Inc()
			continue
		}
		break
	}
	return out
}

// SkipRange 登记 [first, last] (闭区间) 为永久放弃
// 先把区间裁剪到窗口 [expected, expected+size) 的交集再逐个登记:
// 窗口外的旧序号已无意义，而且区间可能大到接近半个序列号空间，
// 绝不能按原始长度遍历。
func (b *reorderBuffer) SkipRange(first, last seqnum.Seq) {
	if !b.started || seqnum.Gt(first, last) {
		return
	}

	if seqnum.Lt(first, b.expected) {
		first = b.expected
	}
	winLast := b.expected.Add(int32(b.size) - 1)
	if seqnum.Gt(last, winLast) {
		last = winLast
	}
	if seqnum.Gt(first, last) {
		return
	}

	n := seqnum.Diff(last, first) + 1
	for i := int32(0); i < n; i++ {
		seq := first.Add(i)
		idx := int(uint32(seq)) % b.size
		if b.slots[idx].used && b.slots[idx].seq == seq {
			// 已持有数据的包照常交付，不作废
			continue
		}
		b.skipped[seq] = struct{}{}
	}
}

// Pending 当前持有但尚未交付的包数
func (b *reorderBuffer) Pending() int {
	n := 0
	for i := range b.slots {
		if b.slots[i].used {
			n++
		}
	}
	return n
}

// Available 剩余可用槽位
func (b *reorderBuffer) Available() int {
	return b.size - b.Pending()
}
