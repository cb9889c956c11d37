// =============================================================================
// 文件: internal/loss/loss.go
// 描述: 接收端丢失列表 - 缺失序列号登记与 NAK 反馈生命周期
// =============================================================================
package loss

import (
	"sort"

	"github.com/mrcgq/srt-go/internal/seqnum"
)

// DefaultCapacity 默认容量上限
// 持续丢包的链路上列表会无界增长，必须设上限并把溢出当作隐式丢弃处理。
const DefaultCapacity = 8192

// Entry 丢失列表条目
type Entry struct {
	Seq          seqnum.Seq
	LastFeedback uint32 // 最近一次纳入 NAK 的时间戳 (µs)
	K            int    // 已纳入 NAK 的次数
}

// List 丢失列表，按序列号递增排序，序列号最多出现一次
type List struct {
	entries  []Entry
	capacity int

	evicted uint64 // 溢出淘汰的条目总数
}

// New 创建丢失列表，capacity <= 0 时使用默认上限
func New(capacity int) *List {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &List{capacity: capacity}
}

// RecordGap 登记空洞 [from, to] (闭区间) 内的所有序列号
// 已存在的序列号不重复插入。容量上限在插入前后都生效:
// 空洞本身超过容量时先截掉最老的前缀再登记，绝不为超限部分分配条目
// (单个声称跳跃 2^30 的恶意数据包不能撑爆内存)；登记后仍溢出则从头部
// 淘汰最老条目。两类淘汰合并成一个连续区间 [dropFirst, dropLast] 返回，
// dropped 为淘汰总数，调用方按隐式丢弃处理 (等同收到 DropRequest)。
func (l *List) RecordGap(from, to seqnum.Seq, now uint32) (dropFirst, dropLast seqnum.Seq, dropped int) {
	if seqnum.Gt(from, to) {
		return 0, 0, 0
	}

	n := seqnum.Diff(to, from) + 1
	if int(n) > l.capacity {
		skip := n - int32(l.capacity)
		dropFirst, dropLast, dropped = from, from.Add(skip-1), int(skip)
		from = from.Add(skip)
		n = int32(l.capacity)
	}

	for i := int32(0); i < n; i++ {
		l.insert(from.Add(i), now)
	}

	// 旧条目溢出: 从头部淘汰。旧条目序列号全部早于本次空洞，
	// 合并后的区间仍然连续覆盖所有被淘汰的序列号。
	if over := len(l.entries) - l.capacity; over > 0 {
		dropFirst = l.entries[0].Seq
		if dropped == 0 {
			dropLast = l.entries[over-1].Seq
		}
		dropped += over
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}

	l.evicted += uint64(dropped)
	return dropFirst, dropLast, dropped
}

// insert 有序插入单个序列号，重复则忽略
func (l *List) insert(seq seqnum.Seq, now uint32) {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return seqnum.Cmp(l.entries[i].Seq, seq) >= 0
	})
	if idx < len(l.entries) && l.entries[idx].Seq == seq {
		return
	}

	l.entries = append(l.entries, Entry{})
	copy(l.entries[idx+1:], l.entries[idx:])
	l.entries[idx] = Entry{Seq: seq, LastFeedback: now, K: 0}
}

// Remove 移除单个序列号，返回是否存在
func (l *List) Remove(seq seqnum.Seq) bool {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return seqnum.Cmp(l.entries[i].Seq, seq) >= 0
	})
	if idx >= len(l.entries) || l.entries[idx].Seq != seq {
		return false
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	return true
}

// RemoveRange 移除 [first, last] (闭区间) 内的所有条目，返回移除数
func (l *List) RemoveRange(first, last seqnum.Seq) int {
	if seqnum.Gt(first, last) {
		return 0
	}

	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if seqnum.Cmp(e.Seq, first) >= 0 && seqnum.Cmp(e.Seq, last) <= 0 {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

// DueForFeedback 选出到期应再次纳入 NAK 的序列号
// 条目的重试间隔随反馈次数指数退避: interval = base << K，封顶 max。
// 被选中即产生副作用: K 递增、LastFeedback 更新为 now。
func (l *List) DueForFeedback(now, base, max uint32) []seqnum.Seq {
	if base == 0 {
		base = 1
	}

	var due []seqnum.Seq
	for i := range l.entries {
		e := &l.entries[i]

		interval := base
		for k := 0; k < e.K && interval < max; k++ {
			interval <<= 1
		}
		if interval > max {
			interval = max
		}

		if now-e.LastFeedback < interval {
			continue
		}
		due = append(due, e.Seq)
		e.K++
		e.LastFeedback = now
	}
	return due
}

// Contains 序列号是否在列表中
func (l *List) Contains(seq seqnum.Seq) bool {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return seqnum.Cmp(l.entries[i].Seq, seq) >= 0
	})
	return idx < len(l.entries) && l.entries[idx].Seq == seq
}

// Retries 序列号当前的反馈次数，未登记返回 -1
func (l *List) Retries(seq seqnum.Seq) int {
	idx := sort.Search(len(l.entries), func(i int) bool {
		return seqnum.Cmp(l.entries[i].Seq, seq) >= 0
	})
	if idx >= len(l.entries) || l.entries[idx].Seq != seq {
		return -1
	}
	return l.entries[idx].K
}

// Len 当前条目数
func (l *List) Len() int { return len(l.entries) }

// Evicted 因溢出被淘汰的条目总数
func (l *List) Evicted() uint64 { return l.evicted }

// Seqs 返回当前全部序列号 (递增序)，用于构建 NAK
func (l *List) Seqs() []seqnum.Seq {
	out := make([]seqnum.Seq, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Seq
	}
	return out
}
