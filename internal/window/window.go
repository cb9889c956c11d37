// =============================================================================
// 文件: internal/window/window.go
// 描述: 固定容量环形历史窗口 - ACK 历史与数据包到达历史
// =============================================================================
package window

import "sort"

// History 固定容量的 (键, 时间戳) 环形记录窗口
// 写满后按插入顺序覆盖最老的槽位；查找只能命中尚未被覆盖的记录。
type History struct {
	keys  []uint32
	times []uint32
	next  int // 写游标
	count int
}

// NewHistory 创建历史窗口，容量在构造时固定
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{
		keys:  make([]uint32, capacity),
		times: make([]uint32, capacity),
	}
}

// Record 记录一条 (键, 时间戳)，写满时覆盖最老的槽位
func (h *History) Record(key, ts uint32) {
	h.keys[h.next] = key
	h.times[h.next] = ts
	h.next = (h.next + 1) % len(h.keys)
	if h.count < len(h.keys) {
		h.count++
	}
}

// Find 查找键对应的时间戳；被覆盖或从未记录过返回 false
// 从最新记录向旧扫描，同键重复记录时命中最近一次
func (h *History) Find(key uint32) (uint32, bool) {
	for i := 0; i < h.count; i++ {
		idx := (h.next - 1 - i + len(h.keys)) % len(h.keys)
		if h.keys[idx] == key {
			return h.times[idx], true
		}
	}
	return 0, false
}

// Len 当前记录条数
func (h *History) Len() int { return h.count }

// Cap 窗口容量
func (h *History) Cap() int { return len(h.keys) }

// ArrivalWindow 数据包到达历史窗口
// 在 History 的基础上维护包间到达间隔，用于估算到达速率与抖动。
type ArrivalWindow struct {
	hist *History

	intervals   []uint32 // 包间间隔环形缓冲 (µs)
	intervalIdx int
	intervalCnt int

	lastArrival uint32
	hasLast     bool
}

// NewArrivalWindow 创建到达历史窗口
func NewArrivalWindow(capacity int) *ArrivalWindow {
	return &ArrivalWindow{
		hist:      NewHistory(capacity),
		intervals: make([]uint32, capacity),
	}
}

// Record 记录一次数据包到达
func (w *ArrivalWindow) Record(seq, ts uint32) {
	w.hist.Record(seq, ts)

	if w.hasLast {
		w.intervals[w.intervalIdx] = ts - w.lastArrival
		w.intervalIdx = (w.intervalIdx + 1) % len(w.intervals)
		if w.intervalCnt < len(w.intervals) {
			w.intervalCnt++
		}
	}
	w.lastArrival = ts
	w.hasLast = true
}

// Find 查找序列号的到达时间戳
func (w *ArrivalWindow) Find(seq uint32) (uint32, bool) {
	return w.hist.Find(seq)
}

// PacketRate 估算包到达速率 (包/秒)
// 取中位数间隔做滤波: 偏离中位数 8 倍以上的间隔视为传输停顿或突发，剔除后求均值。
// 样本不足或全部被剔除时返回 0。
func (w *ArrivalWindow) PacketRate() uint32 {
	if w.intervalCnt < 2 {
		return 0
	}

	samples := make([]uint32, w.intervalCnt)
	copy(samples, w.intervals[:w.intervalCnt])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	median := samples[len(samples)/2]
	if median == 0 {
		return 0
	}

	var sum uint64
	var n int
	upper := uint64(median) * 8
	lower := uint64(median) / 8
	for _, v := range samples {
		if uint64(v) > upper || uint64(v) < lower {
			continue
		}
		sum += uint64(v)
		n++
	}
	if n == 0 || sum == 0 {
		return 0
	}

	// 平均间隔 µs → 包/秒
	return uint32(uint64(n) * 1000000 / sum)
}

// Jitter 估算到达抖动 (µs): 间隔对中位数的平均绝对偏差
func (w *ArrivalWindow) Jitter() uint32 {
	if w.intervalCnt < 2 {
		return 0
	}

	samples := make([]uint32, w.intervalCnt)
	copy(samples, w.intervals[:w.intervalCnt])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	median := samples[len(samples)/2]

	var sum uint64
	for _, v := range samples {
		if v > median {
			sum += uint64(v - median)
		} else {
			sum += uint64(median - v)
		}
	}
	return uint32(sum / uint64(len(samples)))
}
