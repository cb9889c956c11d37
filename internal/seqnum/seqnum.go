// =============================================================================
// 文件: internal/seqnum/seqnum.go
// 描述: 序列号模运算 - 31 位回绕安全的比较/距离/递增 (唯一定义位置)
// =============================================================================
package seqnum

// 序列号在线路上占 31 位 (最高位是控制包标志位)
const (
	// MaxSeq 最大序列号
	MaxSeq int32 = 0x7FFFFFFF

	// modulo 模数 (2^31)
	modulo int64 = 1 << 31

	// half 半程阈值: 两个序列号的正向距离超过半程时视为回绕
	half int64 = 1 << 30
)

// Seq 31 位模空间中的序列号
type Seq int32

// Diff 计算 b 到 a 的有符号距离 (沿较短的弧)
// 所有序列号比较必须经过这里，禁止直接用整数比较
func Diff(a, b Seq) int32 {
	d := (int64(a) - int64(b) + modulo) % modulo
	if d >= half {
		d -= modulo
	}
	return int32(d)
}

// Cmp 回绕感知比较: a<b 返回 -1, a==b 返回 0, a>b 返回 1
func Cmp(a, b Seq) int {
	d := Diff(a, b)
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}

// Lt a 是否在 b 之前
func Lt(a, b Seq) bool { return Diff(a, b) < 0 }

// Gt a 是否在 b 之后
func Gt(a, b Seq) bool { return Diff(a, b) > 0 }

// Inc 返回下一个序列号 (模边界回绕)
func (s Seq) Inc() Seq {
	return Seq((int64(s) + 1) % modulo)
}

// Dec 返回上一个序列号
func (s Seq) Dec() Seq {
	return s.Add(-1)
}

// Add 偏移 n 个序列号 (n 可为负)
func (s Seq) Add(n int32) Seq {
	return Seq((int64(s) + int64(n) + modulo) % modulo)
}
