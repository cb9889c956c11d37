// =============================================================================
// 文件: internal/receiver/belated.go
// 描述: 迟到包过滤器 - 布隆过滤器记录已接收的序列号，
//       用于区分"重复到达"与"被丢弃后才到达"的低序号包
// =============================================================================
package receiver

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mrcgq/srt-go/internal/seqnum"
)

const (
	// belatedExpectedItems 单个过滤器的预期条目数
	belatedExpectedItems = 100000

	// belatedFalsePositive 误报率: 误报只影响统计分类，不影响正确性
	belatedFalsePositive = 0.0001
)

// belatedFilter 双缓冲布隆过滤器
// 写满一个周期后轮换，新过滤器接管，保留上一代供查询；
// 接收循环单线程访问，无需加锁。
type belatedFilter struct {
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter

	marks       int
	rotateAfter int
}

// newBelatedFilter 创建迟到包过滤器
func newBelatedFilter() *belatedFilter {
	return &belatedFilter{
		current:     bloom.NewWithEstimates(belatedExpectedItems, belatedFalsePositive),
		rotateAfter: belatedExpectedItems,
	}
}

// Mark 记录序列号已被接收
func (f *belatedFilter) Mark(seq seqnum.Seq) {
	f.current.Add(seqKey(seq))
	f.marks++
	if f.marks >= f.rotateAfter {
		f.previous = f.current
		f.current = bloom.NewWithEstimates(belatedExpectedItems, belatedFalsePositive)
		f.marks = 0
	}
}

// Seen 序列号是否曾被接收 (可能有低概率误报)
func (f *belatedFilter) Seen(seq seqnum.Seq) bool {
	key := seqKey(seq)
	if f.current.Test(key) {
		return true
	}
	return f.previous != nil && f.previous.Test(key)
}

func seqKey(seq seqnum.Seq) []byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], uint32(seq))
	return key[:]
}
