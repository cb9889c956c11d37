// =============================================================================
// 文件: internal/loss/loss_test.go
// 描述: 丢失列表测试
// =============================================================================
package loss

import (
	"testing"

	"github.com/mrcgq/srt-go/internal/seqnum"
)

func TestRecordGapAndRemove(t *testing.T) {
	l := New(0)

	// 收到 0,1,2 后跳到 5: 空洞为 3,4
	l.RecordGap(3, 4, 1000)

	if l.Len() != 2 {
		t.Fatalf("条目数不正确: got %d, want 2", l.Len())
	}
	for _, seq := range []seqnum.Seq{3, 4} {
		if !l.Contains(seq) {
			t.Errorf("序列号 %d 应在丢失列表中", seq)
		}
	}

	// 迟到的 3,4 陆续到达后列表应清空
	if !l.Remove(3) {
		t.Error("Remove(3) 应该返回 true")
	}
	if !l.Remove(4) {
		t.Error("Remove(4) 应该返回 true")
	}
	if l.Len() != 0 {
		t.Errorf("列表应为空: got %d", l.Len())
	}

	// 重复移除应为空操作
	if l.Remove(3) {
		t.Error("移除不存在的序列号应该返回 false")
	}
}

func TestRecordGapIdempotent(t *testing.T) {
	l := New(0)

	l.RecordGap(3, 4, 1000)
	l.RecordGap(3, 4, 2000) // 重复登记

	if l.Len() != 2 {
		t.Errorf("重复登记不应产生重复条目: got %d, want 2", l.Len())
	}
	// 已有条目的反馈时间不应被重复登记刷新
	due := l.DueForFeedback(1000+100, 100, 10000)
	if len(due) != 2 {
		t.Errorf("原条目应按首次登记时间到期: got %d, want 2", len(due))
	}
}

func TestRecordGapKeepsSorted(t *testing.T) {
	l := New(0)

	l.RecordGap(10, 12, 0)
	l.RecordGap(3, 4, 0)
	l.RecordGap(7, 7, 0)

	seqs := l.Seqs()
	want := []seqnum.Seq{3, 4, 7, 10, 11, 12}
	if len(seqs) != len(want) {
		t.Fatalf("条目数不正确: got %d, want %d", len(seqs), len(want))
	}
	for i, s := range want {
		if seqs[i] != s {
			t.Errorf("位置 %d 不正确: got %d, want %d", i, seqs[i], s)
		}
	}
}

func TestRecordGapAcrossWraparound(t *testing.T) {
	l := New(0)

	// 空洞横跨模边界
	from := seqnum.Seq(seqnum.MaxSeq).Add(-1)
	l.RecordGap(from, 1, 0)

	want := []seqnum.Seq{from, from.Inc(), 0, 1}
	if l.Len() != len(want) {
		t.Fatalf("条目数不正确: got %d, want %d", l.Len(), len(want))
	}
	for _, s := range want {
		if !l.Contains(s) {
			t.Errorf("序列号 %d 应在丢失列表中", s)
		}
	}
}

func TestDueForFeedbackBackoff(t *testing.T) {
	l := New(0)
	l.RecordGap(5, 5, 0)

	base := uint32(1000)
	max := uint32(100000)

	// 未到 base 间隔不应被选中
	if due := l.DueForFeedback(500, base, max); len(due) != 0 {
		t.Errorf("退避间隔未到不应选中: got %v", due)
	}

	// 第一次到期: K 0→1
	if due := l.DueForFeedback(1000, base, max); len(due) != 1 {
		t.Fatalf("应该选中 1 个条目: got %d", len(due))
	}
	if k := l.Retries(5); k != 1 {
		t.Errorf("K 应为 1: got %d", k)
	}

	// K=1 后间隔翻倍为 2000，1000 后不应再被选中
	if due := l.DueForFeedback(2000, base, max); len(due) != 0 {
		t.Error("退避翻倍后不应提前选中")
	}
	if due := l.DueForFeedback(3000, base, max); len(due) != 1 {
		t.Error("翻倍间隔到期后应再次选中")
	}
	if k := l.Retries(5); k != 2 {
		t.Errorf("K 应严格递增到 2: got %d", k)
	}

	// 间隔封顶
	l2 := New(0)
	l2.RecordGap(9, 9, 0)
	now := uint32(0)
	for i := 0; i < 30; i++ {
		now += max
		l2.DueForFeedback(now, base, max)
	}
	if k := l2.Retries(9); k != 30 {
		t.Errorf("封顶间隔下每次到期都应选中: got K=%d, want 30", k)
	}
}

func TestRemoveRange(t *testing.T) {
	l := New(0)
	l.RecordGap(10, 20, 0)

	if removed := l.RemoveRange(12, 15); removed != 4 {
		t.Errorf("移除数不正确: got %d, want 4", removed)
	}
	if l.Contains(12) || l.Contains(15) {
		t.Error("区间内条目应被移除")
	}
	if !l.Contains(11) || !l.Contains(16) {
		t.Error("区间外条目不应被移除")
	}
}

func TestCapacityEviction(t *testing.T) {
	l := New(4)

	first, last, dropped := l.RecordGap(1, 6, 0)

	if l.Len() != 4 {
		t.Errorf("容量上限未生效: got %d, want 4", l.Len())
	}
	// 最老 (序列号最小) 的条目被淘汰
	if dropped != 2 || first != 1 || last != 2 {
		t.Errorf("淘汰区间不正确: got [%d,%d]x%d, want [1,2]x2", first, last, dropped)
	}
	if l.Evicted() != 2 {
		t.Errorf("淘汰计数不正确: got %d, want 2", l.Evicted())
	}
	if l.Contains(1) {
		t.Error("被淘汰的条目不应残留")
	}
}

func TestRecordGapClampsOversizedGap(t *testing.T) {
	l := New(64)

	// 单个声称跳跃千万的空洞: 只保留最新 64 个，前缀整体按丢弃处理，
	// 绝不为超限部分分配条目
	first, last, dropped := l.RecordGap(0, 9_999_999, 0)

	if l.Len() != 64 {
		t.Fatalf("超大空洞后条目数 = %d, want 64", l.Len())
	}
	if dropped != 9_999_936 || first != 0 || last != 9_999_935 {
		t.Errorf("丢弃区间不正确: got [%d,%d]x%d, want [0,9999935]x9999936",
			first, last, dropped)
	}
	if l.Evicted() != 9_999_936 {
		t.Errorf("淘汰计数不正确: got %d", l.Evicted())
	}
	if l.Contains(9_999_935) || !l.Contains(9_999_936) || !l.Contains(9_999_999) {
		t.Error("应只保留空洞尾部的 64 个序列号")
	}
}

func TestRecordGapClampMergesOldEvictions(t *testing.T) {
	l := New(64)
	l.RecordGap(1, 2, 0)

	// 超大空洞截断前缀，同时把旧条目挤出头部: 返回的区间必须覆盖两者
	first, last, dropped := l.RecordGap(10, 10+1000, 0)

	if l.Len() != 64 {
		t.Fatalf("条目数 = %d, want 64", l.Len())
	}
	// 前缀丢弃 1001-64=937 个 (10..946)，旧条目 1,2 也被挤出
	if dropped != 939 || first != 1 || last != 946 {
		t.Errorf("合并区间不正确: got [%d,%d]x%d, want [1,946]x939",
			first, last, dropped)
	}
	if l.Contains(1) || l.Contains(946) || !l.Contains(947) {
		t.Error("保留的条目应为空洞尾部 947..1010")
	}
}
