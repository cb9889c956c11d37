// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/srt-go/internal/receiver"
)

// =============================================================================
// 接收端收集器
// =============================================================================

// ReceiverStats 接收端统计数据接口
type ReceiverStats interface {
	AggregateStats() receiver.Stats
	ConnCount() int64
	RouteDrops() uint64
}

// ReceiverCollector 接收端指标收集器
type ReceiverCollector struct {
	statsProvider ReceiverStats

	// 连接
	connsDesc      *prometheus.Desc
	routeDropsDesc *prometheus.Desc

	// 数据面
	packetsDesc       *prometheus.Desc
	dataDesc          *prometheus.Desc
	duplicatesDesc    *prometheus.Desc
	belatedDesc       *prometheus.Desc
	abandonedDesc     *prometheus.Desc
	deliveredDesc     *prometheus.Desc
	deliveryDropsDesc *prometheus.Desc

	// 反馈面
	acksDesc       *prometheus.Desc
	naksDesc       *prometheus.Desc
	nakSeqsDesc    *prometheus.Desc
	ack2Desc       *prometheus.Desc
	staleAck2Desc  *prometheus.Desc
	handshakesDesc *prometheus.Desc
	keepAlivesDesc *prometheus.Desc
	dropReqsDesc   *prometheus.Desc
	sendErrorsDesc *prometheus.Desc

	// 状态
	lossLenDesc     *prometheus.Desc
	lossEvictedDesc *prometheus.Desc
	rttDesc         *prometheus.Desc
	rttVarDesc      *prometheus.Desc
	expEventsDesc   *prometheus.Desc
}

// NewReceiverCollector 创建接收端收集器
func NewReceiverCollector(provider ReceiverStats) *ReceiverCollector {
	namespace := "srt"
	subsystem := "receiver"

	return &ReceiverCollector{
		statsProvider: provider,

		connsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connections"),
			"Number of active connections",
			nil, nil,
		),
		routeDropsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "route_drops_total"),
			"Packets dropped because a per-connection queue was full",
			nil, nil,
		),

		packetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_total"),
			"Total packets received (data and control)",
			nil, nil,
		),
		dataDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "data_packets_total"),
			"Total data packets received",
			nil, nil,
		),
		duplicatesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "duplicates_total"),
			"Data packets discarded as duplicates",
			nil, nil,
		),
		belatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "belated_total"),
			"Late packets that filled a loss-list hole",
			nil, nil,
		),
		abandonedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "abandoned_total"),
			"Late packets for sequences already given up on",
			nil, nil,
		),
		deliveredDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "delivered_total"),
			"Payloads delivered to the application",
			nil, nil,
		),
		deliveryDropsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "delivery_drops_total"),
			"Payloads dropped because the delivery queue was full",
			nil, nil,
		),

		acksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "acks_sent_total"),
			"ACK packets sent",
			nil, nil,
		),
		naksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "naks_sent_total"),
			"NAK packets sent",
			nil, nil,
		),
		nakSeqsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "nak_sequences_total"),
			"Individual sequence numbers reported in NAKs",
			nil, nil,
		),
		ack2Desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ack2_received_total"),
			"ACK2 packets correlated with a sent ACK",
			nil, nil,
		),
		staleAck2Desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ack2_stale_total"),
			"ACK2 packets that could not be correlated",
			nil, nil,
		),
		handshakesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "handshakes_reflected_total"),
			"Handshake packets reflected back to the peer",
			nil, nil,
		),
		keepAlivesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "keepalives_total"),
			"Keep-alive packets received",
			nil, nil,
		),
		dropReqsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "drop_requests_total"),
			"Drop request packets received",
			nil, nil,
		),
		sendErrorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "send_errors_total"),
			"Control packet send failures",
			nil, nil,
		),

		lossLenDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "loss_list_length"),
			"Current number of entries in the loss list",
			nil, nil,
		),
		lossEvictedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "loss_evicted_total"),
			"Loss entries evicted due to capacity pressure",
			nil, nil,
		),
		rttDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rtt_seconds"),
			"Smoothed round-trip time",
			nil, nil,
		),
		rttVarDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "rtt_variance_seconds"),
			"Round-trip time variance",
			nil, nil,
		),
		expEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "exp_events_total"),
			"Expiration timer events without traffic",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector
func (c *ReceiverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connsDesc
	ch <- c.routeDropsDesc
	ch <- c.packetsDesc
	ch <- c.dataDesc
	ch <- c.duplicatesDesc
	ch <- c.belatedDesc
	ch <- c.abandonedDesc
	ch <- c.deliveredDesc
	ch <- c.deliveryDropsDesc
	ch <- c.acksDesc
	ch <- c.naksDesc
	ch <- c.nakSeqsDesc
	ch <- c.ack2Desc
	ch <- c.staleAck2Desc
	ch <- c.handshakesDesc
	ch <- c.keepAlivesDesc
	ch <- c.dropReqsDesc
	ch <- c.sendErrorsDesc
	ch <- c.lossLenDesc
	ch <- c.lossEvictedDesc
	ch <- c.rttDesc
	ch <- c.rttVarDesc
	ch <- c.expEventsDesc
}

// Collect 实现 prometheus.Collector
func (c *ReceiverCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.statsProvider.AggregateStats()

	ch <- prometheus.MustNewConstMetric(c.connsDesc, prometheus.GaugeValue,
		float64(c.statsProvider.ConnCount()))
	ch <- prometheus.MustNewConstMetric(c.routeDropsDesc, prometheus.CounterValue,
		float64(c.statsProvider.RouteDrops()))

	ch <- prometheus.MustNewConstMetric(c.packetsDesc, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.dataDesc, prometheus.CounterValue, float64(s.DataReceived))
	ch <- prometheus.MustNewConstMetric(c.duplicatesDesc, prometheus.CounterValue, float64(s.Duplicates))
	ch <- prometheus.MustNewConstMetric(c.belatedDesc, prometheus.CounterValue, float64(s.Belated))
	ch <- prometheus.MustNewConstMetric(c.abandonedDesc, prometheus.CounterValue, float64(s.Abandoned))
	ch <- prometheus.MustNewConstMetric(c.deliveredDesc, prometheus.CounterValue, float64(s.Delivered))
	ch <- prometheus.MustNewConstMetric(c.deliveryDropsDesc, prometheus.CounterValue, float64(s.DeliveryDrops))

	ch <- prometheus.MustNewConstMetric(c.acksDesc, prometheus.CounterValue, float64(s.AcksSent))
	ch <- prometheus.MustNewConstMetric(c.naksDesc, prometheus.CounterValue, float64(s.NaksSent))
	ch <- prometheus.MustNewConstMetric(c.nakSeqsDesc, prometheus.CounterValue, float64(s.NakSeqs))
	ch <- prometheus.MustNewConstMetric(c.ack2Desc, prometheus.CounterValue, float64(s.Ack2Received))
	ch <- prometheus.MustNewConstMetric(c.staleAck2Desc, prometheus.CounterValue, float64(s.StaleAck2))
	ch <- prometheus.MustNewConstMetric(c.handshakesDesc, prometheus.CounterValue, float64(s.HandshakesReflected))
	ch <- prometheus.MustNewConstMetric(c.keepAlivesDesc, prometheus.CounterValue, float64(s.KeepAlives))
	ch <- prometheus.MustNewConstMetric(c.dropReqsDesc, prometheus.CounterValue, float64(s.DropRequests))
	ch <- prometheus.MustNewConstMetric(c.sendErrorsDesc, prometheus.CounterValue, float64(s.SendErrors))

	ch <- prometheus.MustNewConstMetric(c.lossLenDesc, prometheus.GaugeValue, float64(s.LossListLen))
	ch <- prometheus.MustNewConstMetric(c.lossEvictedDesc, prometheus.CounterValue, float64(s.LossEvicted))
	ch <- prometheus.MustNewConstMetric(c.rttDesc, prometheus.GaugeValue, float64(s.RTT)/1e6)
	ch <- prometheus.MustNewConstMetric(c.rttVarDesc, prometheus.GaugeValue, float64(s.RTTVar)/1e6)
	ch <- prometheus.MustNewConstMetric(c.expEventsDesc, prometheus.CounterValue, float64(s.ExpEvents))
}
