// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 传输/接收/监控配置的加载、校验与端口冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/srt-go/internal/receiver"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	Mode     string `yaml:"mode"` // udp, websocket

	Receiver  ReceiverConfig  `yaml:"receiver"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ReceiverConfig 接收端可靠性引擎配置
type ReceiverConfig struct {
	AckIntervalMs    int    `yaml:"ack_interval_ms"`
	NakIntervalMs    int    `yaml:"nak_interval_ms"`
	NakBackoffMaxMs  int    `yaml:"nak_backoff_max_ms"`
	ExpIntervalMs    int    `yaml:"exp_interval_ms"`
	ExpThreshold     int    `yaml:"exp_threshold"`
	InitialRTTMs     int    `yaml:"initial_rtt_ms"`
	DeliveryOrder    string `yaml:"delivery_order"` // arrival, sequence
	MaxLossEntries   int    `yaml:"max_loss_entries"`
	AckHistorySize   int    `yaml:"ack_history_size"`
	ArrivalWindow    int    `yaml:"arrival_window"`
	ReorderWindow    int    `yaml:"reorder_window"`
	PayloadQueueSize int    `yaml:"payload_queue_size"`
}

// WebSocketConfig WebSocket 传输配置
type WebSocketConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":54321",
		LogLevel: "info",
		Mode:     "udp",

		Receiver: ReceiverConfig{
			AckIntervalMs:    10,
			NakIntervalMs:    20,
			NakBackoffMaxMs:  5000,
			ExpIntervalMs:    500,
			ExpThreshold:     16,
			InitialRTTMs:     100,
			DeliveryOrder:    "arrival",
			MaxLossEntries:   8192,
			AckHistorySize:   1024,
			ArrivalWindow:    64,
			ReorderWindow:    1024,
			PayloadQueueSize: 1024,
		},

		WebSocket: WebSocketConfig{
			Listen: ":54323",
			Path:   "/srt",
		},

		Metrics: MetricsConfig{
			Enabled:     true,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Mode {
	case "udp", "websocket":
	case "":
		c.Mode = "udp"
	default:
		return fmt.Errorf("无效的传输模式: %s (支持: udp, websocket)", c.Mode)
	}

	// 验证主监听端口
	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	// 端口冲突检测
	ports := map[int]string{mainPort: "listen"}

	if c.Mode == "websocket" {
		wsPort, err := parsePort(c.WebSocket.Listen)
		if err != nil {
			return fmt.Errorf("websocket.listen 端口格式错误: %w", err)
		}
		if existing, exists := ports[wsPort]; exists && c.WebSocket.Listen != c.Listen {
			return fmt.Errorf("websocket.listen 端口 (%d) 与 %s 冲突", wsPort, existing)
		}
		ports[wsPort] = "websocket"
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path 必须以 / 开头: %s", c.WebSocket.Path)
		}
	}

	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if existing, exists := ports[metricsPort]; exists {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 %s 冲突", metricsPort, existing)
		}
	}

	if err := c.validateReceiverConfig(); err != nil {
		return fmt.Errorf("接收配置错误: %w", err)
	}

	return nil
}

// validateReceiverConfig 验证接收端配置
func (c *Config) validateReceiverConfig() error {
	r := &c.Receiver

	if r.AckIntervalMs < 1 || r.AckIntervalMs > 1000 {
		return fmt.Errorf("ack_interval_ms 需在 1-1000 之间")
	}
	if r.NakIntervalMs < 1 || r.NakIntervalMs > 1000 {
		return fmt.Errorf("nak_interval_ms 需在 1-1000 之间")
	}
	if r.NakBackoffMaxMs < r.NakIntervalMs || r.NakBackoffMaxMs > 60000 {
		return fmt.Errorf("nak_backoff_max_ms 需大于 nak_interval_ms 且不超过 60000")
	}
	if r.ExpIntervalMs < 10 || r.ExpIntervalMs > 60000 {
		return fmt.Errorf("exp_interval_ms 需在 10-60000 之间")
	}
	if r.ExpThreshold < 1 || r.ExpThreshold > 1024 {
		return fmt.Errorf("exp_threshold 需在 1-1024 之间")
	}
	if r.InitialRTTMs < 1 || r.InitialRTTMs > 10000 {
		return fmt.Errorf("initial_rtt_ms 需在 1-10000 之间")
	}

	switch r.DeliveryOrder {
	case "arrival", "sequence":
	case "":
		r.DeliveryOrder = "arrival"
	default:
		return fmt.Errorf("无效的交付顺序: %s (支持: arrival, sequence)", r.DeliveryOrder)
	}

	if r.MaxLossEntries < 64 || r.MaxLossEntries > 1<<20 {
		return fmt.Errorf("max_loss_entries 需在 64-1048576 之间")
	}
	if r.AckHistorySize < 16 || r.AckHistorySize > 65536 {
		return fmt.Errorf("ack_history_size 需在 16-65536 之间")
	}
	if r.ArrivalWindow < 16 || r.ArrivalWindow > 4096 {
		return fmt.Errorf("arrival_window 需在 16-4096 之间")
	}
	if r.ReorderWindow < 16 || r.ReorderWindow > 65536 {
		return fmt.Errorf("reorder_window 需在 16-65536 之间")
	}
	if r.PayloadQueueSize < 16 || r.PayloadQueueSize > 65536 {
		return fmt.Errorf("payload_queue_size 需在 16-65536 之间")
	}

	return nil
}

// ToReceiverConfig 转换为 receiver 包的配置类型
func (c *ReceiverConfig) ToReceiverConfig() *receiver.Config {
	order := receiver.OrderArrival
	if c.DeliveryOrder == "sequence" {
		order = receiver.OrderSequence
	}

	return &receiver.Config{
		AckInterval:    time.Duration(c.AckIntervalMs) * time.Millisecond,
		NakInterval:    time.Duration(c.NakIntervalMs) * time.Millisecond,
		NakBackoffMax:  time.Duration(c.NakBackoffMaxMs) * time.Millisecond,
		ExpInterval:    time.Duration(c.ExpIntervalMs) * time.Millisecond,
		ExpThreshold:   c.ExpThreshold,
		InitialRTT:     time.Duration(c.InitialRTTMs) * time.Millisecond,
		Order:          order,
		MaxLossEntries: c.MaxLossEntries,
		AckHistorySize: c.AckHistorySize,
		ArrivalWindow:  c.ArrivalWindow,
		ReorderWindow:  c.ReorderWindow,
		PayloadQueue:   c.PayloadQueueSize,
	}
}

func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// GetListenHost 获取监听地址
func (c *Config) GetListenHost() string {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return ""
	}
	return host
}

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# =============================================================================
# 可靠 UDP 接收端配置示例
# =============================================================================

# 主监听地址
listen: ":54321"

# 日志级别: debug, info, warn, error
log_level: "info"

# 传输模式: udp, websocket
mode: "udp"

# -----------------------------------------------------------------------------
# 接收端可靠性引擎
# -----------------------------------------------------------------------------
receiver:
  # ACK 发送周期 (毫秒)
  ack_interval_ms: 10

  # NAK 基准周期 (毫秒)，RTT 估计可用后自适应为 RTT+4*RTTVar
  nak_interval_ms: 20

  # 单条目 NAK 指数退避的间隔上限 (毫秒)
  nak_backoff_max_ms: 5000

  # 过期检查周期与连续无流量的升级阈值
  exp_interval_ms: 500
  exp_threshold: 16

  # RTT 初值 (毫秒)
  initial_rtt_ms: 100

  # 交付顺序: arrival (到达顺序) / sequence (序列号顺序)
  delivery_order: "arrival"

  # 容量上限
  max_loss_entries: 8192
  ack_history_size: 1024
  arrival_window: 64
  reorder_window: 1024
  payload_queue_size: 1024

# -----------------------------------------------------------------------------
# WebSocket 传输 (mode: websocket 时生效)
# -----------------------------------------------------------------------------
websocket:
  listen: ":54323"
  path: "/srt"

# -----------------------------------------------------------------------------
# Prometheus 监控
# -----------------------------------------------------------------------------
metrics:
  enabled: true
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
