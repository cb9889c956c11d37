// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 确保错误配置能在启动前被拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mrcgq/srt-go/internal/receiver"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Listen != ":54321" {
			t.Errorf("Listen 默认值错误: got %s, want :54321", cfg.Listen)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
		if cfg.Mode != "udp" {
			t.Errorf("Mode 默认值错误: got %s, want udp", cfg.Mode)
		}
	})

	t.Run("接收配置默认值", func(t *testing.T) {
		if cfg.Receiver.AckIntervalMs != 10 {
			t.Errorf("AckIntervalMs 默认值错误: got %d, want 10", cfg.Receiver.AckIntervalMs)
		}
		if cfg.Receiver.NakIntervalMs != 20 {
			t.Errorf("NakIntervalMs 默认值错误: got %d, want 20", cfg.Receiver.NakIntervalMs)
		}
		if cfg.Receiver.ExpThreshold != 16 {
			t.Errorf("ExpThreshold 默认值错误: got %d, want 16", cfg.Receiver.ExpThreshold)
		}
		if cfg.Receiver.DeliveryOrder != "arrival" {
			t.Errorf("DeliveryOrder 默认值错误: got %s, want arrival", cfg.Receiver.DeliveryOrder)
		}
		if cfg.Receiver.MaxLossEntries != 8192 {
			t.Errorf("MaxLossEntries 默认值错误: got %d, want 8192", cfg.Receiver.MaxLossEntries)
		}
	})

	t.Run("监控配置默认值", func(t *testing.T) {
		if !cfg.Metrics.Enabled {
			t.Error("Metrics.Enabled 默认应为 true")
		}
		if cfg.Metrics.Listen != ":9100" {
			t.Errorf("Metrics.Listen 默认值错误: got %s, want :9100", cfg.Metrics.Listen)
		}
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("Metrics.Path 默认值错误: got %s, want /metrics", cfg.Metrics.Path)
		}
	})

	t.Run("默认配置必须通过校验", func(t *testing.T) {
		if err := cfg.Validate(); err != nil {
			t.Errorf("默认配置校验失败: %v", err)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidateMode(t *testing.T) {
	cfg := validConfig()

	cfg.Mode = "tcp"
	if err := cfg.Validate(); err == nil {
		t.Error("无效传输模式应被拦截")
	}

	cfg.Mode = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("空模式应回退为默认: %v", err)
	}
	if cfg.Mode != "udp" {
		t.Errorf("空模式应回退为 udp，实际: %s", cfg.Mode)
	}
}

func TestValidatePortConflict(t *testing.T) {
	t.Run("监控端口与主端口冲突", func(t *testing.T) {
		cfg := validConfig()
		cfg.Listen = ":9100"
		if err := cfg.Validate(); err == nil {
			t.Error("端口冲突应被拦截")
		} else if !strings.Contains(err.Error(), "冲突") {
			t.Errorf("错误信息应说明冲突: %v", err)
		}
	})

	t.Run("监控禁用时不检查冲突", func(t *testing.T) {
		cfg := validConfig()
		cfg.Listen = ":9100"
		cfg.Metrics.Enabled = false
		if err := cfg.Validate(); err != nil {
			t.Errorf("监控禁用时不应报冲突: %v", err)
		}
	})

	t.Run("websocket端口与监控端口冲突", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "websocket"
		cfg.WebSocket.Listen = ":9100"
		cfg.Metrics.Listen = ":9100"
		if err := cfg.Validate(); err == nil {
			t.Error("websocket 与监控端口冲突应被拦截")
		}
	})
}

func TestValidateListenFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Listen = "not-an-addr"
	if err := cfg.Validate(); err == nil {
		t.Error("非法监听地址应被拦截")
	}
}

func TestValidateWebSocketPath(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "websocket"
	cfg.WebSocket.Path = "srt"
	if err := cfg.Validate(); err == nil {
		t.Error("不以 / 开头的路径应被拦截")
	}
}

func TestValidateReceiverRanges(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"ack_interval 过大", func(c *Config) { c.Receiver.AckIntervalMs = 5000 }},
		{"ack_interval 为零", func(c *Config) { c.Receiver.AckIntervalMs = 0 }},
		{"nak_backoff 小于基准", func(c *Config) { c.Receiver.NakBackoffMaxMs = 1 }},
		{"exp_threshold 为零", func(c *Config) { c.Receiver.ExpThreshold = 0 }},
		{"initial_rtt 过大", func(c *Config) { c.Receiver.InitialRTTMs = 99999 }},
		{"交付顺序非法", func(c *Config) { c.Receiver.DeliveryOrder = "random" }},
		{"loss 上限过小", func(c *Config) { c.Receiver.MaxLossEntries = 1 }},
		{"reorder 窗口过大", func(c *Config) { c.Receiver.ReorderWindow = 1 << 20 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mod(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("非法取值应被拦截")
			}
		})
	}
}

func TestDeliveryOrderDefaultsToArrival(t *testing.T) {
	cfg := validConfig()
	cfg.Receiver.DeliveryOrder = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("空交付顺序应回退为默认: %v", err)
	}
	if cfg.Receiver.DeliveryOrder != "arrival" {
		t.Errorf("交付顺序应回退为 arrival，实际: %s", cfg.Receiver.DeliveryOrder)
	}
}

// =============================================================================
// 加载测试
// =============================================================================

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `
listen: ":12345"
log_level: "debug"
receiver:
  ack_interval_ms: 5
  delivery_order: "sequence"
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Listen != ":12345" {
		t.Errorf("Listen = %s，期望 :12345", cfg.Listen)
	}
	if cfg.Receiver.AckIntervalMs != 5 {
		t.Errorf("AckIntervalMs = %d，期望 5", cfg.Receiver.AckIntervalMs)
	}
	// 未指定的字段保持默认
	if cfg.Receiver.NakIntervalMs != 20 {
		t.Errorf("NakIntervalMs = %d，期望默认 20", cfg.Receiver.NakIntervalMs)
	}
	if cfg.Receiver.DeliveryOrder != "sequence" {
		t.Errorf("DeliveryOrder = %s，期望 sequence", cfg.Receiver.DeliveryOrder)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("缺失文件应返回错误")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "listen: [broken")
	if _, err := Load(path); err == nil {
		t.Error("语法错误的 YAML 应返回错误")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	path := writeTempConfig(t, `
receiver:
  ack_interval_ms: 0
`)
	if _, err := Load(path); err == nil {
		t.Error("非法取值的配置应在加载时被拦截")
	}
}

// =============================================================================
// 转换与示例配置
// =============================================================================

func TestToReceiverConfig(t *testing.T) {
	cfg := DefaultConfig()
	rc := cfg.Receiver.ToReceiverConfig()

	if rc.AckInterval != 10*time.Millisecond {
		t.Errorf("AckInterval = %v，期望 10ms", rc.AckInterval)
	}
	if rc.Order != receiver.OrderArrival {
		t.Errorf("Order = %v，期望 arrival", rc.Order)
	}
	if rc.MaxLossEntries != 8192 {
		t.Errorf("MaxLossEntries = %d，期望 8192", rc.MaxLossEntries)
	}

	cfg.Receiver.DeliveryOrder = "sequence"
	if cfg.Receiver.ToReceiverConfig().Order != receiver.OrderSequence {
		t.Error("sequence 应映射为 OrderSequence")
	}
}

func TestWriteExampleConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	// 示例配置必须能原样加载并通过校验
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("示例配置加载失败: %v", err)
	}
	if cfg.Mode != "udp" {
		t.Errorf("示例配置 Mode = %s，期望 udp", cfg.Mode)
	}
}

func TestGetListenHostPort(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GetListenPort() != 54321 {
		t.Errorf("GetListenPort = %d，期望 54321", cfg.GetListenPort())
	}

	cfg.Listen = "10.0.0.1:8000"
	if cfg.GetListenHost() != "10.0.0.1" || cfg.GetListenPort() != 8000 {
		t.Errorf("host:port 解析不正确: %s:%d", cfg.GetListenHost(), cfg.GetListenPort())
	}
}
