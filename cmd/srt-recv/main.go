// =============================================================================
// 文件: cmd/srt-recv/main.go
// 描述: 主程序入口 - 可靠 UDP 接收端，集成 Prometheus 指标
// =============================================================================
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mrcgq/srt-go/internal/config"
	"github.com/mrcgq/srt-go/internal/metrics"
	"github.com/mrcgq/srt-go/internal/receiver"
	"github.com/mrcgq/srt-go/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
	startTime = time.Now()
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("listen", "", "覆盖监听地址")
	mode := flag.String("mode", "", "传输模式: udp/websocket")
	order := flag.String("order", "", "交付顺序: arrival/sequence")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	// 加载配置; 文件缺失时允许纯命令行启动
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
	}

	// 命令行覆盖
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *order != "" {
		cfg.Receiver.DeliveryOrder = *order
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建传输
	var tr transport.Transport
	switch cfg.Mode {
	case "websocket":
		tr, err = transport.ListenWebSocket(cfg.WebSocket.Listen, cfg.WebSocket.Path)
	default:
		tr, err = transport.ListenUDP(cfg.Listen)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "传输启动失败: %v\n", err)
		os.Exit(1)
	}

	// 创建连接管理器
	mgr := receiver.NewManager(tr, cfg.Receiver.ToReceiverConfig())

	// 创建 Metrics 服务器
	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		metricsServer.MustRegisterCollector(metrics.NewReceiverCollector(mgr))
		metricsServer.SetRunCheck(mgr.Running)
		metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return createHealthStatus(mgr)
		})

		if err := metricsServer.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics 启动失败: %v\n", err)
		}
	}

	// 载荷消费者: 默认只做吞吐统计落日志
	go consumePayloads(ctx, mgr)

	// 启动分流循环
	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(ctx) }()

	printBanner(cfg, metricsServer)

	// 等待信号或致命错误
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\n正在关闭...")
	case err := <-runDone:
		if err != nil && err != context.Canceled {
			log.Printf("[主程序] 分流循环退出: %v", err)
		}
	}

	cancel()
	tr.Close()
	if metricsServer != nil {
		metricsServer.Stop()
	}
}

// consumePayloads 消费合并交付序列，周期性输出吞吐摘要
func consumePayloads(ctx context.Context, mgr *receiver.Manager) {
	var count, bytes uint64
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-mgr.Payloads():
			if !ok {
				return
			}
			count++
			bytes += uint64(len(d.Data))
		case <-ticker.C:
			if count > 0 {
				log.Printf("[交付] 连接 %d 个, 载荷 %d 个, 共 %d 字节",
					mgr.ConnCount(), count, bytes)
			}
		}
	}
}

// =============================================================================
// 健康检查
// =============================================================================

func createHealthStatus(mgr *receiver.Manager) metrics.HealthStatus {
	status := metrics.HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		Uptime:     time.Since(startTime),
		Components: make(map[string]metrics.ComponentHealth),
	}

	demuxStatus := "healthy"
	if !mgr.Running() {
		demuxStatus = "unhealthy"
		status.Status = "unhealthy"
	}
	status.Components["demux"] = metrics.ComponentHealth{
		Status: demuxStatus,
	}

	status.Components["connections"] = metrics.ComponentHealth{
		Status:  "healthy",
		Message: fmt.Sprintf("active: %d", mgr.ConnCount()),
	}

	stats := mgr.AggregateStats()
	lossStatus := "healthy"
	if stats.LossListLen > 4096 {
		lossStatus = "degraded"
		status.Status = "degraded"
	}
	status.Components["loss_list"] = metrics.ComponentHealth{
		Status:  lossStatus,
		Message: fmt.Sprintf("entries: %d", stats.LossListLen),
	}

	return status
}

// =============================================================================
// 版本和横幅
// =============================================================================

func printVersion() {
	fmt.Printf("SRT Receiver v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("传输模式:")
	fmt.Println("  - udp       : 原生 UDP 数据报 (默认)")
	fmt.Println("  - websocket : WebSocket 封装 (穿越受限网络)")
	fmt.Println()
	fmt.Println("交付顺序:")
	fmt.Println("  - arrival   : 到达即交付 (默认, 低延迟)")
	fmt.Println("  - sequence  : 按序列号重组后交付")
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics  : Prometheus 格式指标")
	fmt.Println("  - /health   : JSON 健康状态")
}

func printBanner(cfg *config.Config, ms *metrics.MetricsServer) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║         SRT Receiver v%-44s ║\n", Version)
	fmt.Println("║         丢失检测 + NAK 重传反馈 + RTT/到达速率估算               ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  传输模式: %-53s ║\n", cfg.Mode)
	fmt.Printf("║  监听地址: %-53s ║\n", listenAddr(cfg))
	fmt.Printf("║  交付顺序: %-53s ║\n", cfg.Receiver.DeliveryOrder)
	fmt.Printf("║  ACK 周期: %-53s ║\n", fmt.Sprintf("%d ms", cfg.Receiver.AckIntervalMs))
	fmt.Printf("║  NAK 周期: %-53s ║\n", fmt.Sprintf("%d ms (随 RTT 自适应)", cfg.Receiver.NakIntervalMs))

	if ms != nil {
		fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
		fmt.Printf("║  Prometheus: http://localhost%s%-35s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		fmt.Printf("║  健康检查:   http://localhost%s%-33s ║\n", cfg.Metrics.Listen, cfg.Metrics.HealthPath)
	}

	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func listenAddr(cfg *config.Config) string {
	if cfg.Mode == "websocket" {
		return fmt.Sprintf("%s (路径 %s)", cfg.WebSocket.Listen, cfg.WebSocket.Path)
	}
	return cfg.Listen
}
