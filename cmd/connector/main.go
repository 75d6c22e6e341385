package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"exchange-connector-go/config"
	"exchange-connector-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/connector.yaml", "配置文件路径")
	watchConfig := flag.Bool("watch", false, "监听配置文件变化")
	flag.Parse()

	// .env 里的密钥通过环境变量覆盖配置
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	if *watchConfig {
		startConfigWatcher(ctx, *cfgPath, c)
	}

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("收到信号 %v，开始退出", sig)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.Stop(); err != nil {
			log.Printf("停止出错: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("停止超时，强制退出")
	}
}

// startConfigWatcher 热加载目前只对日志级别等安全项生效，
// 引擎参数仍需重启进程。
func startConfigWatcher(ctx context.Context, path string, c *container.Container) {
	w, err := config.NewWatcher(path, config.WatcherConfig{})
	if err != nil {
		log.Printf("配置监听创建失败: %v", err)
		return
	}
	err = w.Start(ctx, func(cfg config.AppConfig) {
		log.Printf("配置文件已更新 (env=%s)", cfg.Env)
	})
	if err != nil {
		log.Printf("配置监听启动失败: %v", err)
	}
}
