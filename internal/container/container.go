package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"exchange-connector-go/config"
	"exchange-connector-go/gateway"
	"exchange-connector-go/infrastructure/alert"
	"exchange-connector-go/infrastructure/logger"
	"exchange-connector-go/internal/engine"
	"exchange-connector-go/metrics"
	"exchange-connector-go/order"
	"exchange-connector-go/recorder"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg *config.AppConfig

	// 基础设施
	logger *logger.Logger

	// 交易所网关
	venue  *gateway.RESTVenue
	source *gateway.WSSource

	// 核心服务
	engine  *engine.ConnectorEngine
	journal *recorder.Journal
	alerts  *alert.Manager

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}, nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := c.cfg.Logger
	if logCfg.Level == "" {
		logCfg = logger.DefaultConfig()
	}

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	c.venue = &gateway.RESTVenue{
		BaseURL:    c.cfg.Venue.BaseURL,
		APIKey:     c.cfg.Venue.APIKey,
		Secret:     c.cfg.Venue.APISecret,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		Limiter:    gateway.NewTokenBucketLimiter(25.0, 50),
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
	if c.cfg.Venue.WSURL != "" {
		c.source = gateway.NewWSSource(c.cfg.Venue.WSURL, c.cfg.Venue.Streams, c.logger.Logger)
	}

	c.logger.Info("gateway built")
	return nil
}

func (c *Container) buildEngine() error {
	rules, err := c.cfg.Rules()
	if err != nil {
		return fmt.Errorf("build trading rules failed: %w", err)
	}

	engCfg := engine.Config{
		VenueName: c.cfg.Venue.Name,
		Submitter: engine.SubmitterConfig{
			BatchingEnabled: c.cfg.Venue.BatchingEnabled,
			FlushInterval:   c.cfg.Engine.FlushInterval(),
			RequestTimeout:  c.cfg.Engine.RequestTimeout(),
			ConfirmOnPlace:  c.cfg.Venue.ConfirmOnPlace,
			SyncCancel:      c.cfg.Venue.SyncCancel,
			IDPrefix:        c.cfg.Engine.IDPrefix,
		},
		Dispatcher: engine.DispatcherConfig{
			ShortPollInterval:   time.Duration(c.cfg.Engine.ShortPollSec) * time.Second,
			LongPollInterval:    time.Duration(c.cfg.Engine.LongPollSec) * time.Second,
			PushFreshnessWindow: time.Duration(c.cfg.Engine.PushFreshnessSec) * time.Second,
		},
		Reconcile: engine.ReconcilerConfig{
			Interval: time.Duration(c.cfg.Engine.ReconcileIntervalSec) * time.Second,
		},
		EnableReconcile: c.cfg.Venue.SettlesOnChain,
		NotFoundLimit:   c.cfg.Engine.NotFoundLimit,
		HashSeed:        c.cfg.Venue.SubaccountSeed,
	}

	var source gateway.PushSource
	if c.source != nil {
		source = c.source
	}
	c.engine, err = engine.New(engCfg, engine.Components{
		Venue:  c.venue,
		Rules:  staticRules(rules),
		Source: source,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("create engine failed: %w", err)
	}

	if c.cfg.Journal.Enabled {
		c.journal, err = recorder.NewJournal(c.cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("create journal failed: %w", err)
		}
	}

	if c.cfg.Alerts.Enabled {
		channels := []alert.Channel{alert.NewZapChannel("log", c.logger.Logger)}
		if c.cfg.Alerts.WebhookURL != "" {
			channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alerts.WebhookURL, nil))
		}
		throttle := time.Duration(c.cfg.Alerts.ThrottleSec) * time.Second
		if throttle <= 0 {
			throttle = 30 * time.Second
		}
		c.alerts = alert.NewManager(channels, throttle)
	}

	c.logger.Info("engine built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		addr := c.cfg.Metrics.Addr
		if addr == "" {
			addr = ":9100"
		}
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: metrics.Handler(),
			addr:    addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	if c.alerts != nil {
		c.lifecycle.Register(&funcComponent{
			name: "alerts",
			startFn: func(ctx context.Context) error {
				return c.alerts.Start(ctx, c.engine.Events())
			},
			stopFn: c.alerts.Stop,
		})
	}
	if c.journal != nil {
		c.lifecycle.Register(&funcComponent{
			name: "journal",
			startFn: func(ctx context.Context) error {
				return c.journal.Start(ctx, c.engine.Events())
			},
			stopFn: c.journal.Stop,
		})
	}
	c.lifecycle.Register(&funcComponent{
		name:    "engine",
		startFn: c.engine.Start,
		stopFn:  c.engine.Stop,
		healthFn: func() error {
			if st := c.engine.State(); st != engine.StateRunning {
				return fmt.Errorf("engine state %s", st)
			}
			return nil
		},
	})
}

// Start 启动容器
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 安全清场后停止容器：先撤掉全部在途订单，再逆序停组件。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, res := range c.engine.CancelAll(ctx, 10*time.Second) {
		if res.Err != nil {
			c.logger.LogError(res.Err, map[string]interface{}{
				"action":          "shutdown_cancel",
				"client_order_id": res.ClientOrderID,
			})
		}
	}

	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		return err
	}

	if c.logger != nil {
		c.logger.Close()
	}
	return nil
}

// Engine 返回连接器引擎。
func (c *Container) Engine() *engine.ConnectorEngine {
	return c.engine
}

// Config 返回当前配置。
func (c *Container) Config() *config.AppConfig {
	return c.cfg
}

// HealthCheck 检查所有组件健康状态。
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// staticRules 把配置里的规则表适配成 RulesProvider。
type staticRules map[string]order.TradingRule

func (r staticRules) RuleFor(pair string) (order.TradingRule, bool) {
	rule, ok := r[pair]
	return rule, ok
}
