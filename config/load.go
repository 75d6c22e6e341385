package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"exchange-connector-go/infrastructure/logger"
	"exchange-connector-go/order"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                `yaml:"env"`
	Venue   VenueConfig           `yaml:"venue"`
	Engine  EngineConfig          `yaml:"engine"`
	Logger  logger.Config         `yaml:"logger"`
	Metrics MetricsConfig         `yaml:"metrics"`
	Journal JournalConfig         `yaml:"journal"`
	Alerts  AlertConfig           `yaml:"alerts"`
	Pairs   map[string]PairConfig `yaml:"pairs"`
}

type VenueConfig struct {
	Name            string   `yaml:"name"`
	APIKey          string   `yaml:"apiKey"`
	APISecret       string   `yaml:"apiSecret"`
	BaseURL         string   `yaml:"baseURL"`
	WSURL           string   `yaml:"wsURL"`
	Streams         []string `yaml:"streams"`
	SettlesOnChain  bool     `yaml:"settlesOnChain"` // 链上结算：预生成订单号并开启对账
	SubaccountSeed  string   `yaml:"subaccountSeed"`
	ConfirmOnPlace  bool     `yaml:"confirmOnPlace"`
	SyncCancel      bool     `yaml:"syncCancel"`
	BatchingEnabled bool     `yaml:"batchingEnabled"`
}

type EngineConfig struct {
	IDPrefix             string `yaml:"idPrefix"`
	NotFoundLimit        int    `yaml:"notFoundLimit"`        // 连续not-found判定失败的阈值
	FlushIntervalMs      int    `yaml:"flushIntervalMs"`      // 批量flush周期
	RequestTimeoutMs     int    `yaml:"requestTimeoutMs"`     // 单次交易所调用超时
	ShortPollSec         int    `yaml:"shortPollSec"`         // 推送失联时的轮询间隔
	LongPollSec          int    `yaml:"longPollSec"`          // 推送健康时的轮询间隔
	PushFreshnessSec     int    `yaml:"pushFreshnessSec"`     // 推送新鲜度窗口
	ReconcileIntervalSec int    `yaml:"reconcileIntervalSec"` // 对账间隔
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite 文件路径
}

type AlertConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WebhookURL  string `yaml:"webhookURL"`
	ThrottleSec int    `yaml:"throttleSec"`
}

// PairConfig 保存交易对的精度/名义限制（来自交易所元数据）。
// 数值用字符串承载，避免浮点精度损失。
type PairConfig struct {
	TickSize    string   `yaml:"tickSize"`
	StepSize    string   `yaml:"stepSize"`
	MinQty      string   `yaml:"minQty"`
	MaxQty      string   `yaml:"maxQty"`
	MinNotional string   `yaml:"minNotional"`
	OrderTypes  []string `yaml:"orderTypes"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CONNECTOR_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("CONNECTOR_API_SECRET"); v != "" {
		cfg.Venue.APISecret = v
	}
	if v := os.Getenv("CONNECTOR_SUBACCOUNT_SEED"); v != "" {
		cfg.Venue.SubaccountSeed = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Venue.Name == "" {
		return errors.New("venue.name is required")
	}
	if cfg.Venue.APIKey == "" || cfg.Venue.APISecret == "" {
		return errors.New("venue.apiKey/apiSecret is required (or env overrides)")
	}
	if cfg.Venue.SettlesOnChain && cfg.Venue.SubaccountSeed == "" {
		return errors.New("venue.subaccountSeed is required when settlesOnChain is set")
	}
	if cfg.Engine.NotFoundLimit < 0 {
		return errors.New("engine.notFoundLimit must be >= 0")
	}
	if cfg.Engine.FlushIntervalMs < 0 || cfg.Engine.RequestTimeoutMs < 0 {
		return errors.New("engine intervals must be >= 0")
	}
	if len(cfg.Pairs) == 0 {
		return errors.New("pairs config is required")
	}
	for pair, pc := range cfg.Pairs {
		if _, err := pc.Rule(pair); err != nil {
			return fmt.Errorf("pair %s: %w", pair, err)
		}
	}
	return ValidateParams(cfg)
}

// Rule 把交易对配置转换为交易规则。
func (pc PairConfig) Rule(pair string) (order.TradingRule, error) {
	rule := order.TradingRule{TradingPair: pair}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tickSize", pc.TickSize, &rule.TickSize},
		{"stepSize", pc.StepSize, &rule.StepSize},
		{"minQty", pc.MinQty, &rule.MinOrderSize},
		{"maxQty", pc.MaxQty, &rule.MaxOrderSize},
		{"minNotional", pc.MinNotional, &rule.MinNotional},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return rule, fmt.Errorf("%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return rule, fmt.Errorf("%s must be >= 0", f.name)
		}
		*f.dst = d
	}
	for _, t := range pc.OrderTypes {
		rule.SupportedTypes = append(rule.SupportedTypes, order.Type(t))
	}
	return rule, nil
}

// Rules 把全部交易对配置转换为规则表。配置已通过 Validate 时不会失败。
func (c AppConfig) Rules() (map[string]order.TradingRule, error) {
	rules := make(map[string]order.TradingRule, len(c.Pairs))
	for pair, pc := range c.Pairs {
		rule, err := pc.Rule(pair)
		if err != nil {
			return nil, err
		}
		rules[pair] = rule
	}
	return rules, nil
}

// FlushInterval 返回批量flush周期，零值用默认。
func (c EngineConfig) FlushInterval() time.Duration {
	if c.FlushIntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// RequestTimeout 返回单次请求超时，零值用默认。
func (c EngineConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
