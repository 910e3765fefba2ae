package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "FINRADAR_CONFIG"

type Config struct {
	AppPort string
	// BasicAuthUser / BasicAuthPass 同时配置时，状态 API 启用 Basic Auth
	BasicAuthUser string
	BasicAuthPass string

	PostgresDSN string
	RedisAddr   string

	CronSpec string

	// OutputDir 为结果文件根目录，每个数据源一个子目录
	OutputDir string
	// ProjectRoot 为外部工具的工作目录
	ProjectRoot string

	Sources Sources
}

// Sources 对应 YAML 配置文件中各数据源的设置
type Sources struct {
	Market     MarketConfig     `yaml:"market"`
	Twitter    TwitterConfig    `yaml:"twitter"`
	Wechat     WechatConfig     `yaml:"wechat"`
	TrendRadar TrendRadarConfig `yaml:"trendradar"`
}

// Switch 表示数据源开关；未配置时视为启用，只有显式 enabled: false 才禁用
type Switch struct {
	Enabled *bool `yaml:"enabled"`
}

func (s Switch) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type MarketConfig struct {
	Switch     `yaml:",inline"`
	StockCodes []string `yaml:"stock_codes"`
	GoldAPIURL string   `yaml:"gold_api_url"`
}

type TwitterConfig struct {
	Switch    `yaml:",inline"`
	Instances []string `yaml:"instances"`
	Accounts  []string `yaml:"accounts"`
}

type WechatConfig struct {
	Switch                `yaml:",inline"`
	ServiceURL            string  `yaml:"service_url"`
	AuthKey               string  `yaml:"auth_key"`
	TimeoutSec            float64 `yaml:"timeout"`
	MaxAgeHours           float64 `yaml:"max_age_hours"`
	FetchContent          bool    `yaml:"fetch_content"`
	ContentDelaySec       float64 `yaml:"content_delay"`
	AccountDelaySec       float64 `yaml:"account_delay"`
	MaxArticlesPerAccount int     `yaml:"max_articles_per_account"`
	MaxAccounts           int     `yaml:"max_accounts"`
	MaxRetained           int     `yaml:"max_retained"`
	// Accounts 按分组配置公众号名称，分组名只用于阅读
	Accounts yaml.Node `yaml:"accounts"`
}

type TrendRadarConfig struct {
	Switch     `yaml:",inline"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	Dir        string   `yaml:"dir"`
	TimeoutSec float64  `yaml:"timeout"`
}

func (w WechatConfig) Timeout() time.Duration      { return seconds(w.TimeoutSec) }
func (w WechatConfig) ContentDelay() time.Duration { return seconds(w.ContentDelaySec) }
func (w WechatConfig) AccountDelay() time.Duration { return seconds(w.AccountDelaySec) }
func (t TrendRadarConfig) Timeout() time.Duration  { return seconds(t.TimeoutSec) }

// AllAccounts 按配置文件中的声明顺序展开所有分组，去掉空白与重复项
func (w WechatConfig) AllAccounts() []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	node := &w.Accounts
	switch node.Kind {
	case yaml.SequenceNode:
		for _, n := range node.Content {
			add(n.Value)
		}
	case yaml.MappingNode:
		// Content 依次为 key、value
		for i := 1; i < len(node.Content); i += 2 {
			group := node.Content[i]
			if group.Kind == yaml.SequenceNode {
				for _, n := range group.Content {
					add(n.Value)
				}
			} else {
				add(group.Value)
			}
		}
	}
	return out
}

// Cutoff 根据 max_age_hours 计算本次运行的最早发布时间；未配置时返回 nil 表示不过滤
func (w WechatConfig) Cutoff(now time.Time) *time.Time {
	if w.MaxAgeHours <= 0 {
		return nil
	}
	c := now.Add(-time.Duration(w.MaxAgeHours * float64(time.Hour)))
	return &c
}

// Load 读取环境变量与可选的 YAML 配置文件。配置文件无法读取或解析时返回错误，
// 由入口决定是否终止
func Load() (*Config, error) {
	cfg := &Config{
		AppPort:       getEnv("APP_PORT", "9000"),
		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		CronSpec:      getEnv("CRON_SPEC", "0 8 * * *"),
		OutputDir:     getEnv("OUTPUT_DIR", "output"),
		ProjectRoot:   getEnv("PROJECT_ROOT", "."),
		Sources:       defaultSources(),
	}

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg.Sources); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Sources.applyDefaults()

	log.Printf("config loaded: port=%s cron=%s output=%s", cfg.AppPort, cfg.CronSpec, cfg.OutputDir)
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WECHAT_SERVICE_URL"); v != "" {
		c.Sources.Wechat.ServiceURL = v
	}
	if v := os.Getenv("WECHAT_AUTH_KEY"); v != "" {
		c.Sources.Wechat.AuthKey = v
	}
	if v := os.Getenv("ASHARE_STOCK_CODES"); v != "" {
		c.Sources.Market.StockCodes = splitList(v)
	}
	if v := os.Getenv("GOLD_API_URL"); v != "" {
		c.Sources.Market.GoldAPIURL = v
	}
}

func defaultSources() Sources {
	return Sources{
		Twitter: TwitterConfig{
			Instances: []string{"https://nitter.net", "https://nitter.privacydev.net", "https://nitter.poast.org"},
		},
		Wechat: WechatConfig{
			ServiceURL:            "http://localhost:3000",
			TimeoutSec:            30,
			MaxAgeHours:           24,
			ContentDelaySec:       2,
			AccountDelaySec:       0.5,
			MaxArticlesPerAccount: 10,
			MaxAccounts:           15,
			MaxRetained:           100,
		},
		TrendRadar: TrendRadarConfig{
			Command:    "python",
			Args:       []string{"-m", "trendradar"},
			TimeoutSec: 300,
		},
	}
}

// applyDefaults 兜底 YAML 中被显式写成 0 的数值项
func (s *Sources) applyDefaults() {
	def := defaultSources()
	if s.Wechat.TimeoutSec <= 0 {
		s.Wechat.TimeoutSec = def.Wechat.TimeoutSec
	}
	if s.Wechat.MaxArticlesPerAccount <= 0 {
		s.Wechat.MaxArticlesPerAccount = def.Wechat.MaxArticlesPerAccount
	}
	if s.Wechat.MaxAccounts <= 0 {
		s.Wechat.MaxAccounts = def.Wechat.MaxAccounts
	}
	if s.Wechat.MaxRetained <= 0 {
		s.Wechat.MaxRetained = def.Wechat.MaxRetained
	}
	if s.TrendRadar.TimeoutSec <= 0 {
		s.TrendRadar.TimeoutSec = def.TrendRadar.TimeoutSec
	}
	if s.TrendRadar.Command == "" {
		s.TrendRadar.Command = def.TrendRadar.Command
		s.TrendRadar.Args = def.TrendRadar.Args
	}
	if len(s.Twitter.Instances) == 0 {
		s.Twitter.Instances = def.Twitter.Instances
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
