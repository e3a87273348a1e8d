package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	QueryGuard QueryGuardConfig `mapstructure:"query_guard"`
	Audit      AuditConfig      `mapstructure:"audit"`
	FastFail   FastFailConfig   `mapstructure:"fast_fail"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置（审计事件归档库）
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（归档任务队列 + 共享判定缓存）
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, 文件路径
}

// QueryGuardConfig 查询防护配置
type QueryGuardConfig struct {
	// 表 -> 允许列 白名单，留空时使用内置白名单
	Whitelist        map[string][]string `mapstructure:"whitelist"`
	MaxStringLen     int                 `mapstructure:"max_string_len"`     // 单个字符串值上限（字符）
	MaxSerializedLen int                 `mapstructure:"max_serialized_len"` // 复合值序列化后上限（字节）
}

// AuditConfig 审计引擎配置
type AuditConfig struct {
	BufferSize     int    `mapstructure:"buffer_size"`     // 事件环形缓冲容量
	ArchiveEnabled bool   `mapstructure:"archive_enabled"` // 是否启用异步归档
	PatternsFile   string `mapstructure:"patterns_file"`   // 异常模式注册表文件（可选）
}

// FastFailConfig 快速失败配置
type FastFailConfig struct {
	FailureThreshold  int    `mapstructure:"failure_threshold"`   // 熔断失败阈值
	CooldownSeconds   int    `mapstructure:"cooldown_seconds"`    // 熔断冷却时间（秒）
	CacheTTLSeconds   int    `mapstructure:"cache_ttl_seconds"`   // 判定缓存 TTL（秒）
	CriticalLatencyMS int    `mapstructure:"critical_latency_ms"` // 无条件快速失败延迟阈值（毫秒）
	PatternsFile      string `mapstructure:"patterns_file"`       // 错误模式表文件（可选）
	UseRedisCache     bool   `mapstructure:"use_redis_cache"`     // 判定缓存是否使用 Redis
}

// GatewayConfig 网关健康监控配置
type GatewayConfig struct {
	BaseURL           string            `mapstructure:"base_url"`            // 网关地址
	AdminURL          string            `mapstructure:"admin_url"`           // 管理 API 地址
	ProxyToken        string            `mapstructure:"proxy_token"`         // 认证代理探测令牌
	SampleRoute       string            `mapstructure:"sample_route"`        // 代表性路由
	CheckInterval     int               `mapstructure:"check_interval"`      // 健康检查间隔（秒）
	AggregateInterval int               `mapstructure:"aggregate_interval"`  // 性能聚合间隔（秒）
	RetentionHours    int               `mapstructure:"retention_hours"`     // 指标保留窗口（小时）
	ProbeTimeout      int               `mapstructure:"probe_timeout"`       // 单次探测超时（秒）
	ErrorRateWarning  float64           `mapstructure:"error_rate_warning"`  // 错误率告警阈值
	ErrorRateCritical float64           `mapstructure:"error_rate_critical"` // 错误率严重阈值
	LatencyWarningMS  float64           `mapstructure:"latency_warning_ms"`  // 平均延迟告警阈值（毫秒）
	LatencyCriticalMS float64           `mapstructure:"latency_critical_ms"` // 平均延迟严重阈值（毫秒）
	AlertRules        map[string]string `mapstructure:"alert_rules"`         // 自定义告警规则表达式
}

var globalConfig *Config

// Load 加载配置
// env 对应 config/<env>.yaml，configPath 非空时直接使用该文件
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 config.Load()")
	}
	return globalConfig
}

// applyDefaults 为未配置项填充默认值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.QueryGuard.MaxStringLen == 0 {
		c.QueryGuard.MaxStringLen = 10000
	}
	if c.QueryGuard.MaxSerializedLen == 0 {
		c.QueryGuard.MaxSerializedLen = 50000
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 10000
	}
	if c.FastFail.FailureThreshold == 0 {
		c.FastFail.FailureThreshold = 5
	}
	if c.FastFail.CooldownSeconds == 0 {
		c.FastFail.CooldownSeconds = 30
	}
	if c.FastFail.CacheTTLSeconds == 0 {
		c.FastFail.CacheTTLSeconds = 60
	}
	if c.FastFail.CriticalLatencyMS == 0 {
		c.FastFail.CriticalLatencyMS = 10000
	}
	if c.Gateway.CheckInterval == 0 {
		c.Gateway.CheckInterval = 30
	}
	if c.Gateway.AggregateInterval == 0 {
		c.Gateway.AggregateInterval = 60
	}
	if c.Gateway.RetentionHours == 0 {
		c.Gateway.RetentionHours = 24
	}
	if c.Gateway.ProbeTimeout == 0 {
		c.Gateway.ProbeTimeout = 10
	}
	if c.Gateway.ErrorRateWarning == 0 {
		c.Gateway.ErrorRateWarning = 0.05
	}
	if c.Gateway.ErrorRateCritical == 0 {
		c.Gateway.ErrorRateCritical = 0.20
	}
	if c.Gateway.LatencyWarningMS == 0 {
		c.Gateway.LatencyWarningMS = 2000
	}
	if c.Gateway.LatencyCriticalMS == 0 {
		c.Gateway.LatencyCriticalMS = 5000
	}
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// ============================================================================
// 模式注册表文件
// ============================================================================

// AnomalyPatternSpec 异常模式定义（patterns 文件格式）
type AnomalyPatternSpec struct {
	Name          string   `yaml:"name"`
	EventTypes    []string `yaml:"event_types"`
	Threshold     int      `yaml:"threshold"`
	WindowMinutes int      `yaml:"window_minutes"`
	MinSeverity   string   `yaml:"min_severity"`
	Remediation   []string `yaml:"remediation"`
}

// ErrorPatternSpec 错误模式定义（patterns 文件格式）
type ErrorPatternSpec struct {
	Pattern         string `yaml:"pattern"`
	FailureType     string `yaml:"failure_type"`
	ShouldRetry     bool   `yaml:"should_retry"`
	FastFailAfterMS int    `yaml:"fast_fail_after_ms"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// PatternsFile 模式注册表文件结构
type PatternsFile struct {
	AnomalyPatterns []AnomalyPatternSpec `yaml:"anomaly_patterns"`
	ErrorPatterns   []ErrorPatternSpec   `yaml:"error_patterns"`
}

// LoadPatternsFile 加载模式注册表文件
// 用于在不改代码的情况下覆盖内置的异常/错误模式表
func LoadPatternsFile(path string) (*PatternsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模式文件失败: %w", err)
	}

	var pf PatternsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("解析模式文件失败: %w", err)
	}

	return &pf, nil
}

// CheckIntervalDuration 健康检查间隔
func (c *GatewayConfig) CheckIntervalDuration() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// AggregateIntervalDuration 性能聚合间隔
func (c *GatewayConfig) AggregateIntervalDuration() time.Duration {
	return time.Duration(c.AggregateInterval) * time.Second
}

// RetentionDuration 指标保留窗口
func (c *GatewayConfig) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ProbeTimeoutDuration 单次探测超时
func (c *GatewayConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}
