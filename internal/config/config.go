package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Ardavaa/jarvis-agent/pkg/logger"
)

// DefaultPath 是未设置 JARVIS_CONFIG 时读取的配置文件。
const DefaultPath = "configs/jarvis.yaml"

// Config 描述了 JARVIS 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Agent      AgentConfig      `yaml:"agent"`
	Memory     MemoryConfig     `yaml:"memory"`
	Resilience ResilienceConfig `yaml:"resilience"`
	TaskQueue  TaskQueueConfig  `yaml:"task_queue"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Logging    logger.Config    `yaml:"logging"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address         string `yaml:"address"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

// LLMConfig 选择推理服务提供方。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	Ollama   OllamaConfig `yaml:"ollama"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OllamaConfig 描述本地 Ollama 服务。
type OllamaConfig struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbedModel     string `yaml:"embed_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c OllamaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig 描述兼容 OpenAI 协议的服务。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbedModel     string `yaml:"embed_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GatewayConfig 描述工具服务的访问方式。
type GatewayConfig struct {
	Protocol       string            `yaml:"protocol"`
	Endpoints      map[string]string `yaml:"endpoints"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// Timeout 返回单次工具调用的 HTTP 超时时间。
func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 控制主循环的行为。
type AgentConfig struct {
	MaxIterations       int     `yaml:"max_iterations"`
	ContextWindow       int     `yaml:"context_window"`
	PlannerTemperature  float64 `yaml:"planner_temperature"`
	ObserverTemperature float64 `yaml:"observer_temperature"`
}

// MemoryConfig 汇总三层记忆的配置。
type MemoryConfig struct {
	ShortTerm ShortTermConfig `yaml:"short_term"`
	LongTerm  LongTermConfig  `yaml:"long_term"`
	Semantic  SemanticConfig  `yaml:"semantic"`
}

// ShortTermConfig 控制会话窗口大小。
type ShortTermConfig struct {
	Capacity int `yaml:"capacity"`
}

// LongTermConfig 描述持久化数据库。
type LongTermConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// SemanticConfig 描述向量检索。
type SemanticConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Persist          bool   `yaml:"persist"`
	Collection       string `yaml:"collection"`
	RetrieveLimit    int    `yaml:"retrieve_limit"`
	ContextMaxTokens int    `yaml:"context_max_tokens"`
}

// ResilienceConfig 控制重试与熔断。
type ResilienceConfig struct {
	PlannerRetries  int           `yaml:"planner_retries"`
	ExecutorRetries int           `yaml:"executor_retries"`
	InitialDelayMS  int           `yaml:"initial_delay_ms"`
	BackoffFactor   float64       `yaml:"backoff_factor"`
	OracleBreaker   BreakerConfig `yaml:"oracle_breaker"`
	GatewayBreaker  BreakerConfig `yaml:"gateway_breaker"`
}

// InitialDelay 返回首次重试前的等待时间。
func (c ResilienceConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

// BreakerConfig 描述一个可选熔断器。
type BreakerConfig struct {
	Enabled                bool `yaml:"enabled"`
	FailureThreshold       int  `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int  `yaml:"recovery_timeout_seconds"`
}

// RecoveryTimeout 返回熔断恢复等待时间。
func (c BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

// TaskQueueConfig 描述异步任务队列。
type TaskQueueConfig struct {
	Driver            string         `yaml:"driver"`
	Workers           int            `yaml:"workers"`
	MaxRetries        int            `yaml:"max_retries"`
	Buffer            int            `yaml:"buffer"`
	RunTimeoutSeconds int            `yaml:"run_timeout_seconds"`
	Redis      RedisConfig    `yaml:"redis"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

// RunTimeout 返回单个任务的运行超时，0 表示不限制。
func (c TaskQueueConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// AlertingConfig 控制任务失败告警。
type AlertingConfig struct {
	// Telegram 为 true 时通过消息服务推送告警。
	Telegram    bool   `yaml:"telegram"`
	MinSeverity string `yaml:"min_severity"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 读取 .env 与 YAML 配置文件，并叠加环境变量覆盖。
// 配置文件不存在时仅使用默认值。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}
	if path == "" {
		path = os.Getenv("JARVIS_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Server.Address, "JARVIS_HTTP_ADDR")
	override(&c.LLM.Provider, "JARVIS_LLM_PROVIDER")
	override(&c.LLM.Ollama.BaseURL, "JARVIS_OLLAMA_URL")
	override(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	override(&c.Memory.LongTerm.Driver, "JARVIS_DB_DRIVER")
	override(&c.Memory.LongTerm.DSN, "JARVIS_DB_DSN")
	override(&c.TaskQueue.Driver, "JARVIS_QUEUE_DRIVER")
	override(&c.TaskQueue.Redis.Address, "JARVIS_REDIS_ADDR")
	override(&c.TaskQueue.RabbitMQ.URL, "JARVIS_RABBITMQ_URL")
	override(&c.Logging.Level, "JARVIS_LOG_LEVEL")
	if model := strings.TrimSpace(os.Getenv("JARVIS_LLM_MODEL")); model != "" {
		c.LLM.Ollama.Model = model
		c.LLM.OpenAI.Model = model
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 5
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Ollama.BaseURL == "" {
		c.LLM.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.LLM.Ollama.Model == "" {
		c.LLM.Ollama.Model = "llama3.1:8b"
	}
	if c.LLM.Ollama.EmbedModel == "" {
		c.LLM.Ollama.EmbedModel = "nomic-embed-text"
	}
	if c.LLM.Ollama.TimeoutSeconds <= 0 {
		c.LLM.Ollama.TimeoutSeconds = 120
	}
	if c.LLM.OpenAI.APIKey == "" && c.LLM.OpenAI.APIKeyEnv != "" {
		c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.EmbedModel == "" {
		c.LLM.OpenAI.EmbedModel = "text-embedding-3-small"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}

	if c.Gateway.Protocol == "" {
		c.Gateway.Protocol = "http"
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = 30
	}
	if c.Gateway.Endpoints == nil {
		c.Gateway.Endpoints = make(map[string]string)
	}
	for service, endpoint := range defaultEndpoints {
		if c.Gateway.Endpoints[service] == "" {
			c.Gateway.Endpoints[service] = endpoint
		}
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Agent.ContextWindow <= 0 {
		c.Agent.ContextWindow = 5
	}
	if c.Agent.PlannerTemperature == 0 {
		c.Agent.PlannerTemperature = 0.7
	}
	if c.Agent.ObserverTemperature == 0 {
		c.Agent.ObserverTemperature = 0.5
	}

	if c.Memory.ShortTerm.Capacity <= 0 {
		c.Memory.ShortTerm.Capacity = 20
	}
	if c.Memory.LongTerm.Driver == "" {
		c.Memory.LongTerm.Driver = "sqlite"
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Memory.LongTerm.DSN == "" && c.Memory.LongTerm.Driver == "sqlite" {
		c.Memory.LongTerm.DSN = filepath.Join(c.Runtime.DataDir, "jarvis.db")
	}
	if c.Memory.Semantic.Collection == "" {
		c.Memory.Semantic.Collection = "jarvis_memory"
	}
	if c.Memory.Semantic.RetrieveLimit <= 0 {
		c.Memory.Semantic.RetrieveLimit = 3
	}
	if c.Memory.Semantic.ContextMaxTokens <= 0 {
		c.Memory.Semantic.ContextMaxTokens = 1024
	}

	if c.Resilience.PlannerRetries <= 0 {
		c.Resilience.PlannerRetries = 2
	}
	if c.Resilience.ExecutorRetries <= 0 {
		c.Resilience.ExecutorRetries = 2
	}
	if c.Resilience.InitialDelayMS <= 0 {
		c.Resilience.InitialDelayMS = 1000
	}
	if c.Resilience.BackoffFactor < 1 {
		c.Resilience.BackoffFactor = 2
	}
	for _, b := range []*BreakerConfig{&c.Resilience.OracleBreaker, &c.Resilience.GatewayBreaker} {
		if b.FailureThreshold <= 0 {
			b.FailureThreshold = 5
		}
		if b.RecoveryTimeoutSeconds <= 0 {
			b.RecoveryTimeoutSeconds = 60
		}
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 256
	}
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "critical"
	}

	if c.Logging.Service == "" {
		c.Logging.Service = "jarvisd"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 检查互斥或取值受限的配置项。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" && c.LLM.OpenAI.BaseURL == "" {
			return errors.New("OpenAI provider 需要配置 api_key 或 base_url")
		}
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Gateway.Protocol {
	case "http", "mcp":
	default:
		return fmt.Errorf("未知的工具网关协议: %s", c.Gateway.Protocol)
	}
	switch c.Memory.LongTerm.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("未知的数据库驱动: %s", c.Memory.LongTerm.Driver)
	}
	if c.Memory.LongTerm.DSN == "" {
		return errors.New("long_term.dsn 不能为空")
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.Alerting.MinSeverity {
	case "info", "warning", "critical":
	default:
		return fmt.Errorf("未知的告警级别: %s", c.Alerting.MinSeverity)
	}
	return nil
}

var defaultEndpoints = map[string]string{
	"memory_db":     "http://localhost:8001",
	"vector_db":     "http://localhost:8002",
	"messaging":     "http://localhost:8003",
	"calendar":      "http://localhost:8004",
	"mail":          "http://localhost:8005",
	"os_automation": "http://localhost:8006",
	"voice":         "http://localhost:8007",
}
