package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "OPENMCP_BANK_CONFIG"

// Config 描述了 OpenMCP-Bank 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Auth          AuthConfig          `json:"auth" yaml:"auth"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	RateLimit     RateLimitConfig     `json:"rate_limit" yaml:"rate_limit"`
	LLM           LLMConfig           `json:"llm" yaml:"llm"`
	Agent         AgentConfig         `json:"agent" yaml:"agent"`
	Settlement    SettlementConfig    `json:"settlement" yaml:"settlement"`
	Web3          Web3Config          `json:"web3" yaml:"web3"`
	Knowledge     KnowledgeConfig     `json:"knowledge" yaml:"knowledge"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address             string `json:"address" yaml:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// AuthConfig 控制调用方身份的解析方式。
type AuthConfig struct {
	// Mode 取值 disabled 或 jwt。
	Mode  string         `json:"mode" yaml:"mode"`
	JWT   JWTConfig      `json:"jwt" yaml:"jwt"`
	Store DatabaseConfig `json:"store" yaml:"store"`
	Seeds []SeedAccount  `json:"seeds" yaml:"seeds"`
}

// JWTConfig 定义令牌签发参数。
type JWTConfig struct {
	Secret     string `json:"secret" yaml:"secret"`
	SecretEnv  string `json:"secret_env" yaml:"secret_env"`
	Issuer     string `json:"issuer" yaml:"issuer"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// TTL 返回令牌有效期。
func (c JWTConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// SeedAccount 用于在内存身份库中预置登录账号。
type SeedAccount struct {
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
	ProfileID string   `json:"profile_id" yaml:"profile_id"`
	Roles     []string `json:"roles" yaml:"roles"`
}

// StorageConfig 统一描述银行数据和审计记录的存储后端。
type StorageConfig struct {
	Bank       DatabaseConfig `json:"bank" yaml:"bank"`
	Operations DatabaseConfig `json:"operations" yaml:"operations"`
}

// DatabaseConfig 描述单个存储后端，Driver 取值 memory 或 mysql。
type DatabaseConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
	QueryTimeoutSeconds    int    `json:"query_timeout_seconds" yaml:"query_timeout_seconds"`
}

// RateLimitConfig 定义聊天接口的固定窗口限流策略。
type RateLimitConfig struct {
	Driver        string      `json:"driver" yaml:"driver"`
	Limit         int         `json:"limit" yaml:"limit"`
	WindowSeconds int         `json:"window_seconds" yaml:"window_seconds"`
	Redis         RedisConfig `json:"redis" yaml:"redis"`
}

// Window 返回限流窗口长度。
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	// Provider 取值 openai 或 none。
	Provider string       `json:"provider" yaml:"provider"`
	OpenAI   OpenAIConfig `json:"openai" yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回单次模型调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	key := strings.TrimSpace(c.APIKey)
	if key == "" && c.APIKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return key
}

// AgentConfig 控制聊天编排的行为。
type AgentConfig struct {
	MaxMessageLength   int  `json:"max_message_length" yaml:"max_message_length"`
	ToolTimeoutSeconds int  `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
	AllowAnonymousChat bool `json:"allow_anonymous_chat" yaml:"allow_anonymous_chat"`
}

// ToolTimeout 返回单次工具调用的超时时间。
func (c AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSeconds) * time.Second
}

// SettlementConfig 描述已确认支付的下发方式，Driver 取值 log、redis、rabbitmq。
type SettlementConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Queue    string         `json:"queue" yaml:"queue"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url" yaml:"url"`
	Durable bool   `json:"durable" yaml:"durable"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ChainConfig  string `json:"chain_config" yaml:"chain_config"`
	RPCURL       string `json:"rpc_url" yaml:"rpc_url"`
	DefaultChain string `json:"default_chain" yaml:"default_chain"`
	ScanBlocks   int    `json:"scan_blocks" yaml:"scan_blocks"`
}

// KnowledgeConfig 指定静态知识库文件。
type KnowledgeConfig struct {
	Source     string `json:"source" yaml:"source"`
	MaxResults int    `json:"max_results" yaml:"max_results"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Format      string   `json:"format" yaml:"format"`
	OutputPaths []string `json:"output_paths" yaml:"output_paths"`
	AuditPath   string   `json:"audit_path" yaml:"audit_path"`
	AuditMaxMB  int      `json:"audit_max_mb" yaml:"audit_max_mb"`
}

// ObservabilityConfig 控制指标与告警。
type ObservabilityConfig struct {
	DisableMetrics bool     `json:"disable_metrics" yaml:"disable_metrics"`
	AlertWebhooks  []string `json:"alert_webhooks" yaml:"alert_webhooks"`
}

// Load 负责解析指定路径的配置文件，扩展名为 .yaml/.yml 时按 YAML 解析，其余按 JSON。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回一份全部使用默认值的配置，便于无配置文件启动。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

// Validate 检查驱动等枚举字段是否合法。
func (c *Config) Validate() error {
	if err := oneOf("auth.mode", c.Auth.Mode, "disabled", "jwt"); err != nil {
		return err
	}
	if err := oneOf("auth.store.driver", c.Auth.Store.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if err := oneOf("storage.bank.driver", c.Storage.Bank.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if err := oneOf("storage.operations.driver", c.Storage.Operations.Driver, "memory", "mysql"); err != nil {
		return err
	}
	if err := oneOf("rate_limit.driver", c.RateLimit.Driver, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("settlement.driver", c.Settlement.Driver, "log", "redis", "rabbitmq"); err != nil {
		return err
	}
	if c.Auth.Mode == "jwt" && c.Auth.JWT.ResolveSecret() == "" {
		return errors.New("auth.mode=jwt 需要配置 jwt.secret 或 jwt.secret_env")
	}
	return nil
}

// ResolveSecret 优先使用显式配置，其次读取环境变量。
func (c JWTConfig) ResolveSecret() string {
	secret := strings.TrimSpace(c.Secret)
	if secret == "" && c.SecretEnv != "" {
		secret = strings.TrimSpace(os.Getenv(c.SecretEnv))
	}
	return secret
}

func oneOf(field, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s 不支持的取值: %q", field, value)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 90
	}

	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.JWT.Issuer == "" {
		c.Auth.JWT.Issuer = "openmcp-bank"
	}

	for _, db := range []*DatabaseConfig{&c.Auth.Store, &c.Storage.Bank, &c.Storage.Operations} {
		db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
		if db.Driver == "" {
			db.Driver = "memory"
		}
		if db.QueryTimeoutSeconds <= 0 {
			db.QueryTimeoutSeconds = 5
		}
	}

	c.RateLimit.Driver = strings.ToLower(strings.TrimSpace(c.RateLimit.Driver))
	if c.RateLimit.Driver == "" {
		c.RateLimit.Driver = "memory"
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = "openmcp:bank:ratelimit"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Agent.MaxMessageLength <= 0 {
		c.Agent.MaxMessageLength = 1000
	}
	if c.Agent.ToolTimeoutSeconds <= 0 {
		c.Agent.ToolTimeoutSeconds = 10
	}

	c.Settlement.Driver = strings.ToLower(strings.TrimSpace(c.Settlement.Driver))
	if c.Settlement.Driver == "" {
		c.Settlement.Driver = "log"
	}
	if c.Settlement.Queue == "" {
		c.Settlement.Queue = "openmcp.bank.settlement"
	}

	if c.Web3.ScanBlocks <= 0 {
		c.Web3.ScanBlocks = 64
	}
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	c.Knowledge.Source = resolvePath(baseDir, c.Knowledge.Source)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	c.Logging.AuditPath = resolvePath(baseDir, c.Logging.AuditPath)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
