package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"design-ai/internal/pkg/errors"
	"design-ai/internal/util"
)

// Config 全局配置实例
var Config *AppConfig

// loadedPath 全局配置对应的文件路径
var loadedPath string

// AppConfig 应用配置结构
type AppConfig struct {
	AI           AIConfig           `toml:"ai"`
	Logging      LoggingConfig      `toml:"logging"`
	Conversation ConversationConfig `toml:"conversation"`
	Context      ContextConfig      `toml:"context"`
	Events       EventsConfig       `toml:"events"`
	MCP          MCPConfig          `toml:"mcp"`
	Host         HostConfig         `toml:"host"`
}

// AIConfig 模型提供方配置
type AIConfig struct {
	DefaultProvider string                    `toml:"default_provider"`
	FallbackChain   []string                  `toml:"fallback_chain"`
	AutoConnect     bool                      `toml:"auto_connect"`
	Timeout         int                       `toml:"timeout"`     // 超时时间（秒）
	MaxRetries      int                       `toml:"max_retries"` // Send 的重试次数，0 表示不重试
	Providers       map[string]ProviderConfig `toml:"providers"`
}

// ProviderConfig 单个提供方配置
type ProviderConfig struct {
	Type          string   `toml:"type"` // anthropic | ollama | llamacpp
	APIKey        string   `toml:"api_key"`
	BaseURL       string   `toml:"base_url"`
	Model         string   `toml:"model"`
	Mode          string   `toml:"mode"` // llamacpp: chat | completion
	MaxTokens     int      `toml:"max_tokens"`
	Temperature   *float64 `toml:"temperature"`
	ContextTokens int      `toml:"context_tokens"`
	Vision        bool     `toml:"vision"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, text
	Output string `toml:"output"` // stdout, stderr, file
	File   string `toml:"file"`   // 日志文件路径
}

// ConversationConfig 对话历史配置
type ConversationConfig struct {
	MaxHistory     int `toml:"max_history"`
	MaxTokens      int `toml:"max_tokens"`
	RecentMessages int `toml:"recent_messages"`
}

// ContextConfig 每轮上下文组装配置
type ContextConfig struct {
	MaxTokens          int      `toml:"max_tokens"`
	ReserveForResponse int      `toml:"reserve_for_response"`
	TruncationPriority []string `toml:"truncation_priority"`
	MaxSelection       int      `toml:"max_selection"`
	MaxSceneNodes      int      `toml:"max_scene_nodes"`
	IncludeScene       bool     `toml:"include_scene"`
	IncludeScreenshot  bool     `toml:"include_screenshot"`
	ToolTier           string   `toml:"tool_tier"`
	CustomInstructions string   `toml:"custom_instructions"`
	ProjectName        string   `toml:"project_name"`
}

// EventsConfig 事件队列配置
type EventsConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// MCPConfig MCP工具服务配置
type MCPConfig struct {
	ConfigPath string `toml:"config_path"`
	Timeout    int    `toml:"timeout"`
}

// HostConfig 演示宿主配置
type HostConfig struct {
	SceneFile string `toml:"scene_file"`
}

var (
	providerTypes   = []string{"anthropic", "ollama", "llamacpp"}
	truncationNames = []string{"scene", "state", "custom_instructions"}
	toolTiers       = []string{"", "basic", "standard", "advanced"}
	validLevels     = []string{"debug", "info", "warn", "error"}
)

// LoadConfig 加载配置文件并设置全局配置
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := createDefaultConfig(configPath); err != nil {
			return errors.WrapError(errors.ErrCodeConfigLoadFailed, "创建默认配置文件失败", err)
		}
		fmt.Fprintf(os.Stderr, "已创建默认配置文件: %s\n", configPath)
	}

	cfg, err := Parse(configPath)
	if err != nil {
		return err
	}

	Config = cfg
	loadedPath = configPath
	return nil
}

// Path 返回最近一次 LoadConfig 使用的文件路径
func Path() string {
	return loadedPath
}

// ResolvePath 路径为空时返回默认配置文件路径
func ResolvePath(configPath string) string {
	if configPath == "" {
		return getDefaultConfigPath()
	}
	return configPath
}

// WriteDefault 写入默认配置文件，文件已存在且 force 为 false 时返回错误
func WriteDefault(configPath string, force bool) error {
	if !force && util.FileExists(configPath) {
		return errors.NewErrorWithDetails(errors.ErrCodeConfigInvalid, "配置文件已存在", configPath)
	}
	if err := createDefaultConfig(configPath); err != nil {
		return errors.WrapError(errors.ErrCodeConfigLoadFailed, "写入默认配置文件失败", err)
	}
	return nil
}

// SetDefaultProvider 修改配置文件中的默认提供方。
// 按文件原样解码再写回，环境变量中的凭证不会写入文件
func SetDefaultProvider(configPath, name string) error {
	raw := Default()
	if _, err := toml.DecodeFile(configPath, raw); err != nil {
		return errors.WrapErrorWithDetails(errors.ErrCodeConfigParseFailed,
			"解析配置文件失败", err, fmt.Sprintf("配置文件路径: %s", configPath))
	}
	if _, exists := raw.AI.Providers[name]; !exists {
		return errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound, "提供方未配置", name)
	}
	raw.AI.DefaultProvider = name
	return Save(raw, configPath)
}

// Parse 解析并校验配置文件，不修改全局配置
func Parse(configPath string) (*AppConfig, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, errors.WrapErrorWithDetails(errors.ErrCodeConfigParseFailed,
			"解析配置文件失败", err, fmt.Sprintf("配置文件路径: %s", configPath))
	}

	expandPlaceholders(cfg)
	overrideWithEnv(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回内置默认配置
func Default() *AppConfig {
	return &AppConfig{
		AI: AIConfig{
			Timeout:   60,
			Providers: map[string]ProviderConfig{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Conversation: ConversationConfig{
			MaxHistory:     50,
			MaxTokens:      32000,
			RecentMessages: 20,
		},
		Context: ContextConfig{
			MaxTokens:          16000,
			ReserveForResponse: 4096,
			TruncationPriority: slices.Clone(truncationNames),
			MaxSelection:       20,
			MaxSceneNodes:      200,
		},
		Events: EventsConfig{BufferSize: 256},
		MCP:    MCPConfig{Timeout: 30},
	}
}

func getDefaultConfigPath() string {
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(homeDir, ".design-ai", "config.toml")
}

func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(configPath, []byte(defaultConfigTOML), 0o644)
}

const defaultConfigTOML = `# design-ai 配置文件

[ai]
default_provider = "claude"
fallback_chain = ["ollama", "llamacpp"]
auto_connect = false
timeout = 60
max_retries = 0

[ai.providers.claude]
type = "anthropic"
api_key = "${ANTHROPIC_API_KEY}"
base_url = "https://api.anthropic.com"
model = "claude-sonnet-4-5"
max_tokens = 4096

[ai.providers.ollama]
type = "ollama"
base_url = "http://localhost:11434"
model = "llava"
vision = true
context_tokens = 8192

[ai.providers.llamacpp]
type = "llamacpp"
base_url = "http://localhost:8080"
mode = "chat"
context_tokens = 4096

[logging]
level = "info"
format = "text"
output = "stderr"
file = ""

[conversation]
max_history = 50
max_tokens = 32000
recent_messages = 20

[context]
max_tokens = 16000
reserve_for_response = 4096
truncation_priority = ["scene", "state", "custom_instructions"]
max_selection = 20
max_scene_nodes = 200
include_scene = true
include_screenshot = false
tool_tier = "standard"

[events]
buffer_size = 256

[mcp]
config_path = ""
timeout = 30

[host]
scene_file = ""
`

// Save 将配置写入文件
func Save(cfg *AppConfig, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.WrapError(errors.ErrCodeConfigLoadFailed, "创建配置目录失败", err)
	}
	f, err := os.Create(configPath)
	if err != nil {
		return errors.WrapError(errors.ErrCodeConfigLoadFailed, "写入配置文件失败", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errors.WrapError(errors.ErrCodeConfigInvalid, "编码配置失败", err)
	}
	return nil
}

// 展开 api_key 中的 ${VAR} 占位符，未设置的变量展开为空串
func expandPlaceholders(cfg *AppConfig) {
	for name, p := range cfg.AI.Providers {
		if strings.Contains(p.APIKey, "${") {
			p.APIKey = os.ExpandEnv(p.APIKey)
			cfg.AI.Providers[name] = p
		}
	}
}

func overrideWithEnv(cfg *AppConfig) {
	for name, p := range cfg.AI.Providers {
		if apiKey := getEnvForProvider(name, "API_KEY"); apiKey != "" {
			p.APIKey = apiKey
		}
		if baseURL := getEnvForProvider(name, "BASE_URL"); baseURL != "" {
			p.BaseURL = baseURL
		}
		if model := getEnvForProvider(name, "MODEL"); model != "" {
			p.Model = model
		}
		cfg.AI.Providers[name] = p
	}

	if v := os.Getenv("DESIGN_AI_DEFAULT_PROVIDER"); v != "" {
		cfg.AI.DefaultProvider = v
	}
	if level := os.Getenv("DESIGN_AI_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func getEnvForProvider(name, suffix string) string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	envNames := []string{
		fmt.Sprintf("%s_%s", upper, suffix),
		fmt.Sprintf("DESIGN_AI_%s_%s", upper, suffix),
	}

	for _, envName := range envNames {
		if value := os.Getenv(envName); value != "" {
			return value
		}
	}
	return ""
}

func applyDefaults(cfg *AppConfig) {
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 60
	}
	if cfg.AI.Providers == nil {
		cfg.AI.Providers = map[string]ProviderConfig{}
	}
	if len(cfg.Context.TruncationPriority) == 0 {
		cfg.Context.TruncationPriority = slices.Clone(truncationNames)
	}
	if cfg.Events.BufferSize <= 0 {
		cfg.Events.BufferSize = 256
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validateConfig(cfg *AppConfig) error {
	for name, p := range cfg.AI.Providers {
		if !slices.Contains(providerTypes, p.Type) {
			return errors.NewConfigErrorWithDetails("不支持的提供方类型",
				fmt.Sprintf("提供方: %s, 类型: %s", name, p.Type))
		}
		if p.Type == "llamacpp" && p.Mode != "" && p.Mode != "chat" && p.Mode != "completion" {
			return errors.NewConfigErrorWithDetails("无效的llamacpp模式",
				fmt.Sprintf("提供方: %s, 模式: %s", name, p.Mode))
		}
	}

	if cfg.AI.DefaultProvider != "" {
		if _, exists := cfg.AI.Providers[cfg.AI.DefaultProvider]; !exists {
			return errors.NewConfigErrorWithDetails("默认提供方未在providers中定义", cfg.AI.DefaultProvider)
		}
	}
	for _, name := range cfg.AI.FallbackChain {
		if _, exists := cfg.AI.Providers[name]; !exists {
			return errors.NewConfigErrorWithDetails("备用链中的提供方未定义", name)
		}
	}

	if !slices.Contains(validLevels, cfg.Logging.Level) {
		return errors.NewConfigErrorWithDetails("无效的日志级别", cfg.Logging.Level)
	}

	for _, s := range cfg.Context.TruncationPriority {
		if !slices.Contains(truncationNames, s) {
			return errors.NewConfigErrorWithDetails("无效的截断项", s)
		}
	}
	if !slices.Contains(toolTiers, cfg.Context.ToolTier) {
		return errors.NewConfigErrorWithDetails("无效的工具层级", cfg.Context.ToolTier)
	}
	if cfg.Context.ReserveForResponse < 0 || cfg.Context.MaxTokens < 0 {
		return errors.NewConfigError("上下文预算不能为负数")
	}

	return nil
}

// GetConfig 获取当前配置
func GetConfig() *AppConfig {
	return Config
}

// GetProviderConfig 获取指定提供方的配置，名称为空时返回默认提供方
func (c *AppConfig) GetProviderConfig(name string) (ProviderConfig, error) {
	if name == "" {
		name = c.AI.DefaultProvider
	}

	p, exists := c.AI.Providers[name]
	if !exists {
		return ProviderConfig{}, errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound,
			"提供方未配置", name)
	}
	return p, nil
}

// ProviderNames 返回已配置的提供方名称：默认提供方在前，其余按字母排序
func (c *AppConfig) ProviderNames() []string {
	names := make([]string, 0, len(c.AI.Providers))
	for name := range c.AI.Providers {
		if name != c.AI.DefaultProvider {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if _, ok := c.AI.Providers[c.AI.DefaultProvider]; ok {
		names = append([]string{c.AI.DefaultProvider}, names...)
	}
	return names
}

// Credential 按提供方名称返回凭证，实现 llm.CredentialSource
func (c *AppConfig) Credential(_ context.Context, provider string) (string, error) {
	p, exists := c.AI.Providers[provider]
	if !exists {
		return "", errors.NewErrorWithDetails(errors.ErrCodeProviderNotFound, "提供方未配置", provider)
	}
	if p.APIKey == "" {
		return "", errors.NewErrorWithDetails(errors.ErrCodeAPIKeyMissing, "API密钥缺失", provider)
	}
	return p.APIKey, nil
}
