package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"design-ai/internal/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("创建测试配置文件失败: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[ai]
default_provider = "claude"
fallback_chain = ["local"]
timeout = 45

[ai.providers.claude]
type = "anthropic"
api_key = "test_key"
model = "claude-test"

[ai.providers.local]
type = "llamacpp"
base_url = "http://127.0.0.1:8080"
mode = "completion"

[logging]
level = "debug"
format = "json"

[context]
max_tokens = 8000
truncation_priority = ["custom_instructions", "scene"]
tool_tier = "basic"
`)

	if err := LoadConfig(path); err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if Config.AI.DefaultProvider != "claude" {
		t.Errorf("期望默认提供方为 'claude'，实际为 '%s'", Config.AI.DefaultProvider)
	}
	if Config.AI.Timeout != 45 {
		t.Errorf("期望超时时间为 45，实际为 %d", Config.AI.Timeout)
	}
	if Config.AI.Providers["local"].Mode != "completion" {
		t.Errorf("期望 llamacpp 模式为 completion，实际为 %s", Config.AI.Providers["local"].Mode)
	}
	if got := Config.Context.TruncationPriority; len(got) != 2 || got[0] != "custom_instructions" {
		t.Errorf("截断顺序未按配置读取: %v", got)
	}
	// 未出现的段落保留默认值
	if Config.Conversation.MaxHistory != 50 {
		t.Errorf("期望对话历史上限默认为 50，实际为 %d", Config.Conversation.MaxHistory)
	}
	if Config.Events.BufferSize != 256 {
		t.Errorf("期望事件缓冲默认为 256，实际为 %d", Config.Events.BufferSize)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CLAUDE_API_KEY", "env_key")
	t.Setenv("DESIGN_AI_CLAUDE_MODEL", "env-model")
	t.Setenv("DESIGN_AI_LOG_LEVEL", "warn")

	path := writeConfig(t, `
[ai]
default_provider = "claude"

[ai.providers.claude]
type = "anthropic"
api_key = "file_key"
`)

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("解析配置失败: %v", err)
	}
	if cfg.AI.Providers["claude"].APIKey != "env_key" {
		t.Errorf("期望环境变量覆盖API密钥，实际为 %s", cfg.AI.Providers["claude"].APIKey)
	}
	if cfg.AI.Providers["claude"].Model != "env-model" {
		t.Errorf("期望环境变量覆盖模型，实际为 %s", cfg.AI.Providers["claude"].Model)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("期望日志级别为 warn，实际为 %s", cfg.Logging.Level)
	}
}

func TestPlaceholderExpansion(t *testing.T) {
	t.Setenv("MY_SECRET", "s3cret")
	path := writeConfig(t, `
[ai.providers.claude]
type = "anthropic"
api_key = "${MY_SECRET}"
`)

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("解析配置失败: %v", err)
	}
	key, err := cfg.Credential(context.Background(), "claude")
	if err != nil || key != "s3cret" {
		t.Errorf("期望凭证为 s3cret，实际为 %q, %v", key, err)
	}
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"未知类型", "[ai.providers.x]\ntype = \"gemini\"\n"},
		{"默认提供方缺失", "[ai]\ndefault_provider = \"missing\"\n"},
		{"备用链缺失", "[ai]\nfallback_chain = [\"nope\"]\n"},
		{"无效模式", "[ai.providers.l]\ntype = \"llamacpp\"\nmode = \"infill\"\n"},
		{"无效日志级别", "[logging]\nlevel = \"verbose\"\n"},
		{"无效截断项", "[context]\ntruncation_priority = [\"tools\"]\n"},
		{"无效层级", "[context]\ntool_tier = \"expert\"\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(writeConfig(t, tc.content))
			if !errors.IsErrorCode(err, errors.ErrCodeConfigInvalid) {
				t.Errorf("期望配置无效错误，实际为 %v", err)
			}
		})
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := LoadConfig(path); err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("期望创建默认配置文件: %v", err)
	}
	if Config.AI.DefaultProvider != "claude" {
		t.Errorf("期望默认提供方为 claude，实际为 %s", Config.AI.DefaultProvider)
	}
	names := Config.ProviderNames()
	if len(names) != 3 || names[0] != "claude" {
		t.Errorf("期望默认提供方排在首位，实际为 %v", names)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.AI.Providers["ollama"] = ProviderConfig{Type: "ollama", Model: "llava"}
	cfg.AI.DefaultProvider = "ollama"

	path := filepath.Join(t.TempDir(), "saved.toml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("保存配置失败: %v", err)
	}
	loaded, err := Parse(path)
	if err != nil {
		t.Fatalf("重新解析失败: %v", err)
	}
	if loaded.AI.Providers["ollama"].Model != "llava" {
		t.Errorf("期望保存后模型为 llava，实际为 %s", loaded.AI.Providers["ollama"].Model)
	}
}

func TestGetProviderConfig(t *testing.T) {
	cfg := Default()
	cfg.AI.Providers["a"] = ProviderConfig{Type: "ollama"}
	cfg.AI.DefaultProvider = "a"

	if p, err := cfg.GetProviderConfig(""); err != nil || p.Type != "ollama" {
		t.Errorf("期望返回默认提供方配置，实际为 %v, %v", p, err)
	}
	if _, err := cfg.GetProviderConfig("b"); !errors.IsErrorCode(err, errors.ErrCodeProviderNotFound) {
		t.Errorf("期望提供方未找到错误，实际为 %v", err)
	}
	if _, err := cfg.Credential(context.Background(), "a"); !errors.IsErrorCode(err, errors.ErrCodeAPIKeyMissing) {
		t.Errorf("期望API密钥缺失错误，实际为 %v", err)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("写入默认配置失败: %v", err)
	}
	if _, err := Parse(path); err != nil {
		t.Fatalf("默认配置应能通过校验: %v", err)
	}

	err := WriteDefault(path, false)
	if !errors.IsErrorCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("文件已存在时应返回 ConfigInvalid，实际 %v", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("force 时应覆盖: %v", err)
	}
}

func TestSetDefaultProviderKeepsEnvOut(t *testing.T) {
	path := writeConfig(t, `
[ai]
default_provider = "claude"

[ai.providers.claude]
type = "anthropic"

[ai.providers.local]
type = "ollama"
`)
	t.Setenv("CLAUDE_API_KEY", "secret-from-env")

	if err := SetDefaultProvider(path, "local"); err != nil {
		t.Fatalf("修改默认提供方失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}
	if strings.Contains(string(data), "secret-from-env") {
		t.Error("环境变量中的凭证不应写入文件")
	}

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("解析修改后的配置失败: %v", err)
	}
	if cfg.AI.DefaultProvider != "local" {
		t.Errorf("默认提供方应为 local，实际 %s", cfg.AI.DefaultProvider)
	}

	if err := SetDefaultProvider(path, "missing"); !errors.IsErrorCode(err, errors.ErrCodeProviderNotFound) {
		t.Errorf("未配置的提供方应返回 ProviderNotFound，实际 %v", err)
	}
}
