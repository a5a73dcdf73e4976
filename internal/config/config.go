package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by CHAT_PROVIDER.
const (
	ProviderArk      = "ark"
	ProviderOllama   = "ollama"
	ProviderLoopback = "loopback"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig `yaml:"server"`
	AI     AIConfig     `yaml:"ai"`
	Stream StreamConfig `yaml:"stream"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string        `yaml:"provider"`
	APIKey       string        `yaml:"apiKey"`
	AccessKey    string        `yaml:"accessKey"`
	SecretKey    string        `yaml:"secretKey"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"baseURL"`
	Region       string        `yaml:"region"`
	Temperature  *float64      `yaml:"temperature"`
	TopP         *float64      `yaml:"topP"`
	MaxTokens    *int          `yaml:"maxTokens"`
	OllamaURL    string        `yaml:"ollamaURL"`
	OllamaModel  string        `yaml:"ollamaModel"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StreamConfig controls the streamed reply pipeline.
type StreamConfig struct {
	// ChunkDelay is the pause between two chunk events. Zero disables pacing.
	ChunkDelay time.Duration `yaml:"chunkDelay"`
	// CommitPartial stores the text received so far as the assistant turn when
	// the client disconnects mid stream. When false the partial text is dropped.
	CommitPartial bool `yaml:"commitPartial"`
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when neither file nor environment
// provide a value.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		AI: AIConfig{
			BaseURL:   "https://ark.cn-beijing.volces.com/api/v3",
			Region:    "cn-beijing",
			OllamaURL: "http://localhost:11434",
		},
		Stream: StreamConfig{ChunkDelay: 10 * time.Millisecond},
	}
}

// Load 读取可选的 YAML 文件，然后用环境变量覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := applyServerEnv(&cfg.Server); err != nil {
		return nil, err
	}
	if err := applyAIEnv(&cfg.AI); err != nil {
		return nil, err
	}
	if err := applyStreamEnv(&cfg.Stream); err != nil {
		return nil, err
	}
	debug, err := parseBoolEnv("LOG_DEBUG", cfg.Log.Debug)
	if err != nil {
		return nil, err
	}
	cfg.Log.Debug = debug

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	addr, err := normalizeAddr(c.Server.Addr)
	if err != nil {
		return err
	}
	c.Server.Addr = addr

	if c.Stream.ChunkDelay < 0 {
		return fmt.Errorf("invalid STREAM_CHUNK_DELAY value %s: must not be negative", c.Stream.ChunkDelay)
	}
	if c.AI.Timeout < 0 {
		return fmt.Errorf("invalid GENERATE_TIMEOUT value %s: must not be negative", c.AI.Timeout)
	}

	if c.AI.Provider == "" {
		if c.AI.Enabled() {
			c.AI.Provider = ProviderArk
		} else {
			c.AI.Provider = ProviderLoopback
		}
	}
	switch c.AI.Provider {
	case ProviderArk:
		if !c.AI.Enabled() {
			return fmt.Errorf("provider %q requires Model and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY", ProviderArk)
		}
	case ProviderOllama:
		if c.AI.OllamaModel == "" {
			return fmt.Errorf("provider %q requires OLLAMA_MODEL", ProviderOllama)
		}
	case ProviderLoopback:
	default:
		return fmt.Errorf("unknown CHAT_PROVIDER %q", c.AI.Provider)
	}
	return nil
}

// normalizeAddr 允许用户直接传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

func applyServerEnv(server *ServerConfig) error {
	if port, ok := lookupEnv("PORT"); ok {
		server.Addr = port
	}
	if origins, ok := lookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		server.AllowedOrigins = splitList(origins)
	}
	return nil
}

// Enabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}
	return ark.NewChatModel(ctx, cfg)
}

func applyAIEnv(ai *AIConfig) error {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		ai.Temperature = temperature
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		ai.TopP = topP
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		ai.MaxTokens = maxTokens
	}

	timeout, err := parseDurationEnv("GENERATE_TIMEOUT", ai.Timeout)
	if err != nil {
		return err
	}
	ai.Timeout = timeout

	ai.Provider = strings.ToLower(getEnvOrDefault("CHAT_PROVIDER", ai.Provider))
	ai.APIKey = getEnvOrDefault("ARK_API_KEY", ai.APIKey)
	ai.AccessKey = getEnvOrDefault("ARK_ACCESS_KEY", ai.AccessKey)
	ai.SecretKey = getEnvOrDefault("ARK_SECRET_KEY", ai.SecretKey)
	ai.Model = getEnvOrDefault("Model", ai.Model)
	ai.BaseURL = getEnvOrDefault("ARK_BASE_URL", ai.BaseURL)
	ai.Region = getEnvOrDefault("ARK_REGION", ai.Region)
	ai.OllamaURL = getEnvOrDefault("OLLAMA_URL", ai.OllamaURL)
	ai.OllamaModel = getEnvOrDefault("OLLAMA_MODEL", ai.OllamaModel)
	ai.SystemPrompt = getEnvOrDefault("CHAT_SYSTEM_PROMPT", ai.SystemPrompt)
	return nil
}

func applyStreamEnv(stream *StreamConfig) error {
	delay, err := parseDurationEnv("STREAM_CHUNK_DELAY", stream.ChunkDelay)
	if err != nil {
		return err
	}
	stream.ChunkDelay = delay

	commit, err := parseBoolEnv("STREAM_COMMIT_PARTIAL", stream.CommitPartial)
	if err != nil {
		return err
	}
	stream.CommitPartial = commit
	return nil
}

func lookupEnv(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, ok := lookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw, ok := lookupEnv(key)
	if !ok {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := lookupEnv(key)
	if !ok {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value, ok := lookupEnv(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value, ok := lookupEnv(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
