// Package config loads toolbelt configuration from a YAML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete toolbelt configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`
	Exec      ExecConfig      `yaml:"exec" json:"exec"`
	Web       WebConfig       `yaml:"web" json:"web"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	ImageGen  ImageGenConfig  `yaml:"image_gen" json:"image_gen"`
	Channels  ChannelsConfig  `yaml:"channels" json:"channels"`
	Cron      CronConfig      `yaml:"cron" json:"cron"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`
	Subagent  SubagentConfig  `yaml:"subagent" json:"subagent"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// WorkspaceConfig defines the workspace root and confinement.
type WorkspaceConfig struct {
	Path           string   `yaml:"path" json:"path"`
	Restrict       bool     `yaml:"restrict" json:"restrict"`
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns"`
}

// ExecConfig defines shell execution limits.
type ExecConfig struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxOutputChars int           `yaml:"max_output_chars" json:"max_output_chars"`
	DenyPatterns   []string      `yaml:"deny_patterns" json:"deny_patterns"`
	AllowCommands  []string      `yaml:"allow_commands" json:"allow_commands"` // empty allows everything not denied
}

// WebConfig defines web search and fetch settings.
type WebConfig struct {
	BraveAPIKey   string        `yaml:"brave_api_key" json:"-"`
	SearchURL     string        `yaml:"search_url" json:"search_url"`
	TavilyAPIKey  string        `yaml:"tavily_api_key" json:"-"`
	TavilyURL     string        `yaml:"tavily_url" json:"tavily_url"`
	MaxResults    int           `yaml:"max_results" json:"max_results"`
	FetchMaxChars int           `yaml:"fetch_max_chars" json:"fetch_max_chars"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// BrowserConfig defines the playwright session.
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	ScreenshotDir  string        `yaml:"screenshot_dir" json:"screenshot_dir"`
}

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// LLMConfig defines the model endpoint used for vision and subagents.
// BaseURL is the OpenAI-compatible base URL or the Ollama host.
type LLMConfig struct {
	Provider    string `yaml:"provider" json:"provider"`
	APIKey      string `yaml:"api_key" json:"-"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	Model       string `yaml:"model" json:"model"`
	VisionModel string `yaml:"vision_model" json:"vision_model"`
}

// ImageGenConfig defines generate_image, which always runs on Gemini.
// An empty APIKey falls back to the LLM key when the LLM provider is
// Gemini.
type ImageGenConfig struct {
	APIKey  string `yaml:"api_key" json:"-"`
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// ChannelsConfig defines message delivery.
type ChannelsConfig struct {
	DefaultChannel string         `yaml:"default_channel" json:"default_channel"`
	DefaultChatID  string         `yaml:"default_chat_id" json:"default_chat_id"`
	Telegram       TelegramConfig `yaml:"telegram" json:"telegram"`
}

// TelegramConfig defines the Telegram bot channel.
type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Token     string   `yaml:"token" json:"-"`
	AllowFrom []string `yaml:"allow_from" json:"allow_from"`
	Proxy     string   `yaml:"proxy" json:"proxy"`
}

// Cron store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// CronConfig selects the job store.
type CronConfig struct {
	Store     string `yaml:"store" json:"store"`
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key"`
}

// HeartbeatConfig defines the periodic HEARTBEAT.md check.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// SubagentConfig bounds spawned tasks.
type SubagentConfig struct {
	MaxIterations    int           `yaml:"max_iterations" json:"max_iterations"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	MaxContextTokens int           `yaml:"max_context_tokens" json:"max_context_tokens"`
}

// ServerConfig defines the HTTP surface. When JWTSecret is set every /v1
// request needs an HS256 bearer token signed with it.
//
// Without a secret, browsers may only call /v1 from the server's own host
// or from AllowedOrigins.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	JWTSecret      string   `yaml:"jwt_secret" json:"-"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Path: "~/.toolbelt/workspace",
		},
		Exec: ExecConfig{
			Timeout:        60 * time.Second,
			MaxOutputChars: 10000,
		},
		Web: WebConfig{
			SearchURL:     "https://api.search.brave.com/res/v1/web/search",
			TavilyURL:     "https://api.tavily.com/search",
			MaxResults:    5,
			FetchMaxChars: 50000,
			UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Timeout:       30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			VisionModel: "gpt-4o",
		},
		ImageGen: ImageGenConfig{
			Model: "gemini-2.5-flash-image",
		},
		Channels: ChannelsConfig{
			DefaultChannel: "console",
			DefaultChatID:  "direct",
		},
		Cron: CronConfig{
			Store:    StoreFile,
			Path:     "~/.toolbelt/cron/jobs.json",
			RedisKey: "toolbelt:cron:jobs",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30 * time.Minute,
		},
		Subagent: SubagentConfig{
			MaxIterations:    15,
			Timeout:          10 * time.Minute,
			MaxContextTokens: 100000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.toolbelt/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".toolbelt", "config.yaml")
	}
	return filepath.Join(home, ".toolbelt", "config.yaml")
}

// Load reads the configuration. A missing file at path is not an error;
// defaults apply. Values from a .env file in the working directory and
// the process environment override the file.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file leaves the environment as is.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(expandHome(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Workspace.Path, "TOOLBELT_WORKSPACE")
	set(&c.Web.BraveAPIKey, "BRAVE_API_KEY")
	set(&c.Web.TavilyAPIKey, "TAVILY_API_KEY")
	set(&c.ImageGen.APIKey, "GOOGLE_API_KEY")
	set(&c.ImageGen.APIKey, "GEMINI_API_KEY")
	set(&c.LLM.Provider, "TOOLBELT_LLM_PROVIDER")
	switch c.LLM.Provider {
	case ProviderGemini:
		set(&c.LLM.APIKey, "GEMINI_API_KEY")
	case ProviderOllama:
		set(&c.LLM.BaseURL, "OLLAMA_HOST")
	default:
		set(&c.LLM.APIKey, "OPENAI_API_KEY")
		set(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	}
	set(&c.LLM.Model, "TOOLBELT_MODEL")
	set(&c.Server.JWTSecret, "TOOLBELT_JWT_SECRET")
	set(&c.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	set(&c.Cron.RedisAddr, "REDIS_ADDR")
	set(&c.Logging.Level, "TOOLBELT_LOG_LEVEL")

	if v := getenv("TOOLBELT_RESTRICT_WORKSPACE"); v != "" {
		c.Workspace.Restrict = v == "1" || strings.EqualFold(v, "true")
	}
	if c.Channels.Telegram.Token != "" && getenv("TELEGRAM_BOT_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}
}

func (c *Config) expandPaths() {
	c.Workspace.Path = expandHome(c.Workspace.Path)
	c.Cron.Path = expandHome(c.Cron.Path)
	c.Logging.Dir = expandHome(c.Logging.Dir)
	c.Browser.ScreenshotDir = expandHome(c.Browser.ScreenshotDir)
}

// Validate checks the configuration for values no component can use.
func (c *Config) Validate() error {
	if c.Workspace.Path == "" {
		return fmt.Errorf("workspace path is required")
	}
	if c.Exec.Timeout <= 0 {
		return fmt.Errorf("exec timeout must be positive")
	}
	if c.Exec.MaxOutputChars < 0 {
		return fmt.Errorf("exec max_output_chars cannot be negative")
	}
	if c.Web.FetchMaxChars < 0 {
		return fmt.Errorf("web fetch_max_chars cannot be negative")
	}
	if c.Web.MaxResults < 1 || c.Web.MaxResults > 10 {
		return fmt.Errorf("web max_results must be between 1 and 10")
	}
	switch c.Cron.Store {
	case StoreFile, StoreSQLite:
		if c.Cron.Path == "" {
			return fmt.Errorf("cron path is required for the %s store", c.Cron.Store)
		}
	case StoreRedis:
		if c.Cron.RedisAddr == "" {
			return fmt.Errorf("cron redis_addr is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid cron store: %s (must be 'file', 'sqlite' or 'redis')", c.Cron.Store)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("invalid llm provider: %s (must be 'openai', 'gemini' or 'ollama')", c.LLM.Provider)
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Subagent.MaxIterations <= 0 {
		return fmt.Errorf("subagent max_iterations must be positive")
	}
	if c.Subagent.MaxContextTokens < 0 {
		return fmt.Errorf("subagent max_context_tokens cannot be negative")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram channel enabled without a token")
	}
	return nil
}

// Save writes the configuration as YAML using a temp file and rename.
func (c *Config) Save(path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// StateDir returns ~/.toolbelt, the directory for logs, jobs and config.
func StateDir() string {
	return filepath.Dir(DefaultPath())
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
