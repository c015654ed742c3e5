package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable pointing at the YAML config file.
const EnvConfig = "AGENT_CONFIG"

const (
	envLogLevel         = "AGENT_LOG_LEVEL"
	envTimezone         = "AGENT_TIMEZONE"
	envStorageDriver    = "AGENT_STORAGE_DRIVER"
	envSQLitePath       = "AGENT_SQLITE_PATH"
	envRedisAddr        = "AGENT_REDIS_ADDR"
	envRedisPassword    = "AGENT_REDIS_PASSWORD"
	envGeminiAPIKey     = "AGENT_GEMINI_API_KEY"
	envOpenAIAPIKey     = "AGENT_OPENAI_API_KEY"
	envOpenAIEndpoint   = "AGENT_OPENAI_ENDPOINT"
	envGitHubToken      = "AGENT_GITHUB_TOKEN"
	envSMTPHost         = "AGENT_SMTP_HOST"
	envSMTPPort         = "AGENT_SMTP_PORT"
	envSMTPUsername     = "AGENT_SMTP_USERNAME"
	envSMTPPassword     = "AGENT_SMTP_PASSWORD"
	envSMTPFrom         = "AGENT_SMTP_FROM"
	envTelegramToken    = "AGENT_TELEGRAM_TOKEN"
	envTelegramChatID   = "AGENT_TELEGRAM_CHAT_ID"
)

// Config aggregates every runtime option of the service.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Filter       FilterConfig       `yaml:"filter"`
	LLM          LLMConfig          `yaml:"llm"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
	Sources      SourcesConfig      `yaml:"sources"`
}

// LoggingConfig selects log verbosity and output encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects and parameterizes the subscription store.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	SQLitePath    string `yaml:"sqlitePath"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	SeenTTLDays   int    `yaml:"seenTtlDays"`
}

// SeenTTL returns how long delivered item fingerprints are remembered.
func (s StorageConfig) SeenTTL() time.Duration {
	days := s.SeenTTLDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// SchedulerConfig drives the subscription check loop.
type SchedulerConfig struct {
	Timezone    string `yaml:"timezone"`
	TickSeconds int    `yaml:"tickSeconds"`

	location *time.Location
}

// Location returns the parsed timezone, falling back to UTC.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// Tick returns the interval between subscription checks.
func (s SchedulerConfig) Tick() time.Duration {
	if s.TickSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.TickSeconds) * time.Second
}

// OrchestratorConfig bounds the per-source crawl work.
type OrchestratorConfig struct {
	SourceTimeoutSeconds int `yaml:"sourceTimeoutSeconds"`
	MaxAttempts          int `yaml:"maxAttempts"`
	RetryBaseMillis      int `yaml:"retryBaseMillis"`
	PerSourceLimit       int `yaml:"perSourceLimit"`
}

// SourceTimeout returns the budget a single source gets per query.
func (o OrchestratorConfig) SourceTimeout() time.Duration {
	if o.SourceTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.SourceTimeoutSeconds) * time.Second
}

// RetryBase returns the first retry delay; later delays double it.
func (o OrchestratorConfig) RetryBase() time.Duration {
	if o.RetryBaseMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.RetryBaseMillis) * time.Millisecond
}

// FilterConfig tunes the relevance pipeline.
type FilterConfig struct {
	CandidateLimit int  `yaml:"candidateLimit"`
	ScoreThreshold int  `yaml:"scoreThreshold"`
	ContentLimit   int  `yaml:"contentLimit"`
	SummaryTop     int  `yaml:"summaryTop"`
	StrictTitle    bool `yaml:"strictTitle"`
}

// LLMConfig configures the scoring model chain.
type LLMConfig struct {
	GeminiAPIKey    string `yaml:"geminiApiKey"`
	GeminiModel     string `yaml:"geminiModel"`
	OpenAIEndpoint  string `yaml:"openaiEndpoint"`
	OpenAIAPIKey    string `yaml:"openaiApiKey"`
	OpenAIModel     string `yaml:"openaiModel"`
	MaxAttempts     int    `yaml:"maxAttempts"`
	RetryBaseMillis int    `yaml:"retryBaseMillis"`
}

// RetryBase returns the first retry delay for model calls.
func (l LLMConfig) RetryBase() time.Duration {
	if l.RetryBaseMillis <= 0 {
		return time.Second
	}
	return time.Duration(l.RetryBaseMillis) * time.Millisecond
}

// DeliveryConfig holds the notification channels.
type DeliveryConfig struct {
	Email    EmailConfig    `yaml:"email"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// EmailConfig carries SMTP connection settings.
type EmailConfig struct {
	SMTPHost string `yaml:"smtpHost"`
	SMTPPort int    `yaml:"smtpPort"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// TelegramConfig carries the optional bot channel settings.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chatId"`
}

// SourcesConfig parameterizes the built-in source adapters.
type SourcesConfig struct {
	GitHubToken string       `yaml:"githubToken"`
	RSSFeeds    []string     `yaml:"rssFeeds"`
	Sites       []SiteConfig `yaml:"sites"`
}

// SiteConfig describes one selector-driven site adapter.
type SiteConfig struct {
	Name       string   `yaml:"name"`
	BaseURL    string   `yaml:"baseUrl"`
	SearchURL  string   `yaml:"searchUrl"`
	Container  string   `yaml:"container"`
	Title      string   `yaml:"titleSelector"`
	Link       string   `yaml:"linkSelector"`
	Content    string   `yaml:"contentSelector"`
	Date       string   `yaml:"dateSelector"`
	DateFormat string   `yaml:"dateFormat"`
	Domains    []string `yaml:"domains"`
}

// Load builds the effective configuration: defaults, then the optional YAML
// file from AGENT_CONFIG, then environment overrides. It never fails; bad
// input is logged and replaced by the default value.
func Load() Config {
	cfg := defaultConfig()
	if path := os.Getenv(EnvConfig); path != "" {
		fileCfg, err := readFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v, using defaults", path, err)
		} else {
			cfg = mergeConfig(cfg, fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	bindTimezone(&cfg)
	return cfg
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(envTimezone); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := os.Getenv(envStorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv(envSQLitePath); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv(envRedisPassword); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv(envGeminiAPIKey); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv(envOpenAIAPIKey); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv(envOpenAIEndpoint); v != "" {
		cfg.LLM.OpenAIEndpoint = v
	}
	if v := os.Getenv(envGitHubToken); v != "" {
		cfg.Sources.GitHubToken = v
	}
	if v := os.Getenv(envSMTPHost); v != "" {
		cfg.Delivery.Email.SMTPHost = v
	}
	if v := os.Getenv(envSMTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("config: invalid %s=%q: %v", envSMTPPort, v, err)
		} else {
			cfg.Delivery.Email.SMTPPort = port
		}
	}
	if v := os.Getenv(envSMTPUsername); v != "" {
		cfg.Delivery.Email.Username = v
	}
	if v := os.Getenv(envSMTPPassword); v != "" {
		cfg.Delivery.Email.Password = v
	}
	if v := os.Getenv(envSMTPFrom); v != "" {
		cfg.Delivery.Email.From = v
	}
	if v := os.Getenv(envTelegramToken); v != "" {
		cfg.Delivery.Telegram.Token = v
	}
	if v := os.Getenv(envTelegramChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Printf("config: invalid %s=%q: %v", envTelegramChatID, v, err)
		} else {
			cfg.Delivery.Telegram.ChatID = id
		}
	}
}

func bindTimezone(cfg *Config) {
	if cfg.Scheduler.Timezone == "" {
		return
	}
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Printf("config: invalid timezone %q: %v, using UTC", cfg.Scheduler.Timezone, err)
		return
	}
	cfg.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	result := base
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}
	if override.Storage.Driver != "" {
		result.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.SQLitePath != "" {
		result.Storage.SQLitePath = override.Storage.SQLitePath
	}
	if override.Storage.RedisAddr != "" {
		result.Storage.RedisAddr = override.Storage.RedisAddr
	}
	if override.Storage.RedisPassword != "" {
		result.Storage.RedisPassword = override.Storage.RedisPassword
	}
	if override.Storage.RedisDB != 0 {
		result.Storage.RedisDB = override.Storage.RedisDB
	}
	if override.Storage.SeenTTLDays != 0 {
		result.Storage.SeenTTLDays = override.Storage.SeenTTLDays
	}
	if override.Scheduler.Timezone != "" {
		result.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.TickSeconds != 0 {
		result.Scheduler.TickSeconds = override.Scheduler.TickSeconds
	}
	if override.Orchestrator.SourceTimeoutSeconds != 0 {
		result.Orchestrator.SourceTimeoutSeconds = override.Orchestrator.SourceTimeoutSeconds
	}
	if override.Orchestrator.MaxAttempts != 0 {
		result.Orchestrator.MaxAttempts = override.Orchestrator.MaxAttempts
	}
	if override.Orchestrator.RetryBaseMillis != 0 {
		result.Orchestrator.RetryBaseMillis = override.Orchestrator.RetryBaseMillis
	}
	if override.Orchestrator.PerSourceLimit != 0 {
		result.Orchestrator.PerSourceLimit = override.Orchestrator.PerSourceLimit
	}
	if override.Filter.CandidateLimit != 0 {
		result.Filter.CandidateLimit = override.Filter.CandidateLimit
	}
	if override.Filter.ScoreThreshold != 0 {
		result.Filter.ScoreThreshold = override.Filter.ScoreThreshold
	}
	if override.Filter.ContentLimit != 0 {
		result.Filter.ContentLimit = override.Filter.ContentLimit
	}
	if override.Filter.SummaryTop != 0 {
		result.Filter.SummaryTop = override.Filter.SummaryTop
	}
	if override.Filter.StrictTitle {
		result.Filter.StrictTitle = true
	}
	if override.LLM.GeminiAPIKey != "" {
		result.LLM.GeminiAPIKey = override.LLM.GeminiAPIKey
	}
	if override.LLM.GeminiModel != "" {
		result.LLM.GeminiModel = override.LLM.GeminiModel
	}
	if override.LLM.OpenAIEndpoint != "" {
		result.LLM.OpenAIEndpoint = override.LLM.OpenAIEndpoint
	}
	if override.LLM.OpenAIAPIKey != "" {
		result.LLM.OpenAIAPIKey = override.LLM.OpenAIAPIKey
	}
	if override.LLM.OpenAIModel != "" {
		result.LLM.OpenAIModel = override.LLM.OpenAIModel
	}
	if override.LLM.MaxAttempts != 0 {
		result.LLM.MaxAttempts = override.LLM.MaxAttempts
	}
	if override.LLM.RetryBaseMillis != 0 {
		result.LLM.RetryBaseMillis = override.LLM.RetryBaseMillis
	}
	if override.Delivery.Email.SMTPHost != "" {
		result.Delivery.Email.SMTPHost = override.Delivery.Email.SMTPHost
	}
	if override.Delivery.Email.SMTPPort != 0 {
		result.Delivery.Email.SMTPPort = override.Delivery.Email.SMTPPort
	}
	if override.Delivery.Email.Username != "" {
		result.Delivery.Email.Username = override.Delivery.Email.Username
	}
	if override.Delivery.Email.Password != "" {
		result.Delivery.Email.Password = override.Delivery.Email.Password
	}
	if override.Delivery.Email.From != "" {
		result.Delivery.Email.From = override.Delivery.Email.From
	}
	if override.Delivery.Telegram.Token != "" {
		result.Delivery.Telegram.Token = override.Delivery.Telegram.Token
	}
	if override.Delivery.Telegram.ChatID != 0 {
		result.Delivery.Telegram.ChatID = override.Delivery.Telegram.ChatID
	}
	if override.Sources.GitHubToken != "" {
		result.Sources.GitHubToken = override.Sources.GitHubToken
	}
	if len(override.Sources.RSSFeeds) > 0 {
		result.Sources.RSSFeeds = override.Sources.RSSFeeds
	}
	if len(override.Sources.Sites) > 0 {
		result.Sources.Sites = override.Sources.Sites
	}
	return result
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			SQLitePath:  "issueagent.db",
			RedisAddr:   "localhost:6379",
			SeenTTLDays: 7,
		},
		Scheduler: SchedulerConfig{
			Timezone:    "UTC",
			TickSeconds: 60,
		},
		Orchestrator: OrchestratorConfig{
			SourceTimeoutSeconds: 30,
			MaxAttempts:          3,
			RetryBaseMillis:      500,
			PerSourceLimit:       100,
		},
		Filter: FilterConfig{
			CandidateLimit: 5,
			ScoreThreshold: 5,
			ContentLimit:   1500,
			SummaryTop:     5,
		},
		LLM: LLMConfig{
			GeminiModel:     "gemini-2.0-flash",
			OpenAIEndpoint:  "https://api.openai.com/v1/chat/completions",
			OpenAIModel:     "gpt-4o-mini",
			MaxAttempts:     3,
			RetryBaseMillis: 1000,
		},
		Delivery: DeliveryConfig{
			Email: EmailConfig{
				SMTPPort: 587,
			},
		},
	}
}
