package config

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models talentlink.yml. It is built once at startup and handed to each component.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Workspace     string `yaml:"workspace"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Mail          MailConfig          `yaml:"mail"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Chat          ChatConfig          `yaml:"chat"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type AuthConfig struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	DevLogin               bool   `yaml:"dev_login"`
}

type MailConfig struct {
	Provider string        `yaml:"provider"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
	SMTP     struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"smtp"`
	HTTP struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"http"`
}

// Overflow policies for the notification queue.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowRejectNew  = "reject_new"
)

type NotificationsConfig struct {
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	Overflow  string `yaml:"overflow"`
}

// Poll modes for the message long-poll.
const (
	PollModeInterval = "interval"
	PollModeSignal   = "signal"
)

type ChatConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	PollMode     string        `yaml:"poll_mode"`
}

type StorageConfig struct {
	Dir      string `yaml:"dir"`
	BaseURL  string `yaml:"base_url"`
	MaxBytes int64  `yaml:"max_bytes"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Statuses       []string `yaml:"statuses"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "talentlink.yml")
}

// Default returns the default Config.
func Default() *Config {
	cfg := base()
	cfg.applyDefaults()
	return cfg
}

func base() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
	if c.Database.Workspace == "" {
		c.Database.Workspace = "."
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = "log"
	}
	if c.Mail.Timeout <= 0 {
		c.Mail.Timeout = 10 * time.Second
	}
	if c.Mail.SMTP.Port == 0 {
		c.Mail.SMTP.Port = 587
	}
	if c.Notifications.Workers <= 0 {
		c.Notifications.Workers = 4
	}
	if c.Notifications.QueueSize <= 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.Overflow == "" {
		c.Notifications.Overflow = OverflowDropOldest
	}
	if c.Chat.PollInterval <= 0 {
		c.Chat.PollInterval = time.Second
	}
	if c.Chat.PollTimeout <= 0 {
		c.Chat.PollTimeout = 30 * time.Second
	}
	if c.Chat.PollMode == "" {
		c.Chat.PollMode = PollModeSignal
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(c.Database.Workspace, ".talentlink", "uploads")
	}
	if c.Storage.BaseURL == "" {
		c.Storage.BaseURL = "/files/"
	}
	if c.Storage.MaxBytes <= 0 {
		c.Storage.MaxBytes = 10 << 20
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Mail.Provider {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("config.mail.smtp.host is required for provider smtp")
		}
	case "http":
		if c.Mail.HTTP.Endpoint == "" {
			return fmt.Errorf("config.mail.http.endpoint is required for provider http")
		}
	default:
		return fmt.Errorf("config.mail.provider must be one of smtp, http, log")
	}
	if c.Mail.From != "" {
		if _, err := mail.ParseAddress(c.Mail.From); err != nil {
			return fmt.Errorf("config.mail.from: %w", err)
		}
	}
	switch c.Notifications.Overflow {
	case OverflowDropOldest, OverflowRejectNew:
	default:
		return fmt.Errorf("config.notifications.overflow must be %s or %s", OverflowDropOldest, OverflowRejectNew)
	}
	switch c.Chat.PollMode {
	case PollModeInterval, PollModeSignal:
	default:
		return fmt.Errorf("config.chat.poll_mode must be %s or %s", PollModeInterval, PollModeSignal)
	}
	if c.Chat.PollInterval > c.Chat.PollTimeout {
		return fmt.Errorf("config.chat.poll_interval must not exceed poll_timeout")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	return nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

database:
  workspace: .
  busy_timeout_ms: 5000

auth:
  # jwt_secret is usually supplied through TALENTLINK_JWT_SECRET.
  jwt_secret: ""
  allow_legacy_actor_header: false
  dev_login: false

mail:
  # smtp | http | log
  provider: log
  from: "TalentLink <no-reply@talentlink.local>"
  timeout: 10s
  smtp:
    host: ""
    port: 587
    username: ""
    password: ""
  http:
    endpoint: ""
    api_key: ""

notifications:
  workers: 4
  queue_size: 256
  # drop_oldest | reject_new
  overflow: drop_oldest

chat:
  poll_interval: 1s
  poll_timeout: 30s
  # interval | signal
  poll_mode: signal

storage:
  dir: ""
  base_url: /files/
  max_bytes: 10485760

logging:
  level: info
  format: text

webhooks: []
`
