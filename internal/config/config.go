package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/crosspost/pkg/logger"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logger        logger.Config       `yaml:"logger"`
	Poster        PosterConfig        `yaml:"poster"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Files         FilesConfig         `yaml:"files"`
	Websites      []WebsiteConfig     `yaml:"websites" validate:"dive"`
}

type ServerConfig struct {
	Port         int      `yaml:"port" validate:"min=1,max=65535"`
	Host         string   `yaml:"host"`
	Mode         string   `yaml:"mode" validate:"oneof=debug release test"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type" validate:"oneof=postgres sqlite"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the sqlite file, or ":memory:".
	Path string `yaml:"path" validate:"required_if=Type sqlite"`
}

// RedisConfig enables the shared post-time store. When disabled post times
// live in memory and are lost on restart.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db" validate:"min=0"`
	KeyPrefix   string        `yaml:"key_prefix"`
	PostTimeTTL time.Duration `yaml:"post_time_ttl"`
}

type PosterConfig struct {
	EmptyQueueOnFailure bool          `yaml:"empty_queue_on_failure"`
	MinPostDelay        time.Duration `yaml:"min_post_delay" validate:"min=0"`
}

type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Spec    string `yaml:"spec" validate:"required_if=Enabled true"`
}

type NotificationsConfig struct {
	WebhookURL    string  `yaml:"webhook_url" validate:"omitempty,url"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`
	Burst         int     `yaml:"burst" validate:"min=0"`
}

type FilesConfig struct {
	RootDir string `yaml:"root_dir"`
}

// WebsiteConfig registers one webhook-backed website.
type WebsiteConfig struct {
	Name              string        `yaml:"name" validate:"required"`
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	Token             string        `yaml:"token"`
	AcceptsSourceURLs bool          `yaml:"accepts_source_urls"`
	WaitBetweenPosts  time.Duration `yaml:"wait_between_posts" validate:"min=0"`
	MaxTags           int           `yaml:"max_tags" validate:"min=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"min=0"`
	Enabled           *bool         `yaml:"enabled"`
}

// IsEnabled treats a missing enabled flag as true.
func (w WebsiteConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "crosspost:last_post"
	}
	if cfg.Redis.PostTimeTTL == 0 {
		cfg.Redis.PostTimeTTL = 7 * 24 * time.Hour
	}
	if cfg.Poster.MinPostDelay == 0 {
		cfg.Poster.MinPostDelay = 5 * time.Second
	}
	if cfg.Scheduler.Spec == "" {
		cfg.Scheduler.Spec = "@every 1m"
	}
	if cfg.Notifications.RatePerSecond == 0 {
		cfg.Notifications.RatePerSecond = 1
	}
	if cfg.Notifications.Burst == 0 {
		cfg.Notifications.Burst = 5
	}
	if cfg.Files.RootDir == "" {
		cfg.Files.RootDir = "data/files"
	}
	for i := range cfg.Websites {
		if cfg.Websites[i].Timeout == 0 {
			cfg.Websites[i].Timeout = 30 * time.Second
		}
	}
}

// Validate checks field constraints and that website names are unique.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Websites))
	for _, w := range cfg.Websites {
		if _, ok := seen[w.Name]; ok {
			return fmt.Errorf("invalid config: duplicate website %q", w.Name)
		}
		seen[w.Name] = struct{}{}
	}
	return nil
}
