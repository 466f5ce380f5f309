package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ironlotus/gymsite/internal/pkg/env"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	DB         DBConfig         `mapstructure:"db"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Membership MembershipConfig `mapstructure:"membership"`
	Log        LogConfig        `mapstructure:"log"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

type AppConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type CacheConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Enabled  bool   `mapstructure:"enabled"`
}

type StripeConfig struct {
	SecretKey        string        `mapstructure:"secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
}

type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type MembershipConfig struct {
	TrialDays int `mapstructure:"trial_days"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

type MonitorConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads .env, then config.yaml if present, then environment variables.
// Keys map to variables by upper-casing and replacing "." with "_", so
// stripe.webhook_secret is read from STRIPE_WEBHOOK_SECRET.
func Load() (*Config, error) {
	env.SetupEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper applies defaults and environment binding to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 4000)
	v.SetDefault("app.env", "prod")

	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "gymsite")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.host", "localhost")
	v.SetDefault("cache.port", 6379)
	v.SetDefault("cache.password", "")

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.webhook_tolerance", 5*time.Minute)

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.lock_ttl", 30*time.Second)

	v.SetDefault("membership.trial_days", 7)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.secret_access_key", "")
	v.SetDefault("archive.prefix", "stripe")

	v.SetDefault("monitor.user", "")
	v.SetDefault("monitor.password", "")
}

func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		errs = append(errs, errors.New("stripe.webhook_secret is required"))
	}
	switch c.DB.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port %d is out of range", c.App.Port))
	}
	if c.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("webhook.timeout must be positive"))
	}
	if c.Membership.TrialDays <= 0 {
		errs = append(errs, errors.New("membership.trial_days must be positive"))
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required when the archive is enabled"))
		}
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			errs = append(errs, errors.New("archive credentials are required when the archive is enabled"))
		}
	}
	return errors.Join(errs...)
}
