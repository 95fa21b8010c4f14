package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"TrendSentinel/internal/collector"
	"TrendSentinel/internal/model"
	"TrendSentinel/internal/store"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "configs/config.yaml"

// CronList is a list of cron specs. From the environment it is separated by
// semicolons, since specs themselves contain commas.
type CronList []string

// Decode implements envconfig.Decoder.
func (c *CronList) Decode(value string) error {
	var out CronList
	for _, spec := range strings.Split(value, ";") {
		if spec = strings.TrimSpace(spec); spec != "" {
			out = append(out, spec)
		}
	}
	*c = out
	return nil
}

// ProviderConfig overrides the HTTP settings of one provider adapter.
type ProviderConfig struct {
	BaseURL   string  `yaml:"base_url" validate:"omitempty,url"`
	RateLimit float64 `yaml:"rate_limit"`
}

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token" split_words:"true" validate:"required_with=ChatID"`
		ChatID   string `yaml:"chat_id" split_words:"true" validate:"required_with=BotToken"`

		// Commands enables long polling for bot commands.
		Commands bool `yaml:"commands"`
	} `yaml:"telegram"`
	Webhook struct {
		URL string `yaml:"url" validate:"omitempty,url"`
	} `yaml:"webhook"`
	Store struct {
		Driver string `yaml:"driver" validate:"oneof=file sqlite redis memory"`
		Path   string `yaml:"path"`
		Redis  struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" validate:"gte=0"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"store"`
	Database struct {
		// SQLitePath is the check history database; "off" disables history.
		SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	} `yaml:"database"`
	Fetch struct {
		Workers           int           `yaml:"workers" validate:"min=1,max=64"`
		MaxBars           int           `yaml:"max_bars" split_words:"true" validate:"min=30,max=1000"`
		HistoryLen        int           `yaml:"history_len" split_words:"true" validate:"min=1"`
		IncludeFormingBar bool          `yaml:"include_forming_bar" split_words:"true"`
		Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
		CheckTimeout      time.Duration `yaml:"check_timeout" split_words:"true" validate:"gtefield=Timeout"`
	} `yaml:"fetch"`
	Providers struct {
		Enabled   []string                  `yaml:"enabled"`
		Proxy     string                    `yaml:"proxy" envconfig:"HTTPS_PROXY"`
		Timeout   time.Duration             `yaml:"timeout"`
		Overrides map[string]ProviderConfig `yaml:"overrides" ignored:"true" validate:"dive"`
	} `yaml:"providers"`
	Schedule struct {
		CheckCrons       CronList `yaml:"check_crons" split_words:"true" validate:"min=1,dive,cron"`
		WeeklyCron       string   `yaml:"weekly_cron" split_words:"true" validate:"cron"`
		SkipInitialCheck bool     `yaml:"skip_initial_check" split_words:"true"`
	} `yaml:"schedule"`
	Index struct {
		RefreshInterval time.Duration `yaml:"refresh_interval" split_words:"true" validate:"gte=0"`
		ListTimeout     time.Duration `yaml:"list_timeout" split_words:"true"`
		Limit           int           `yaml:"limit" validate:"min=1"`
	} `yaml:"index"`
	// Watchlist seeds the instrument list on first run only.
	Watchlist []model.Instrument `yaml:"watchlist" ignored:"true" validate:"dive"`
	Log       struct {
		Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	MetricsAddr string `yaml:"metrics_addr" split_words:"true" validate:"omitempty,hostname_port"`
}

// DefaultWatchlist is seeded when the config names no instruments.
var DefaultWatchlist = []model.Instrument{
	{Exchange: "binance", Symbol: "BTC/USDT"},
	{Exchange: "hyperliquid", Symbol: "HYPE/USDC:USDC"},
}

// Load reads config from a YAML file, then .env, then environment variable
// overrides, and finally fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; variables already in the environment win.
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/history.db"
	}
	if c.Fetch.Workers == 0 {
		c.Fetch.Workers = 4
	}
	if c.Fetch.MaxBars == 0 {
		c.Fetch.MaxBars = 100
	}
	if c.Fetch.HistoryLen == 0 {
		c.Fetch.HistoryLen = 7
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.CheckTimeout == 0 {
		c.Fetch.CheckTimeout = 2 * time.Minute
	}
	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = c.Fetch.Timeout
	}
	if len(c.Schedule.CheckCrons) == 0 {
		c.Schedule.CheckCrons = CronList{"0 0 8,12,16,20 * * *"}
	}
	if c.Schedule.WeeklyCron == "" {
		c.Schedule.WeeklyCron = "0 0 10 * * 1"
	}
	if c.Index.RefreshInterval == 0 {
		c.Index.RefreshInterval = 6 * time.Hour
	}
	if c.Index.ListTimeout == 0 {
		c.Index.ListTimeout = time.Minute
	}
	if c.Index.Limit == 0 {
		c.Index.Limit = 20
	}
	if len(c.Watchlist) == 0 {
		c.Watchlist = append([]model.Instrument(nil), DefaultWatchlist...)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cronParser.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and returns one error per violation.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var all []error
	for _, fe := range verrs {
		all = append(all, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(all...)
}

// HistoryEnabled reports whether the check history database is configured.
func (c *Config) HistoryEnabled() bool {
	return c.Database.SQLitePath != "off"
}

// StoreConfig maps the store section onto store.Open options.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:      c.Store.Driver,
		Path:        c.Store.Path,
		RedisAddr:   c.Store.Redis.Addr,
		RedisPass:   c.Store.Redis.Password,
		RedisDB:     c.Store.Redis.DB,
		RedisPrefix: c.Store.Redis.Prefix,
	}
}

// RegistryConfig maps the providers section onto the adapter registry options.
func (c *Config) RegistryConfig() collector.RegistryConfig {
	rc := collector.RegistryConfig{
		Enabled: c.Providers.Enabled,
		Proxy:   c.Providers.Proxy,
		Timeout: c.Providers.Timeout,
	}
	if len(c.Providers.Overrides) > 0 {
		rc.Overrides = make(map[string]collector.HTTPConfig, len(c.Providers.Overrides))
		for name, o := range c.Providers.Overrides {
			rc.Overrides[strings.ToLower(name)] = collector.HTTPConfig{BaseURL: o.BaseURL, RateLimit: o.RateLimit}
		}
	}
	return rc
}

// NormalizerConfig maps the fetch section onto normalizer options.
func (c *Config) NormalizerConfig() collector.NormalizerConfig {
	return collector.NormalizerConfig{
		Timeout:           c.Fetch.Timeout,
		IncludeFormingBar: c.Fetch.IncludeFormingBar,
	}
}
