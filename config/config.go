package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/CrowderSoup/crm-board/calendar"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const defaultJWTSecret = "your-default-secret-key-change-in-production"

// Config is the crm.yml configuration shared by the server and the clients.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Server   ServerConfig `yaml:"server"`
	SMTP     SMTPConfig   `yaml:"smtp"`
	Redis    RedisConfig  `yaml:"redis"`
	Client   ClientConfig `yaml:"client"`
}

// ServerConfig configures `crm serve`.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	DBPath         string        `yaml:"db_path"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// SMTPConfig is where magic links are mailed from. Mail is skipped when Host is empty.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// RedisConfig enables cross-instance push relaying. Addr empty means a single instance.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// ClientConfig configures `crm watch` and `crm week`.
type ClientConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Token     string        `yaml:"token"`
	Locale    string        `yaml:"locale"`
	WeekStart string        `yaml:"week_start"`
	Timezone  string        `yaml:"timezone"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:           "3001",
			DBPath:         "./crm.db",
			JWTSecret:      defaultJWTSecret,
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
		},
		Redis: RedisConfig{Namespace: "crm"},
		Client: ClientConfig{
			BaseURL:   "http://localhost:3001",
			Locale:    "en",
			WeekStart: "sunday",
			LockTTL:   10 * time.Second,
		},
	}
}

// LoadDotEnv exports the variables of each existing file that are not
// already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":      &c.LogLevel,
		"PORT":           &c.Server.Port,
		"DB_PATH":        &c.Server.DBPath,
		"JWT_SECRET":     &c.Server.JWTSecret,
		"SMTP_HOST":      &c.SMTP.Host,
		"SMTP_PORT":      &c.SMTP.Port,
		"SMTP_USERNAME":  &c.SMTP.Username,
		"SMTP_PASSWORD":  &c.SMTP.Password,
		"SMTP_FROM":      &c.SMTP.From,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"CRM_BASE_URL":   &c.Client.BaseURL,
		"CRM_TOKEN":      &c.Client.Token,
		"CRM_LOCALE":     &c.Client.Locale,
		"CRM_TIMEZONE":   &c.Client.Timezone,
		"CRM_WEEK_START": &c.Client.WeekStart,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", c.Server.Port)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := calendar.ParseWeekday(c.Client.WeekStart); err != nil {
		return fmt.Errorf("client.week_start: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("client.timezone: %w", err)
	}
	if c.Client.LockTTL < 0 {
		return fmt.Errorf("client.lock_ttl must be >= 0, got %s", c.Client.LockTTL)
	}
	return nil
}

// Level returns the zerolog level for LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Location returns the calendar time zone. Empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Client.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Client.Timezone)
}

// Weeks returns the week scheme for the calendar.
func (c *Config) Weeks() (calendar.Weeks, error) {
	loc, err := c.Location()
	if err != nil {
		return calendar.Weeks{}, err
	}
	first, err := calendar.ParseWeekday(c.Client.WeekStart)
	if err != nil {
		return calendar.Weeks{}, err
	}
	return calendar.NewWeeks(loc, first), nil
}

// InsecureSecret reports whether the JWT secret is the built-in development value.
func (c *Config) InsecureSecret() bool {
	return c.Server.JWTSecret == defaultJWTSecret
}
