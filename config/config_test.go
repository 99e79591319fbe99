package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "3001", config.Server.Port)
	assert.Equal(t, "./crm.db", config.Server.DBPath)
	assert.True(t, config.InsecureSecret())
	assert.Equal(t, 10*time.Second, config.Client.LockTTL)
	assert.Equal(t, zerolog.InfoLevel, config.Level())
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeFile(t, "crm.yml", `log_level: debug
server:
  port: "8080"
  db_path: /var/lib/crm.db
  read_timeout: 5s
redis:
  addr: localhost:6379
client:
  base_url: https://crm.example.com
  week_start: monday
  timezone: Europe/Berlin
  lock_ttl: 30s
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, "/var/lib/crm.db", config.Server.DBPath)
	assert.Equal(t, 5*time.Second, config.Server.ReadTimeout)
	// unset keys keep their defaults
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.Equal(t, "crm", config.Redis.Namespace)
	assert.Equal(t, 30*time.Second, config.Client.LockTTL)
	assert.Equal(t, zerolog.DebugLevel, config.Level())

	weeks, err := config.Weeks()
	require.NoError(t, err)
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, weeks.Start(time.Date(2025, 10, 22, 12, 0, 0, 0, berlin)).Weekday())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	path := writeFile(t, "crm.yml", "server:\n  port: \"8080\"\n")
	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", config.Server.Port)
	assert.False(t, config.InsecureSecret())
	assert.Equal(t, "redis:6379", config.Redis.Addr)
	assert.Equal(t, 2, config.Redis.DB)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Server.AllowedOrigins)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/crm.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "crm.yml", "server:\n  - not\n   a map\n")
	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad port", "server:\n  port: http\n", "server.port"},
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad weekday", "client:\n  week_start: funday\n", "client.week_start"},
		{"bad zone", "client:\n  timezone: Mars/Olympus\n", "client.timezone"},
		{"negative ttl", "client:\n  lock_ttl: -1s\n", "client.lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "crm.yml", tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "CRM_TEST_TOKEN=\"from-file\"\n# comment\nCRM_TEST_KEEP=file\n")
	t.Setenv("CRM_TEST_KEEP", "env")
	t.Cleanup(func() { os.Unsetenv("CRM_TEST_TOKEN") })

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("CRM_TEST_TOKEN"))
	assert.Equal(t, "env", os.Getenv("CRM_TEST_KEEP"))
}
