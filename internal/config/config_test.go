package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(50), cfg.Wager.MinWager)
	assert.Equal(t, int64(500), cfg.Wager.MaxWager)
	assert.Equal(t, int64(1000), cfg.Account.SignupBonus)
	assert.Equal(t, int64(5), cfg.Content.ApprovalReward)
	assert.Equal(t, 1, cfg.Settlement.Concurrency)
	assert.Equal(t, time.Minute, cfg.Settlement.Interval)
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
wager:
  min_wager: 10
  max_wager: 1000
settlement:
  interval: 30s
  concurrency: 4
admin:
  ids: [42, 43]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.Wager.MinWager)
	assert.Equal(t, int64(1000), cfg.Wager.MaxWager)
	assert.Equal(t, 30*time.Second, cfg.Settlement.Interval)
	assert.Equal(t, 4, cfg.Settlement.Concurrency)
	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(44))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WAGER_MAX_WAGER", "750")
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int64(750), cfg.Wager.MaxWager)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Wager:      WagerConfig{MinWager: 50, MaxWager: 500},
			Settlement: SettlementConfig{Concurrency: 1},
			Storage:    StorageConfig{Backend: "memory"},
			Lock:       LockConfig{Backend: "memory"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero min", func(c *Config) { c.Wager.MinWager = 0 }, true},
		{"max below min", func(c *Config) { c.Wager.MaxWager = 10 }, true},
		{"zero concurrency", func(c *Config) { c.Settlement.Concurrency = 0 }, true},
		{"redis without addr", func(c *Config) { c.Lock.Backend = "redis" }, true},
		{"redis with addr", func(c *Config) { c.Lock.Backend = "redis"; c.Redis.Addr = "localhost:6379" }, false},
		{"unknown backend", func(c *Config) { c.Lock.Backend = "etcd" }, true},
		{"postgres storage", func(c *Config) { c.Storage.Backend = "postgres" }, false},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5433, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=disable", d.DSN())

	d.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@h:5433/n?sslmode=require", d.DSN())
}

func TestIsChatAllowed(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.IsChatAllowed(1))

	cfg.Whitelist.Chats = []int64{-100}
	assert.True(t, cfg.IsChatAllowed(-100))
	assert.False(t, cfg.IsChatAllowed(1))
}
