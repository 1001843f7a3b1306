package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/flagx"
	"github.com/dmitrijs2005/churchkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 3*time.Second, c.PingTimeout)
	assert.Equal(t, "churchkeeper.db", filepath.Base(c.DatabasePath))
	assert.Equal(t, filepath.Dir(c.DatabasePath), filepath.Dir(c.SpoolDir))
	assert.Equal(t, "info", c.LogLevel)
	assert.Empty(t, c.APIToken)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}
	t.Setenv(flagx.ConfigEnvVar, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, "", "", map[string]any{
		"server_endpoint_addr":  "json:1",
		"online_check_interval": "7s",
		"log_level":             "debug",
	})
	os.Args = []string{"testbin", "-c", path, "-a", "flag:2"}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "flag:2", cfg.ServerEndpointAddr)
	assert.Equal(t, 7*time.Second, cfg.OnlineCheckInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_SubSecondIntervalFromJSON(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		name     string
		interval string
		want     time.Duration
	}{
		{name: "below one second", interval: "500ms", want: 500 * time.Millisecond},
		{name: "fractional seconds", interval: "2500ms", want: 2500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempJSON(t, "", "", map[string]any{"online_check_interval": tt.interval})
			os.Args = []string{"testbin", "-c", path}

			cfg, err := LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.OnlineCheckInterval)
		})
	}
}

func TestLoadConfig_FlagIntervalOverridesJSON(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, "", "", map[string]any{"online_check_interval": "500ms"})
	os.Args = []string{"testbin", "-c", path, "-i", "4"}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.OnlineCheckInterval)
}

func TestConfig_Validate(t *testing.T) {
	var c Config
	c.LoadDefaults()
	require.NoError(t, c.Validate())

	c.OnlineCheckInterval = 0
	c.PingTimeout = -time.Second
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "online check interval must be positive")
	assert.Contains(t, err.Error(), "ping timeout must be positive")
}

func TestLoadConfig_BadJSONIsAnError(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))
	os.Args = []string{"testbin", "-config", bad}

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLogging(t *testing.T) {
	c := Config{LogLevel: "warn", LogFormat: "json", LogFile: "/tmp/x.log"}
	assert.Equal(t, logging.Options{Level: "warn", Format: "json", File: "/tmp/x.log"}, c.Logging())
}
