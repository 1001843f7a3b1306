package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/churchkeeper/internal/flagx"
	"github.com/dmitrijs2005/churchkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals use
// timex.Duration so they may be written as "3s" or as integer nanoseconds.
// Pointers distinguish "absent" from "empty" for the string fields that may
// legitimately be cleared.
type JsonConfig struct {
	ServerEndpointAddr  string          `json:"server_endpoint_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	PingTimeout         *timex.Duration `json:"ping_timeout"`
	DatabasePath        string          `json:"database_path"`
	SpoolDir            *string         `json:"spool_dir"`
	APIToken            string          `json:"api_token"`
	LogLevel            string          `json:"log_level"`
	LogFormat           string          `json:"log_format"`
	LogFile             *string         `json:"log_file"`
}

// parseJson overlays Config with the values present in the JSON file named
// by -c/-config or CHURCHKEEPER_CONFIG. Without a file nothing changes.
func parseJson(cfg *Config) error {
	path := flagx.ConfigPath()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	jc.apply(cfg)
	return nil
}

func (jc JsonConfig) apply(cfg *Config) {
	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.APIToken, jc.APIToken)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)

	if jc.OnlineCheckInterval != nil {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.PingTimeout != nil {
		cfg.PingTimeout = jc.PingTimeout.Duration
	}
	if jc.SpoolDir != nil {
		cfg.SpoolDir = *jc.SpoolDir
	}
	if jc.LogFile != nil {
		cfg.LogFile = *jc.LogFile
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
