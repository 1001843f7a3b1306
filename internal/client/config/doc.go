// Package config loads runtime configuration for the churchkeeper client and
// sync agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c / -config, or the
//     CHURCHKEEPER_CONFIG environment variable.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the sync server
//	-i int      online status check interval (seconds)
//	-d string   local database path
//	-s string   spool directory for deferred sync
//	-l string   log level
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "ping_timeout": "2s",
//	  "database_path": "/var/lib/churchkeeper/churchkeeper.db",
//	  "spool_dir": "/var/lib/churchkeeper/spool",
//	  "api_token": "...",
//	  "log_level": "debug",
//	  "log_format": "json",
//	  "log_file": "/var/log/churchkeeper.log"
//	}
//
// Keys that are absent leave the earlier value in place.
package config
