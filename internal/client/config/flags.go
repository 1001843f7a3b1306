package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/flagx"
)

var knownFlags = []string{"-a", "-i", "-d", "-s", "-l"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the sync server
//	-i int      online check interval in seconds
//	-d string   local database path
//	-s string   spool directory for deferred sync ("" disables)
//	-l string   log level
//
// Only these flags are read from os.Args; see flagx.FilterArgs.
func parseFlags(cfg *Config) error {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.SpoolDir, "s", cfg.SpoolDir, "spool directory for deferred sync")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	// -i only counts when given; its default is rounded to whole seconds.
	var err error
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "i" {
			return
		}
		if *onlineCheckInterval <= 0 {
			err = fmt.Errorf("invalid flags: online check interval must be positive, got %d", *onlineCheckInterval)
			return
		}
		cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	})
	return err
}
