package cli

import (
	log "github.com/sirupsen/logrus"

	"github.com/roach88/spacesync/internal/config"
)

// initLog configures the process logger. --verbose forces debug.
// The level was checked by config.Validate.
func initLog(cfg config.LogConfig, verbose bool) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	if verbose {
		lvl = log.DebugLevel
	}
	log.SetLevel(lvl)
}
