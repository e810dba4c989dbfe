// Package logging configures the process-wide logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup applies the configured log level and installs the standard
// text formatter. The RESOLVD_LOG_LEVEL environment variable overrides
// the configured level; an unparsable level falls back to info.
func Setup(level string) {
	if env := os.Getenv("RESOLVD_LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
