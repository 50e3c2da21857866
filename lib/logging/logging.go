// Package logging builds the logrus loggers used by the services.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a text logger writing to stderr at the given level. Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		l.WithField("level", level).Warn("Unknown log level, using info")

		lvl = logrus.InfoLevel
	}

	l.SetLevel(lvl)

	return l
}
