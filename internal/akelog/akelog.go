// Package akelog sets up the logrus logger shared by both AKE roles:
// stdout output, info level by default, debug level with full timestamps
// when requested.
package akelog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a configured logger. debug selects DebugLevel with a
// full-timestamp text formatter; otherwise InfoLevel with logrus defaults.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}
