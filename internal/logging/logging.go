// Package logging configures the process-wide logrus logger the same way
// the CLI's root command always has: text formatter, timestamps, level
// switched by --quiet/--debug.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Options controls the process-wide logger setup.
type Options struct {
	Quiet bool
	Debug bool
	JSON  bool
}

// Configure applies opts to logrus's standard logger and returns it, so
// callers can pass the same instance into sigma.Config.Logger and
// consumer.Config.Logger.
func Configure(opts Options) *logrus.Logger {
	log := logrus.StandardLogger()
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			DisableColors: false,
			FullTimestamp: true,
		})
	}
	switch {
	case opts.Quiet:
		log.SetLevel(logrus.ErrorLevel)
	case opts.Debug:
		log.SetLevel(logrus.TraceLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
