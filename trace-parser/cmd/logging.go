package cmd

import (
	"github.com/sirupsen/logrus"
)

// logLevel maps the number of -v flags to a log level. Errors are always
// shown.
func logLevel(verbosity int) logrus.Level {
	switch {
	case verbosity >= 4:
		return logrus.DebugLevel
	case verbosity == 3:
		return logrus.InfoLevel
	case verbosity == 2:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

func setupLogging(verbosity int) {
	logrus.SetLevel(logLevel(verbosity))
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}
