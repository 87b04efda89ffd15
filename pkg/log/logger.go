package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger: timestamped text output, debug level when verbose
func NewLogger(verbose bool, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// Discard returns an entry that drops everything, for tests and library callers without logging
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
