package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger: JSON in production and staging, text elsewhere.
// An unknown level falls back to info with a warning.
func New(level, environment string) *logrus.Logger {
	return NewWithOutput(level, environment, os.Stdout)
}

func NewWithOutput(level, environment string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Invalid log level '%s', defaulting to 'info'. Error: %v", level, err)
	} else {
		log.SetLevel(parsed)
	}

	switch strings.ToLower(environment) {
	case "production", "staging":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00", // ISO8601
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	log.Debugf("Log level set to: %s, environment: %s", log.GetLevel(), environment)
	return log
}
