package config

import "github.com/sirupsen/logrus"

// LoggerConfig is the configuration of logging.
type LoggerConfig struct {
	Level string `json:"level"`
	Color bool   `json:"color"`
}

// DefaultLoggerConfig returns the default configuration of logging.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level: "info",
		Color: true,
	}
}

// Validate implements the check.Validatable interface.
func (c LoggerConfig) Validate() []error {
	if _, err := logrus.ParseLevel(c.Level); err != nil {
		return []error{err}
	}
	return nil
}

// SetLogrus applies the config to the global logger.
func SetLogrus(c LoggerConfig) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		// Validate() already rejected anything unparseable.
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   c.Color,
	})
}
