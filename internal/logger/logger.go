package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents logger configuration
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json or text
	Output     string `yaml:"output" json:"output"` // stdout, stderr, file
	Filename   string `yaml:"filename" json:"filename"`
	MaxSize    int    `yaml:"max_size" json:"max_size"` // MB per file
	MaxAge     int    `yaml:"max_age" json:"max_age"`   // days
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// DefaultConfig is used when Init is never called
var DefaultConfig = Config{
	Level:      "info",
	Format:     "text",
	Output:     "stdout",
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 10,
}

var (
	std  *logrus.Logger
	once sync.Once
)

// Init configures the package logger. Safe to call once at startup;
// later calls replace the configuration.
func Init(cfg Config) {
	l := logrus.New()
	applyConfig(l, cfg)
	std = l
}

// L returns the package logger, initializing it with defaults if needed
func L() *logrus.Logger {
	once.Do(func() {
		if std == nil {
			l := logrus.New()
			applyConfig(l, DefaultConfig)
			std = l
		}
	})
	return std
}

func applyConfig(l *logrus.Logger, cfg Config) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(resolveOutput(cfg))
}

func resolveOutput(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
	default:
		return os.Stdout
	}
}

// WithField returns an entry with a single field attached
func WithField(key string, value interface{}) *logrus.Entry {
	return L().WithField(key, value)
}

// WithFields returns an entry with the given fields attached
func WithFields(fields logrus.Fields) *logrus.Entry {
	return L().WithFields(fields)
}
