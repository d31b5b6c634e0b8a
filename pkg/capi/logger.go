package capi

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger создает логгер движка по конфигурации журналирования.
// Вывод идет на stderr и, если задан файл, в него же с ротацией.
// Компоненты движка получают дочерние entry через WithField("component", ...).
func NewLogger(cfg LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	} else {
		log.SetOutput(os.Stderr)
	}

	return log
}

// componentLogger возвращает дочерний entry для компонента движка.
func componentLogger(log *logrus.Logger, component string) *logrus.Entry {
	if log == nil {
		log = NewLogger(DefaultConfig().Logging)
	}
	return log.WithField("component", component)
}
