package capi

import (
	"fmt"
	"time"

	ini "gopkg.in/ini.v1"
)

// Значения по умолчанию для развертывания.
const (
	// DefaultMaxConnections ёмкость таблицы соединений — максимум
	// одновременных вызовов, поддерживаемых контроллером
	DefaultMaxConnections = 16
	// DefaultMaxDataFrames окно неподтвержденных кадров на соединение
	DefaultMaxDataFrames = 7
	// DefaultMaxDataLen максимальный размер кадра данных B-канала
	DefaultMaxDataLen = 2048
	// DefaultPollTimeout таймаут ожидания сообщения в цикле диспетчеризации
	DefaultPollTimeout = time.Second
)

// Config конфигурация движка управления вызовами.
type Config struct {
	// Controller номер контроллера для подписки; 0 — все контроллеры
	Controller int

	// MaxConnections ёмкость таблицы соединений
	MaxConnections int
	// MaxDataFrames окно неподтвержденных кадров на соединение
	MaxDataFrames int
	// MaxDataLen максимальный размер кадра данных
	MaxDataLen int

	// PollTimeout таймаут опроса очереди транспорта
	PollTimeout time.Duration

	// EventQueueSize глубина очереди уведомлений приложения
	EventQueueSize int

	// Logging параметры журналирования
	Logging LogConfig
}

// LogConfig параметры журналирования (секция [logging]).
type LogConfig struct {
	// Level минимальный уровень: trace..error
	Level string
	// File путь к файлу журнала; пусто — только stderr
	File string
	// MaxSizeMB размер файла до ротации
	MaxSizeMB int
	// MaxBackups число хранимых ротированных файлов
	MaxBackups int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() *Config {
	return &Config{
		Controller:     1,
		MaxConnections: DefaultMaxConnections,
		MaxDataFrames:  DefaultMaxDataFrames,
		MaxDataLen:     DefaultMaxDataLen,
		PollTimeout:    DefaultPollTimeout,
		EventQueueSize: 64,
		Logging: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 1,
		},
	}
}

// LoadConfig читает конфигурацию из ini-файла и валидирует обязательные поля.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	return configFromINI(file)
}

// configFromINI собирает конфигурацию из разобранного ini-файла.
func configFromINI(file *ini.File) (*Config, error) {
	cfg := DefaultConfig()

	sec := file.Section("controller")
	cfg.Controller = sec.Key("index").MustInt(cfg.Controller)

	sec = file.Section("engine")
	cfg.MaxConnections = sec.Key("max_connections").MustInt(cfg.MaxConnections)
	cfg.MaxDataFrames = sec.Key("max_data_frames").MustInt(cfg.MaxDataFrames)
	cfg.MaxDataLen = sec.Key("max_data_len").MustInt(cfg.MaxDataLen)
	cfg.EventQueueSize = sec.Key("event_queue_size").MustInt(cfg.EventQueueSize)
	if ms := sec.Key("poll_timeout_ms").MustInt(0); ms > 0 {
		cfg.PollTimeout = time.Duration(ms) * time.Millisecond
	}

	sec = file.Section("logging")
	cfg.Logging.Level = sec.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = sec.Key("file").String()
	cfg.Logging.MaxSizeMB = sec.Key("max_size_mb").MustInt(cfg.Logging.MaxSizeMB)
	cfg.Logging.MaxBackups = sec.Key("max_backups").MustInt(cfg.Logging.MaxBackups)

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	if c.Controller < 0 {
		return fmt.Errorf("controller: номер контроллера не может быть отрицательным")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections: ёмкость таблицы должна быть положительной")
	}
	if c.MaxDataFrames <= 0 {
		return fmt.Errorf("max_data_frames: окно отправки должно быть положительным")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout: таймаут опроса должен быть положительным")
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("event_queue_size: глубина очереди должна быть положительной")
	}
	return nil
}
