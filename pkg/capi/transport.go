package capi

import (
	"errors"
	"fmt"
	"time"
)

// Command код команды сообщения CAPI 2.0.
type Command uint8

const (
	CmdAlert           Command = 0x01
	CmdConnect         Command = 0x02
	CmdConnectActive   Command = 0x03
	CmdDisconnect      Command = 0x04
	CmdListen          Command = 0x05
	CmdInfo            Command = 0x08
	CmdFacility        Command = 0x80
	CmdConnectB3       Command = 0x82
	CmdConnectB3Active Command = 0x83
	CmdDisconnectB3    Command = 0x84
	CmdDataB3          Command = 0x86
)

// String возвращает имя команды для логов
func (c Command) String() string {
	switch c {
	case CmdAlert:
		return "ALERT"
	case CmdConnect:
		return "CONNECT"
	case CmdConnectActive:
		return "CONNECT_ACTIVE"
	case CmdDisconnect:
		return "DISCONNECT"
	case CmdListen:
		return "LISTEN"
	case CmdInfo:
		return "INFO"
	case CmdFacility:
		return "FACILITY"
	case CmdConnectB3:
		return "CONNECT_B3"
	case CmdConnectB3Active:
		return "CONNECT_B3_ACTIVE"
	case CmdDisconnectB3:
		return "DISCONNECT_B3"
	case CmdDataB3:
		return "DATA_B3"
	default:
		return fmt.Sprintf("CMD_0x%02X", uint8(c))
	}
}

// Subcommand определяет направление сообщения: запрос, подтверждение,
// индикация или ответ.
type Subcommand uint8

const (
	SubcommandReq  Subcommand = 0x80
	SubcommandConf Subcommand = 0x81
	SubcommandInd  Subcommand = 0x82
	SubcommandResp Subcommand = 0x83
)

// String возвращает имя подкоманды для логов
func (s Subcommand) String() string {
	switch s {
	case SubcommandReq:
		return "REQ"
	case SubcommandConf:
		return "CONF"
	case SubcommandInd:
		return "IND"
	case SubcommandResp:
		return "RESP"
	default:
		return fmt.Sprintf("SUB_0x%02X", uint8(s))
	}
}

// Message одно декодированное сообщение фиксированного формата контроллера.
// Кодирование/декодирование wire-представления выполняет транспорт; движок
// оперирует только заполненными полями, состав которых зависит от команды.
type Message struct {
	Command    Command
	Subcommand Subcommand
	Number     uint16 // порядковый номер сообщения
	AppID      uint16

	// Адресация плеч вызова
	Controller uint8
	PLCI       uint32 // сигнальное плечо
	NCCI       uint32 // медиаканал (B-канал)

	// Результат для подтверждений (0 = успех)
	Info uint16

	// CONNECT: класс услуги и номера сторон (сырые информационные элементы)
	CIP           uint16
	CalledParty   []byte
	CallingParty  []byte
	BC, LLC, HLC  []byte
	B1Proto       uint16
	B2Proto       uint16
	B3Proto       uint16
	B1Cfg         []byte
	B2Cfg         []byte
	B3Cfg         []byte
	RejectReason  uint16 // CONNECT_RESP: 0 принять, 1 игнорировать, 3 отклонить
	ListenInfoMask, ListenCIPMask uint32

	// DATA_B3
	Data       []byte
	DataHandle uint16

	// FACILITY
	FacilitySelector uint16
	FacilityParams   []byte

	// INFO
	InfoNumber  uint16
	InfoElement []byte

	// CONNECT_B3_ACTIVE / DISCONNECT
	NCPI     []byte
	Reason   uint16
	ReasonB3 uint16
}

// PLCIOf выделяет сигнальное плечо из идентификатора медиаканала.
// Младшие 16 бит NCCI адресуют PLCI того же вызова.
func PLCIOf(ncci uint32) uint32 {
	return ncci & 0x0000ffff
}

// PollStatus результат ожидания сообщения в очереди транспорта.
type PollStatus int

const (
	// PollReady в очереди есть сообщение
	PollReady PollStatus = iota
	// PollEmpty таймаут ожидания истек, очередь пуста
	PollEmpty
	// PollError неустранимая ошибка опроса
	PollError
)

// Ошибки транспорта, значимые для движка.
var (
	// ErrQueueEmpty очередь пуста несмотря на сигнал готовности.
	// Для движка это признак рассинхронизации транспорта и повод
	// пересоздать регистрацию целиком.
	ErrQueueEmpty = errors.New("capi: receive queue empty")

	// ErrNotInstalled транспорт/драйвер не установлен
	ErrNotInstalled = errors.New("capi: transport not installed")
	// ErrNoControllers нет доступных контроллеров
	ErrNoControllers = errors.New("capi: no controllers available")
	// ErrRegisterRejected транспорт отклонил регистрацию
	ErrRegisterRejected = errors.New("capi: registration rejected")
)

// RegisterConfig параметры регистрации приложения в транспорте.
type RegisterConfig struct {
	// MaxConnections максимум одновременных логических соединений
	MaxConnections int
	// MaxDataFrames максимум кадров данных без подтверждения на соединение
	MaxDataFrames int
	// MaxDataLen максимальный размер кадра данных
	MaxDataLen int
}

// Transport низкоуровневый интерфейс обмена сообщениями с контроллером линии.
// Реализация отвечает за wire-кодирование; движок сериализует все обращения
// своим мьютексом, поэтому реализация может не быть потокобезопасной.
type Transport interface {
	// Register регистрирует приложение и возвращает его идентификатор.
	// Ошибки: ErrNotInstalled, ErrNoControllers, ErrRegisterRejected.
	Register(cfg RegisterConfig) (uint16, error)

	// Send отправляет запрос или ответ контроллеру.
	Send(msg *Message) error

	// WaitForMessage блокируется до появления сообщения, но не дольше timeout.
	WaitForMessage(appID uint16, timeout time.Duration) PollStatus

	// Receive забирает одно сообщение из очереди.
	// Возвращает ErrQueueEmpty, если очередь пуста вопреки WaitForMessage.
	Receive(appID uint16) (*Message, error)

	// Unregister снимает регистрацию приложения.
	Unregister(appID uint16) error
}
