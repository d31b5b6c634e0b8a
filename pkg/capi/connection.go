package capi

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// SessionType тип сессии соединения: определяет обработчик данных B-канала
// и процедуру очистки при освобождении.
type SessionType int

const (
	// SessionNone тип еще не назначен (входящий вызов до приема)
	SessionNone SessionType = iota
	// SessionPhone телефонный разговор через аудиоустройство
	SessionPhone
	// SessionFax факсовая сессия
	SessionFax
)

// String возвращает строковое представление типа сессии
func (st SessionType) String() string {
	switch st {
	case SessionNone:
		return "none"
	case SessionPhone:
		return "phone"
	case SessionFax:
		return "fax"
	default:
		return "unknown"
	}
}

// Направление/признаки вызова.
type ConnectionFlags uint8

const (
	// FlagOutgoing исходящий вызов
	FlagOutgoing ConnectionFlags = 1 << iota
	// FlagIncoming входящий вызов
	FlagIncoming
	// FlagSoftphone вызов порожден программным телефоном
	FlagSoftphone
)

// Handler обработчик типа сессии. Набор реализаций закрыт (phone, fax),
// выбор происходит при назначении типа соединению.
type Handler interface {
	// OnInit вызывается при активации медиаканала. Ошибка приводит к
	// немедленному разрыву этого вызова.
	OnInit(conn *Connection) error
	// OnData вызывается на каждый принятый кадр медиаданных.
	OnData(conn *Connection, frame []byte)
	// OnCode вызывается на каждый декодированный тоновый символ.
	OnCode(conn *Connection, code byte)
	// OnClean освобождает приватные данные соединения.
	OnClean(conn *Connection)
	// EarlyMedia сообщает, запрашивать ли медиаканал до ответа удаленной
	// стороны (проигрывание тонов прохождения вызова).
	EarlyMedia() bool
}

// События конечного автомата соединения.
const (
	eventDial        = "dial"        // Idle -> ConnectWait
	eventOffer       = "offer"       // Idle -> Ringing
	eventPickup      = "pickup"      // Ringing -> IncomingWait
	eventProceed     = "proceed"     // ConnectWait/IncomingWait/Connected -> ConnectActive
	eventChannelUp   = "channelUp"   // ConnectActive -> ConnectB3Wait
	eventEstablished = "established" // ConnectB3Wait -> Connected
	eventDropChannel = "dropChannel" // Connected/ConnectB3Wait -> DisconnectB3Req
	eventChannelDown = "channelDown" // DisconnectB3Req -> DisconnectB3Wait
	eventDrop        = "drop"        // активный разрыв -> DisconnectActive
	eventClear       = "clear"       // любое -> Idle
)

// Connection одна попытка вызова (плечо) в таблице соединений.
// Поля мутируются циклом диспетчеризации и операциями управления вызовом;
// синхронизацию обеспечивает мьютекс таблицы.
type Connection struct {
	id uint32 // монотонный идентификатор, уникален среди живых соединений

	plci uint32 // сигнальное плечо, 0 = не привязано
	ncci uint32 // медиаканал, 0 = не привязан

	sessionType SessionType
	handler     Handler
	flags       ConnectionFlags

	source string
	target string

	connectTime time.Time

	// payload приватные данные типа сессии (аудиодескриптор, состояние
	// факсового автомата); владеет исключительно это соединение
	payload any

	reason   uint16 // причина разрыва сигнального плеча
	reasonB3 uint16 // причина разрыва медиаканала

	ncpi []byte // параметры протокола, сообщенные при активации B-канала

	outstanding int // отправленные и не подтвержденные кадры
	dataHandle  uint16

	// indNumber номер сообщения индикации CONNECT; ответ на предложение
	// вызова обязан нести тот же номер
	indNumber uint16

	machine *fsm.FSM
}

// newConnectionFSM создает конечный автомат жизненного цикла вызова.
// Переход clear допустим из любого состояния: индикация разрыва сигнального
// плеча может прийти в любой момент.
func newConnectionFSM() *fsm.FSM {
	all := []string{
		StateIdle.String(), StateRinging.String(), StateConnectWait.String(),
		StateIncomingWait.String(), StateConnectActive.String(), StateConnectB3Wait.String(),
		StateConnected.String(), StateDisconnectB3Req.String(), StateDisconnectB3Wait.String(),
		StateDisconnectActive.String(),
	}
	return fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: eventDial, Src: []string{StateIdle.String()}, Dst: StateConnectWait.String()},
			{Name: eventOffer, Src: []string{StateIdle.String()}, Dst: StateRinging.String()},
			{Name: eventPickup, Src: []string{StateRinging.String()}, Dst: StateIncomingWait.String()},
			{Name: eventProceed, Src: []string{
				StateConnectWait.String(), StateIncomingWait.String(), StateConnected.String(),
			}, Dst: StateConnectActive.String()},
			{Name: eventChannelUp, Src: []string{StateConnectActive.String()}, Dst: StateConnectB3Wait.String()},
			{Name: eventEstablished, Src: []string{StateConnectB3Wait.String()}, Dst: StateConnected.String()},
			{Name: eventDropChannel, Src: []string{
				StateConnected.String(), StateConnectB3Wait.String(),
			}, Dst: StateDisconnectB3Req.String()},
			{Name: eventChannelDown, Src: []string{StateDisconnectB3Req.String()}, Dst: StateDisconnectB3Wait.String()},
			{Name: eventDrop, Src: []string{
				StateConnectWait.String(), StateIncomingWait.String(), StateConnectActive.String(),
				StateConnectB3Wait.String(), StateConnected.String(), StateDisconnectB3Req.String(),
				StateDisconnectB3Wait.String(),
			}, Dst: StateDisconnectActive.String()},
			{Name: eventClear, Src: all, Dst: StateIdle.String()},
		},
		fsm.Callbacks{},
	)
}

// fire выполняет событие автомата; недопустимое событие оставляет состояние
// неизменным и возвращает ошибку fsm.
func (c *Connection) fire(event string) error {
	return c.machine.Event(context.Background(), event)
}

// State возвращает текущее состояние соединения. Для снимка соединения,
// доставленного в уведомлении, всегда Idle.
func (c *Connection) State() State {
	if c.machine == nil {
		return StateIdle
	}
	return stateFromString(c.machine.Current())
}

// stateFromString обратное преобразование имени состояния автомата.
func stateFromString(name string) State {
	for s := StateIdle; s <= StateDisconnectActive; s++ {
		if s.String() == name {
			return s
		}
	}
	return StateIdle
}

// ID возвращает идентификатор соединения.
func (c *Connection) ID() uint32 { return c.id }

// SignalingLeg возвращает идентификатор сигнального плеча (PLCI).
func (c *Connection) SignalingLeg() uint32 { return c.plci }

// MediaChannel возвращает идентификатор медиаканала (NCCI).
func (c *Connection) MediaChannel() uint32 { return c.ncci }

// Type возвращает тип сессии.
func (c *Connection) Type() SessionType { return c.sessionType }

// Flags возвращает признаки вызова.
func (c *Connection) Flags() ConnectionFlags { return c.flags }

// Source возвращает номер вызывающей стороны.
func (c *Connection) Source() string { return c.source }

// Target возвращает номер вызываемой стороны.
func (c *Connection) Target() string { return c.target }

// ConnectTime возвращает момент активации медиаканала.
func (c *Connection) ConnectTime() time.Time { return c.connectTime }

// DisconnectReason возвращает последний код причины разрыва сигнального плеча.
func (c *Connection) DisconnectReason() uint16 { return c.reason }

// DisconnectReasonB3 возвращает последний код причины разрыва медиаканала.
func (c *Connection) DisconnectReasonB3() uint16 { return c.reasonB3 }

// Payload возвращает приватные данные типа сессии.
func (c *Connection) Payload() any { return c.payload }

// SetPayload сохраняет приватные данные типа сессии.
func (c *Connection) SetPayload(p any) { c.payload = p }

// occupied сообщает, занят ли слот: живое соединение держит хотя бы одно
// привязанное плечо.
func (c *Connection) occupied() bool {
	return c.plci != 0 || c.ncci != 0
}

// setType назначает тип сессии и подбирает обработчик из реестра.
func (c *Connection) setType(st SessionType, handlers map[SessionType]Handler) error {
	h, ok := handlers[st]
	if !ok || st == SessionNone {
		return ErrUnsupportedSessionType(st)
	}
	c.sessionType = st
	c.handler = h
	return nil
}

// reset зануляет слот. Очистка приватных данных должна быть выполнена до
// вызова (см. ConnectionTable.Release).
func (c *Connection) reset() {
	*c = Connection{}
}
