package capi

import "fmt"

// State представляет состояние соединения в жизненном цикле вызова.
// Последовательность состояний кодирует допустимый порядок сигнализации и
// установления/разрыва B-канала.
type State int

const (
	// StateIdle свободный слот либо завершенный вызов
	StateIdle State = iota
	// StateRinging входящий вызов, ожидает решения приложения
	StateRinging
	// StateConnectWait исходящий вызов, ожидает CONNECT_ACTIVE_IND
	StateConnectWait
	// StateIncomingWait вызов принят, ожидает CONNECT_ACTIVE_IND
	StateIncomingWait
	// StateConnectActive сигнальное плечо активно, запрошен B-канал
	StateConnectActive
	// StateConnectB3Wait B-канал привязан, ожидает CONNECT_B3_ACTIVE_IND
	StateConnectB3Wait
	// StateConnected медиаканал активен, идет передача данных
	StateConnected
	// StateDisconnectB3Req отправлен DISCONNECT_B3_REQ
	StateDisconnectB3Req
	// StateDisconnectB3Wait ожидает завершения разрыва B-канала
	StateDisconnectB3Wait
	// StateDisconnectActive ожидает DISCONNECT_IND
	StateDisconnectActive
)

// String возвращает строковое представление состояния
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRinging:
		return "Ringing"
	case StateConnectWait:
		return "ConnectWait"
	case StateIncomingWait:
		return "IncomingWait"
	case StateConnectActive:
		return "ConnectActive"
	case StateConnectB3Wait:
		return "ConnectB3Wait"
	case StateConnected:
		return "Connected"
	case StateDisconnectB3Req:
		return "DisconnectB3Req"
	case StateDisconnectB3Wait:
		return "DisconnectB3Wait"
	case StateDisconnectActive:
		return "DisconnectActive"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal сообщает, является ли состояние терминальным.
// Из Idle слот может быть освобожден и переиспользован.
func (s State) IsTerminal() bool {
	return s == StateIdle
}

// HasMediaChannel сообщает, допустим ли в этом состоянии привязанный NCCI.
func (s State) HasMediaChannel() bool {
	switch s {
	case StateConnectB3Wait, StateConnected, StateDisconnectB3Req, StateDisconnectB3Wait:
		return true
	}
	return false
}

// validTransitions определяет матрицу допустимых переходов между состояниями.
// Переход в Idle допустим из любого состояния: DISCONNECT_IND может прийти в
// любой момент жизни вызова.
var validTransitions = map[State][]State{
	StateIdle:             {StateConnectWait, StateRinging},
	StateRinging:          {StateIncomingWait, StateIdle},
	StateConnectWait:      {StateConnectActive, StateDisconnectActive, StateIdle},
	StateIncomingWait:     {StateConnectActive, StateDisconnectActive, StateIdle},
	StateConnectActive:    {StateConnectB3Wait, StateDisconnectActive, StateIdle},
	StateConnectB3Wait:    {StateConnected, StateDisconnectB3Req, StateDisconnectActive, StateIdle},
	StateConnected:        {StateDisconnectB3Req, StateDisconnectActive, StateConnectActive, StateIdle},
	StateDisconnectB3Req:  {StateDisconnectB3Wait, StateDisconnectActive, StateIdle},
	StateDisconnectB3Wait: {StateDisconnectActive, StateIdle},
	StateDisconnectActive: {StateIdle},
}

// CanTransitionTo проверяет, допустим ли переход из текущего состояния.
func (s State) CanTransitionTo(next State) bool {
	if s == next {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
