package capi

import (
	"errors"
	"fmt"
)

// ErrorCode определяет типизированные коды ошибок движка управления вызовами.
// Позволяет классифицировать ошибки по категориям и обрабатывать их
// соответствующим образом через errors.Is.
type ErrorCode int

const (
	// Ошибки регистрации (фатальны для инициализации сессии)
	ErrorCodeNotInstalled ErrorCode = iota + 2000
	ErrorCodeNoControllers
	ErrorCodeRegisterRejected

	// Ошибки ёмкости и состояния
	ErrorCodeNoCapacity
	ErrorCodeUnsupportedSessionType
	ErrorCodeNotRinging
	ErrorCodeInvalidState
	ErrorCodeStaleConnection

	// Ошибки транспорта
	ErrorCodeTransportRejected
	ErrorCodeTransportFault
	ErrorCodeSessionClosed

	// Ошибки операций
	ErrorCodeInvalidNumber
	ErrorCodeFlowControl
	ErrorCodeAudioOpenFailed
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeNotInstalled:
		return "NotInstalled"
	case ErrorCodeNoControllers:
		return "NoControllers"
	case ErrorCodeRegisterRejected:
		return "RegisterRejected"
	case ErrorCodeNoCapacity:
		return "NoCapacity"
	case ErrorCodeUnsupportedSessionType:
		return "UnsupportedSessionType"
	case ErrorCodeNotRinging:
		return "NotRinging"
	case ErrorCodeInvalidState:
		return "InvalidState"
	case ErrorCodeStaleConnection:
		return "StaleConnection"
	case ErrorCodeTransportRejected:
		return "TransportRejected"
	case ErrorCodeTransportFault:
		return "TransportFault"
	case ErrorCodeSessionClosed:
		return "SessionClosed"
	case ErrorCodeInvalidNumber:
		return "InvalidNumber"
	case ErrorCodeFlowControl:
		return "FlowControl"
	case ErrorCodeAudioOpenFailed:
		return "AudioOpenFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error базовая структура ошибок движка.
// Предоставляет расширенную информацию об ошибке включая:
//   - Типизированный код ошибки
//   - Числовой код причины от контроллера (Info), если есть
//   - Идентификатор соединения для сопоставления с логами
//   - Возможность обертывания других ошибок
type Error struct {
	Code    ErrorCode
	Message string
	Info    uint16 // код причины контроллера, 0 если неприменим
	ConnID  uint32 // идентификатор соединения, 0 если неприменим
	Wrapped error
}

// Error реализует интерфейс error, возвращая форматированное сообщение.
func (e *Error) Error() string {
	switch {
	case e.ConnID != 0 && e.Info != 0:
		return fmt.Sprintf("[capi:%s] соединение %d: %s (info 0x%04x)", e.Code, e.ConnID, e.Message, e.Info)
	case e.ConnID != 0:
		return fmt.Sprintf("[capi:%s] соединение %d: %s", e.Code, e.ConnID, e.Message)
	case e.Info != 0:
		return fmt.Sprintf("[capi:%s] %s (info 0x%04x)", e.Code, e.Message, e.Info)
	default:
		return fmt.Sprintf("[capi:%s] %s", e.Code, e.Message)
	}
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// IsRegistration сообщает, относится ли ошибка к фатальному сбою регистрации.
func (e *Error) IsRegistration() bool {
	switch e.Code {
	case ErrorCodeNotInstalled, ErrorCodeNoControllers, ErrorCodeRegisterRejected:
		return true
	}
	return false
}

// Конструкторы для частых случаев

// ErrRegistration создает ошибку регистрации по причине транспорта.
func ErrRegistration(code ErrorCode, cause error) *Error {
	return &Error{
		Code:    code,
		Message: "регистрация в транспорте не удалась",
		Wrapped: cause,
	}
}

// ErrNoCapacity создает ошибку исчерпания пула соединений.
func ErrNoCapacity(capacity int) *Error {
	return &Error{
		Code:    ErrorCodeNoCapacity,
		Message: fmt.Sprintf("все %d слотов соединений заняты", capacity),
	}
}

// ErrUnsupportedSessionType создает ошибку неизвестного типа сессии.
func ErrUnsupportedSessionType(st SessionType) *Error {
	return &Error{
		Code:    ErrorCodeUnsupportedSessionType,
		Message: fmt.Sprintf("нет обработчика для типа сессии %s", st),
	}
}

// ErrNotRinging создает ошибку приема вызова вне состояния Ringing.
func ErrNotRinging(connID uint32, state State) *Error {
	return &Error{
		Code:    ErrorCodeNotRinging,
		Message: fmt.Sprintf("прием вызова возможен только в Ringing, текущее состояние %s", state),
		ConnID:  connID,
	}
}

// ErrInvalidState создает ошибку операции в недопустимом состоянии.
func ErrInvalidState(connID uint32, op string, state State) *Error {
	return &Error{
		Code:    ErrorCodeInvalidState,
		Message: fmt.Sprintf("операция %q недопустима в состоянии %s", op, state),
		ConnID:  connID,
	}
}

// ErrStaleConnection создает ошибку обращения по устаревшей ссылке на соединение.
func ErrStaleConnection(connID uint32) *Error {
	return &Error{
		Code:    ErrorCodeStaleConnection,
		Message: "слот соединения уже освобожден или переиспользован",
		ConnID:  connID,
	}
}

// ErrTransportRejected создает ошибку отклоненного транспортом запроса.
func ErrTransportRejected(connID uint32, info uint16, cause error) *Error {
	return &Error{
		Code:    ErrorCodeTransportRejected,
		Message: "контроллер отклонил запрос",
		Info:    info,
		ConnID:  connID,
		Wrapped: cause,
	}
}

// ErrTransportFault создает ошибку неисправности очереди транспорта.
func ErrTransportFault(cause error) *Error {
	return &Error{
		Code:    ErrorCodeTransportFault,
		Message: "неисправность очереди сообщений транспорта",
		Wrapped: cause,
	}
}

// ErrSessionClosed создает ошибку операции на закрытой сессии.
func ErrSessionClosed() *Error {
	return &Error{
		Code:    ErrorCodeSessionClosed,
		Message: "сессия не активна",
	}
}

// ErrInvalidNumber создает ошибку пустого или некорректного номера.
func ErrInvalidNumber(what string) *Error {
	return &Error{
		Code:    ErrorCodeInvalidNumber,
		Message: fmt.Sprintf("некорректный номер: %s", what),
	}
}

// ErrFlowControl создает ошибку переполнения окна неподтвержденных кадров.
func ErrFlowControl(connID uint32, outstanding, window int) *Error {
	return &Error{
		Code:    ErrorCodeFlowControl,
		Message: fmt.Sprintf("окно отправки заполнено: %d/%d кадров без подтверждения", outstanding, window),
		ConnID:  connID,
	}
}

// ErrAudioOpenFailed создает ошибку открытия аудиоустройства.
func ErrAudioOpenFailed(connID uint32, cause error) *Error {
	return &Error{
		Code:    ErrorCodeAudioOpenFailed,
		Message: "не удалось открыть аудиоустройство",
		ConnID:  connID,
		Wrapped: cause,
	}
}

// CodeOf извлекает код ошибки движка; 0 для посторонних ошибок.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
