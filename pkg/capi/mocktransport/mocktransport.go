// Package mocktransport программная реализация транспорта CAPI для тестов
// и демонстрации движка без аппаратного контроллера ISDN.
//
// Тест (или сценарий) управляет очередью извне: кладет индикации и
// подтверждения через Deliver, просматривает отправленные движком запросы
// через Sent и при желании отвечает на них автоматически через хук OnSend.
package mocktransport

import (
	"sync"
	"time"

	"github.com/arzzra/isdn_phone/pkg/capi"
)

// Transport программный транспорт: очередь входящих сообщений на приложение
// и журнал исходящих. Потокобезопасен.
type Transport struct {
	mu sync.Mutex

	nextAppID uint16
	queues    map[uint16][]*capi.Message
	sent      []*capi.Message

	registerErr error
	sendErr     error
	receiveErr  error
	pollFault   bool

	// OnSend хук автоответа: вызывается на каждый успешно принятый запрос,
	// возвращенные сообщения попадают в очередь приложения. Устанавливается
	// до открытия сессии.
	OnSend func(msg *capi.Message) []*capi.Message
}

// New создает пустой транспорт.
func New() *Transport {
	return &Transport{
		nextAppID: 1,
		queues:    map[uint16][]*capi.Message{},
	}
}

// Register выделяет идентификатор приложения и очередь сообщений.
func (t *Transport) Register(cfg capi.RegisterConfig) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.registerErr != nil {
		err := t.registerErr
		t.registerErr = nil
		return 0, err
	}

	appID := t.nextAppID
	t.nextAppID++
	t.queues[appID] = nil
	return appID, nil
}

// Unregister удаляет очередь приложения.
func (t *Transport) Unregister(appID uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.queues, appID)
	return nil
}

// Send принимает запрос или ответ движка: записывает его в журнал и
// выполняет хук автоответа.
func (t *Transport) Send(msg *capi.Message) error {
	t.mu.Lock()
	if t.sendErr != nil {
		err := t.sendErr
		t.sendErr = nil
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, msg)
	hook := t.OnSend
	t.mu.Unlock()

	if hook != nil {
		if replies := hook(msg); len(replies) > 0 {
			t.DeliverAll(msg.AppID, replies...)
		}
	}
	return nil
}

// WaitForMessage ожидает появления сообщения в очереди приложения не дольше
// timeout.
func (t *Transport) WaitForMessage(appID uint16, timeout time.Duration) capi.PollStatus {
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		if t.pollFault {
			t.pollFault = false
			t.mu.Unlock()
			return capi.PollError
		}
		ready := len(t.queues[appID]) > 0
		t.mu.Unlock()

		if ready {
			return capi.PollReady
		}
		if !time.Now().Before(deadline) {
			return capi.PollEmpty
		}
		time.Sleep(time.Millisecond)
	}
}

// Receive извлекает первое сообщение очереди приложения.
func (t *Transport) Receive(appID uint16) (*capi.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.receiveErr != nil {
		err := t.receiveErr
		t.receiveErr = nil
		return nil, err
	}

	q := t.queues[appID]
	if len(q) == 0 {
		return nil, capi.ErrQueueEmpty
	}
	msg := q[0]
	t.queues[appID] = q[1:]
	return msg, nil
}

// Deliver кладет одно сообщение в очередь приложения.
func (t *Transport) Deliver(appID uint16, msg *capi.Message) {
	t.DeliverAll(appID, msg)
}

// DeliverAll кладет сообщения в очередь приложения, сохраняя порядок.
func (t *Transport) DeliverAll(appID uint16, msgs ...*capi.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[appID] = append(t.queues[appID], msgs...)
}

// Sent возвращает копию журнала отправленных движком сообщений.
func (t *Transport) Sent() []*capi.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*capi.Message(nil), t.sent...)
}

// SentByCommand возвращает отправленные сообщения с заданными командой и
// подкомандой.
func (t *Transport) SentByCommand(cmd capi.Command, sub capi.Subcommand) []*capi.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*capi.Message
	for _, m := range t.sent {
		if m.Command == cmd && m.Subcommand == sub {
			out = append(out, m)
		}
	}
	return out
}

// LastSent возвращает последнее отправленное сообщение либо nil.
func (t *Transport) LastSent() *capi.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1]
}

// Reset очищает журнал отправленных сообщений.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// FailRegister назначает ошибку следующей регистрации.
func (t *Transport) FailRegister(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registerErr = err
}

// FailNextSend назначает ошибку следующей отправке.
func (t *Transport) FailNextSend(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// FailNextReceive назначает ошибку следующему приему.
func (t *Transport) FailNextReceive(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiveErr = err
}

// InjectPollFault заставляет следующий опрос очереди вернуть PollError.
func (t *Transport) InjectPollFault() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pollFault = true
}

// Registered сообщает, есть ли хотя бы одна живая регистрация.
func (t *Transport) Registered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues) > 0
}
