package capi

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventHandler приемник уведомлений о жизненном цикле вызовов.
// Все методы вызываются из выделенной горутины доставки, никогда из цикла
// диспетчеризации: обработчик может свободно обращаться к операциям движка.
type EventHandler interface {
	// OnRinging входящий или исходящий вызов получил сигнал вызова
	OnRinging(conn *Connection)
	// OnConnected медиаканал активен, разговор/передача начались
	OnConnected(conn *Connection)
	// OnDisconnected вызов завершен; соединение уже освобождено,
	// допустимо читать только снимок полей
	OnDisconnected(conn *Connection)
	// OnStatus контроллер сообщил числовой код состояния/ошибки по вызову
	OnStatus(code uint16, conn *Connection)
	// OnMessage текстовое уведомление для пользователя
	OnMessage(title, body string)
}

// NopEventHandler пустая реализация EventHandler.
type NopEventHandler struct{}

func (NopEventHandler) OnRinging(*Connection)         {}
func (NopEventHandler) OnConnected(*Connection)       {}
func (NopEventHandler) OnDisconnected(*Connection)    {}
func (NopEventHandler) OnStatus(uint16, *Connection)  {}
func (NopEventHandler) OnMessage(string, string)      {}

// eventQueue маршалирует уведомления из цикла диспетчеризации в контекст
// обработки событий приложения через буферизованный канал.
type eventQueue struct {
	ch      chan func(EventHandler)
	handler EventHandler
	log     *logrus.Entry

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// newEventQueue создает очередь уведомлений заданной глубины.
func newEventQueue(size int, handler EventHandler, log *logrus.Entry) *eventQueue {
	if handler == nil {
		handler = NopEventHandler{}
	}
	return &eventQueue{
		ch:      make(chan func(EventHandler), size),
		handler: handler,
		log:     log,
	}
}

// start запускает горутину доставки.
func (q *eventQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.started = true

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case fn := <-q.ch:
				fn(q.handler)
			case <-ctx.Done():
				// дренируем остаток, чтобы не потерять уведомления о разрыве
				for {
					select {
					case fn := <-q.ch:
						fn(q.handler)
					default:
						return
					}
				}
			}
		}
	}()
}

// stop останавливает доставку, дождавшись опустошения очереди.
func (q *eventQueue) stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

// post ставит уведомление в очередь. Переполнение очереди роняет событие
// с предупреждением: цикл диспетчеризации блокировать нельзя.
func (q *eventQueue) post(fn func(EventHandler)) {
	select {
	case q.ch <- fn:
	default:
		q.log.Warn("очередь уведомлений переполнена, событие отброшено")
	}
}

// snapshotConn копирует поля соединения для безопасной доставки после
// освобождения слота.
func snapshotConn(c *Connection) *Connection {
	if c == nil {
		return nil
	}
	copied := *c
	copied.machine = nil
	copied.payload = nil
	return &copied
}

// postRinging уведомляет о сигнале вызова.
func (q *eventQueue) postRinging(c *Connection) {
	snap := snapshotConn(c)
	q.post(func(h EventHandler) { h.OnRinging(snap) })
}

// postConnected уведомляет об установлении вызова.
func (q *eventQueue) postConnected(c *Connection) {
	snap := snapshotConn(c)
	q.post(func(h EventHandler) { h.OnConnected(snap) })
}

// postDisconnected уведомляет о завершении вызова.
func (q *eventQueue) postDisconnected(c *Connection) {
	snap := snapshotConn(c)
	q.post(func(h EventHandler) { h.OnDisconnected(snap) })
}

// postStatus уведомляет о коде состояния от контроллера.
func (q *eventQueue) postStatus(code uint16, c *Connection) {
	snap := snapshotConn(c)
	q.post(func(h EventHandler) { h.OnStatus(code, snap) })
}

// postMessage уведомляет о текстовом сообщении для пользователя.
func (q *eventQueue) postMessage(title, body string) {
	q.post(func(h EventHandler) { h.OnMessage(title, body) })
}
