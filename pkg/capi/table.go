package capi

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// firstConnectionID начальное значение монотонного счетчика идентификаторов.
const firstConnectionID uint32 = 1024

// ConnectionTable пул соединений фиксированной ёмкости.
// Слот занят ровно одним вызовом; поиск линейный — ёмкость измеряется
// десятками, и это дешевле поддержания индексов.
//
// Все методы потокобезопасны: таблица достигается из цикла диспетчеризации
// и из потоков вызывающих операций.
type ConnectionTable struct {
	mu     sync.Mutex
	slots  []Connection
	nextID uint32
	log    *logrus.Entry
}

// NewConnectionTable создает таблицу на capacity слотов.
func NewConnectionTable(capacity int, log *logrus.Entry) *ConnectionTable {
	return &ConnectionTable{
		slots:  make([]Connection, capacity),
		nextID: firstConnectionID,
		log:    log,
	}
}

// Capacity возвращает число слотов таблицы.
func (t *ConnectionTable) Capacity() int {
	return len(t.slots)
}

// Allocate возвращает свободный слот, инициализированный в Idle, либо nil,
// если все слоты заняты. Отсутствие ёмкости не фатально — вызывающая сторона
// должна повторить позже или отклонить вызов.
func (t *ConnectionTable) Allocate() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		c := &t.slots[i]
		if c.plci == 0 && c.ncci == 0 && c.sessionType == SessionNone && c.id == 0 {
			c.id = t.nextID
			t.nextID++
			c.machine = newConnectionFSM()
			return c
		}
	}
	return nil
}

// Release освобождает слот: вызывает процедуру очистки типа сессии, если
// приватные данные установлены, и зануляет слот.
func (t *ConnectionTable) Release(c *Connection) {
	if c == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c.payload != nil {
		if c.handler != nil {
			c.handler.OnClean(c)
		} else {
			t.log.Warn("приватные данные без обработчика очистки")
		}
	}
	c.reset()
}

// ByID находит живое соединение по идентификатору. Защищает от устаревших
// ссылок: после освобождения слота прежний идентификатор не встретится снова.
func (t *ConnectionTable) ByID(id uint32) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == 0 {
		return nil
	}
	for i := range t.slots {
		if t.slots[i].id == id {
			return &t.slots[i]
		}
	}
	return nil
}

// BySignalingLeg находит соединение по идентификатору сигнального плеча.
func (t *ConnectionTable) BySignalingLeg(plci uint32) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if plci == 0 {
		return nil
	}
	for i := range t.slots {
		if t.slots[i].plci == plci {
			return &t.slots[i]
		}
	}
	return nil
}

// ByMediaChannel находит соединение по идентификатору медиаканала.
func (t *ConnectionTable) ByMediaChannel(ncci uint32) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ncci == 0 {
		return nil
	}
	for i := range t.slots {
		if t.slots[i].ncci == ncci {
			return &t.slots[i]
		}
	}
	return nil
}

// NewlyAllocated находит соединение, у которого назначен тип сессии, но еще
// не привязано сигнальное плечо: так подтверждение исходящего вызова
// сопоставляется с запросившим его соединением.
func (t *ConnectionTable) NewlyAllocated() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].plci == 0 && t.slots[i].sessionType != SessionNone {
			return &t.slots[i]
		}
	}
	return nil
}

// Allocated возвращает все выделенные слоты, включая исходящие вызовы,
// еще не получившие подтверждения размещения (плечи не привязаны, но
// идентификатор уже назначен).
func (t *ConnectionTable) Allocated() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Connection
	for i := range t.slots {
		if t.slots[i].id != 0 {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// Occupied возвращает все соединения с хотя бы одним привязанным плечом.
func (t *ConnectionTable) Occupied() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Connection
	for i := range t.slots {
		if t.slots[i].occupied() {
			out = append(out, &t.slots[i])
		}
	}
	return out
}

// ActiveCount возвращает число занятых слотов.
func (t *ConnectionTable) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].occupied() {
			n++
		}
	}
	return n
}
