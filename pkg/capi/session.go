package capi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Options зависимости сессии, подставляемые приложением.
type Options struct {
	// Logger базовый логгер; nil — логгер по конфигурации движка
	Logger *logrus.Logger
	// Events приемник уведомлений приложения; nil — уведомления отбрасываются
	Events EventHandler
	// Handlers реестр обработчиков типов сессий (phone, fax)
	Handlers map[SessionType]Handler
	// Metrics сборщик метрик; nil — метрики не собираются
	Metrics *Metrics
}

// Session процессный дескриптор движка: регистрация в транспорте, таблица
// соединений, счетчик номеров сообщений и мьютекс, сериализующий весь доступ
// к транспорту.
//
// К транспорту обращаются два контекста исполнения: цикл диспетчеризации и
// потоки операций управления вызовом. Операции держат мьютекс только на время
// отправки одного запроса и никогда — в ожидании ответа: подтверждения
// приходят асинхронно через цикл диспетчеризации.
type Session struct {
	cfg       *Config
	transport Transport
	handlers  map[SessionType]Handler
	events    *eventQueue
	metrics   *Metrics

	logger *logrus.Logger
	log    *logrus.Entry

	table *ConnectionTable

	mu     sync.Mutex // сериализует транспорт и счетчик сообщений
	applID uint16
	msgNo  uint16

	// stateMu исключает одновременное продвижение состояния соединений
	// из цикла диспетчеризации и из потоков операций. Порядок захвата
	// всегда stateMu -> mu.
	stateMu sync.Mutex

	active atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession создает сессию движка. Сессия неактивна до вызова Open.
func NewSession(cfg *Config, transport Transport, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg.Logging)
	}
	log := componentLogger(logger, "capi")

	s := &Session{
		cfg:       cfg,
		transport: transport,
		handlers:  opts.Handlers,
		metrics:   opts.Metrics,
		logger:    logger,
		log:       log,
		table:     NewConnectionTable(cfg.MaxConnections, componentLogger(logger, "table")),
		events:    newEventQueue(cfg.EventQueueSize, opts.Events, componentLogger(logger, "events")),
	}
	if s.handlers == nil {
		s.handlers = map[SessionType]Handler{}
	}
	return s, nil
}

// Table возвращает таблицу соединений.
func (s *Session) Table() *ConnectionTable { return s.table }

// Active сообщает, открыта ли сессия.
func (s *Session) Active() bool { return s.active.Load() }

// Open регистрирует приложение в транспорте, подписывается на индикации
// контроллера и запускает цикл диспетчеризации вместе с доставкой событий.
func (s *Session) Open() error {
	if s.active.Load() {
		return nil
	}

	s.mu.Lock()
	err := s.registerLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.active.Store(true)
	s.events.start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	s.log.WithField("appl_id", s.applID).Info("сессия открыта")
	return nil
}

// registerLocked выполняет регистрацию и подписку. Вызывается под s.mu.
func (s *Session) registerLocked() error {
	applID, err := s.transport.Register(RegisterConfig{
		MaxConnections: s.cfg.MaxConnections,
		MaxDataFrames:  s.cfg.MaxDataFrames,
		MaxDataLen:     s.cfg.MaxDataLen,
	})
	if err != nil {
		code := ErrorCodeRegisterRejected
		switch {
		case errors.Is(err, ErrNotInstalled):
			code = ErrorCodeNotInstalled
		case errors.Is(err, ErrNoControllers):
			code = ErrorCodeNoControllers
		}
		s.metrics.Error(code)
		return ErrRegistration(code, err)
	}
	s.applID = applID

	listen := buildListenReq(applID, s.cfg.Controller)
	listen.Number = s.nextNumberLocked()
	if err := s.transport.Send(listen); err != nil {
		_ = s.transport.Unregister(applID)
		s.applID = 0
		s.metrics.Error(ErrorCodeRegisterRejected)
		return ErrRegistration(ErrorCodeRegisterRejected, err)
	}
	s.metrics.Message(CmdListen, SubcommandReq)

	s.log.WithFields(logrus.Fields{
		"appl_id":    applID,
		"controller": s.cfg.Controller,
	}).Debug("регистрация и подписка выполнены")
	return nil
}

// Close завершает все вызовы, снимает регистрацию и останавливает цикл
// диспетчеризации. Повторный вызов безопасен. При force запросы разрыва
// отправляются без пауз на их обработку контроллером.
func (s *Session) Close(force bool) error {
	if !s.active.Swap(false) {
		return nil
	}

	for _, conn := range s.table.Occupied() {
		s.stateMu.Lock()
		err := s.hangUp(conn)
		s.stateMu.Unlock()
		if err != nil {
			s.log.WithError(err).WithField("conn", conn.ID()).Debug("разрыв при закрытии не удался")
		}
		if !force {
			time.Sleep(25 * time.Millisecond)
		}
	}

	s.mu.Lock()
	if s.applID != 0 {
		if err := s.transport.Unregister(s.applID); err != nil {
			s.log.WithError(err).Warn("снятие регистрации не удалось")
		}
		s.applID = 0
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	// индикации разрыва больше не придут: освобождаем оставшиеся слоты сами,
	// включая размещения без подтверждения
	s.stateMu.Lock()
	for _, conn := range s.table.Allocated() {
		s.events.postDisconnected(conn)
		s.table.Release(conn)
	}
	s.stateMu.Unlock()

	s.events.stop()

	s.log.Info("сессия закрыта")
	return nil
}

// nextNumberLocked возвращает следующий номер сообщения. Вызывается под s.mu:
// счетчик строго возрастает для всех исходящих запросов любого источника.
func (s *Session) nextNumberLocked() uint16 {
	s.msgNo++
	return s.msgNo
}

// send отправляет один запрос или ответ под мьютексом транспорта.
func (s *Session) send(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(msg)
}

// sendLocked отправляет сообщение; вызывается под s.mu.
func (s *Session) sendLocked(msg *Message) error {
	if s.applID == 0 {
		return ErrSessionClosed()
	}
	msg.AppID = s.applID
	if msg.Number == 0 {
		msg.Number = s.nextNumberLocked()
	}
	if err := s.transport.Send(msg); err != nil {
		return err
	}
	s.metrics.Message(msg.Command, msg.Subcommand)
	return nil
}

// resolve проверяет, что ссылка на соединение не устарела: после
// восстановления сессии или освобождения слота прежние ссылки недействительны.
func (s *Session) resolve(conn *Connection) (*Connection, error) {
	if conn == nil {
		return nil, ErrStaleConnection(0)
	}
	live := s.table.ByID(conn.id)
	if live == nil {
		return nil, ErrStaleConnection(conn.id)
	}
	return live, nil
}

// recover пересоздает регистрацию после неисправности очереди транспорта.
// Выполняется из цикла диспетчеризации без удерживаемых мьютексов и
// захватывает stateMu перед мьютексом транспорта, соблюдая общий порядок:
// незавершенная операция вызова не может пересечься с пересозданием.
// Живые вызовы при этом теряются — освобождаются все выделенные слоты,
// включая размещения, еще не получившие подтверждения, с уведомлением
// приложения: ответы старой регистрации уже не придут.
func (s *Session) recover() {
	s.metrics.Recovery()
	s.log.Warn("неисправность транспорта, пересоздание регистрации")

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conn := range s.table.Allocated() {
		if conn.plci != 0 {
			drop := buildDisconnectReq(s.applID, conn.plci)
			drop.Number = s.nextNumberLocked()
			if err := s.transport.Send(drop); err != nil {
				s.log.WithError(err).WithField("conn", conn.ID()).Debug("разрыв при восстановлении не доставлен")
			}
		}
		s.events.postDisconnected(conn)
		s.table.Release(conn)
	}
	s.metrics.ConnectionsActive(0)

	if s.applID != 0 {
		if err := s.transport.Unregister(s.applID); err != nil {
			s.log.WithError(err).Debug("снятие старой регистрации не удалось")
		}
		s.applID = 0
	}

	if err := s.registerLocked(); err != nil {
		s.log.WithError(err).Error("повторная регистрация не удалась")
	}
}
