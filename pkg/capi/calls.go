package capi

import (
	"github.com/sirupsen/logrus"
)

// CallParams параметры исходящего вызова.
type CallParams struct {
	// Type тип сессии (phone, fax); определяет обработчик медиаданных
	Type SessionType
	// Source собственный номер (calling party)
	Source string
	// Target вызываемый номер (called party)
	Target string
	// Anonymous подавить передачу собственного номера удаленной стороне
	Anonymous bool
	// CIP класс услуги; 0 — подобрать по типу сессии
	CIP uint16
	// Protocol параметры протоколов B-канала; nil — транспарентный канал
	Protocol *MediaProtocol
}

// defaultCIP возвращает класс услуги по типу сессии.
func defaultCIP(st SessionType) uint16 {
	if st == SessionFax {
		return cipTelephony3k
	}
	return cipTelephony
}

// defaultProtocol транспарентный B-канал: 64 кбит/с без протокольной обвязки.
func defaultProtocol() MediaProtocol {
	return MediaProtocol{B1: 1, B2: 1, B3: 0}
}

// PlaceCall начинает исходящий вызов: занимает слот, назначает тип сессии и
// отправляет запрос установления соединения. Слот остается в Idle до
// подтверждения от контроллера — привязку сигнального плеча и переход в
// ConnectWait выполняет цикл диспетчеризации.
//
// При отказе транспорта слот освобождается немедленно и ссылка на соединение
// не возвращается.
func (s *Session) PlaceCall(p CallParams) (*Connection, error) {
	if !s.active.Load() {
		return nil, ErrSessionClosed()
	}
	if p.Target == "" {
		return nil, ErrInvalidNumber("target")
	}
	if p.Source == "" {
		return nil, ErrInvalidNumber("source")
	}

	cip := p.CIP
	if cip == 0 {
		cip = defaultCIP(p.Type)
	}
	proto := defaultProtocol()
	if p.Protocol != nil {
		proto = *p.Protocol
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	conn := s.table.Allocate()
	if conn == nil {
		s.metrics.Error(ErrorCodeNoCapacity)
		return nil, ErrNoCapacity(s.cfg.MaxConnections)
	}
	if err := conn.setType(p.Type, s.handlers); err != nil {
		s.table.Release(conn)
		return nil, err
	}
	conn.flags = FlagOutgoing | FlagSoftphone
	conn.source = p.Source
	conn.target = p.Target

	log := s.log.WithFields(logrus.Fields{
		"conn":   conn.ID(),
		"target": p.Target,
		"type":   p.Type.String(),
	})
	log.Debug("REQ: CONNECT")

	if err := s.send(buildConnectReq(0, s.cfg.Controller, cip, p.Source, p.Target, p.Anonymous, proto)); err != nil {
		id := conn.ID()
		s.table.Release(conn)
		s.metrics.Error(ErrorCodeTransportRejected)
		return nil, ErrTransportRejected(id, 0, err)
	}

	s.metrics.CallStarted(true)
	s.metrics.ConnectionsActive(s.table.ActiveCount())
	return conn, nil
}

// AcceptCall принимает предложенный входящий вызов. Допустим только из
// Ringing; тип сессии назначается в момент приема — до этого вызов ничей.
func (s *Session) AcceptCall(conn *Connection, st SessionType) error {
	if !s.active.Load() {
		return ErrSessionClosed()
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	conn, err := s.resolve(conn)
	if err != nil {
		return err
	}
	if conn.State() != StateRinging {
		return ErrNotRinging(conn.ID(), conn.State())
	}
	if err := conn.setType(st, s.handlers); err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"conn": conn.ID(), "type": st.String()})
	log.Debug("RESP: CONNECT - прием вызова")

	if err := s.send(buildConnectResp(0, conn.indNumber, conn.plci, connectAccept)); err != nil {
		s.metrics.Error(ErrorCodeTransportRejected)
		return ErrTransportRejected(conn.ID(), 0, err)
	}
	if err := conn.fire(eventPickup); err != nil {
		log.WithError(err).Error("переход в IncomingWait невозможен")
	}
	return nil
}

// HangUp завершает вызов. Для уже освобожденной ссылки и соединения в Idle
// операция ничего не делает.
func (s *Session) HangUp(conn *Connection) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	live, err := s.resolve(conn)
	if err != nil {
		// слот уже освобожден индикацией разрыва
		return nil
	}
	return s.hangUp(live)
}

// hangUp инициирует разрыв в зависимости от текущего состояния. Вызывается
// под stateMu — как операциями, так и обработчиками индикаций.
//
// Порядок разборки зеркален порядку установления: при активном медиаканале
// сначала разрывается он, сигнальное плечо — по индикации DISCONNECT_B3;
// без медиаканала сразу разрывается сигнальное плечо. Слот освобождает
// индикация DISCONNECT, здесь он только переводится к разборке.
func (s *Session) hangUp(conn *Connection) error {
	log := s.log.WithFields(logrus.Fields{"conn": conn.ID(), "state": conn.State().String()})

	switch conn.State() {
	case StateIdle:
		return nil

	case StateRinging:
		// вызов еще не принят: отклоняем предложение, слот освободит
		// последующая индикация разрыва
		log.Debug("RESP: CONNECT - отклонение вызова")
		if err := s.send(buildConnectResp(0, conn.indNumber, conn.plci, connectReject)); err != nil {
			return s.abortHangUp(conn, err, log)
		}
		if err := conn.fire(eventClear); err != nil {
			log.WithError(err).Error("переход в Idle невозможен")
		}
		return nil

	case StateConnected, StateConnectB3Wait:
		log.Debug("REQ: DISCONNECT_B3")
		if err := s.send(buildDisconnectB3Req(0, conn.ncci)); err != nil {
			// медиаканал разорвать не удалось: рвем сигнальное плечо
			log.WithError(err).Warn("запрос разрыва медиаканала не доставлен")
			if err := s.send(buildDisconnectReq(0, conn.plci)); err != nil {
				return s.abortHangUp(conn, err, log)
			}
			if err := conn.fire(eventDrop); err != nil {
				log.WithError(err).Error("переход в DisconnectActive невозможен")
			}
			return nil
		}
		if err := conn.fire(eventDropChannel); err != nil {
			log.WithError(err).Error("переход в DisconnectB3Req невозможен")
		}
		return nil

	default:
		// ConnectWait, IncomingWait, ConnectActive, DisconnectB3Req,
		// DisconnectB3Wait, DisconnectActive: рвем сигнальное плечо
		log.Debug("REQ: DISCONNECT")
		if conn.plci == 0 {
			// исходящий вызов до подтверждения: плечо не привязано,
			// разрывать нечего
			s.releaseCleared(conn, log)
			return nil
		}
		if err := s.send(buildDisconnectReq(0, conn.plci)); err != nil {
			return s.abortHangUp(conn, err, log)
		}
		if err := conn.fire(eventDrop); err != nil {
			log.WithError(err).Error("переход в DisconnectActive невозможен")
		}
		return nil
	}
}

// abortHangUp освобождает слот, когда запрос разборки не удалось доставить:
// индикации разрыва не будет, слот иначе останется занят навсегда.
func (s *Session) abortHangUp(conn *Connection, cause error, log *logrus.Entry) error {
	log.WithError(cause).Warn("запрос разрыва не доставлен, слот освобождается")
	id := conn.ID()
	s.metrics.Error(ErrorCodeTransportRejected)
	s.releaseCleared(conn, log)
	return ErrTransportRejected(id, 0, cause)
}

// releaseCleared переводит соединение в Idle, уведомляет приложение и
// освобождает слот.
func (s *Session) releaseCleared(conn *Connection, log *logrus.Entry) {
	if err := conn.fire(eventClear); err != nil {
		log.WithError(err).Error("переход в Idle невозможен")
	}
	s.events.postDisconnected(conn)
	s.table.Release(conn)
	s.metrics.ConnectionsActive(s.table.ActiveCount())
}

// SendDTMF передает один тоновый символ удаленной стороне. Допустимо только
// при активном медиаканале.
func (s *Session) SendDTMF(conn *Connection, tone byte) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	conn, err := s.resolve(conn)
	if err != nil {
		return err
	}
	if conn.State() != StateConnected {
		return ErrInvalidState(conn.ID(), "sendDTMF", conn.State())
	}

	s.log.WithFields(logrus.Fields{"conn": conn.ID(), "tone": string(tone)}).Debug("REQ: FACILITY - передача тона")
	if err := s.send(buildDTMFSendReq(0, conn.ncci, tone)); err != nil {
		s.metrics.Error(ErrorCodeTransportRejected)
		return ErrTransportRejected(conn.ID(), 0, err)
	}
	return nil
}

// SendText передает короткое текстовое сообщение на дисплей удаленной
// стороны. Требуется привязанное сигнальное плечо; медиаканал не нужен.
func (s *Session) SendText(conn *Connection, text string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	conn, err := s.resolve(conn)
	if err != nil {
		return err
	}
	if conn.plci == 0 {
		return ErrInvalidState(conn.ID(), "sendText", conn.State())
	}

	if err := s.send(buildInfoTextReq(0, conn.plci, text)); err != nil {
		s.metrics.Error(ErrorCodeTransportRejected)
		return ErrTransportRejected(conn.ID(), 0, err)
	}
	return nil
}

// SendFrame передает один кадр медиаданных. Окно неподтвержденных кадров
// ограничено конфигурацией: превышение возвращает ошибку, а не блокирует.
func (s *Session) SendFrame(conn *Connection, frame []byte) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	conn, err := s.resolve(conn)
	if err != nil {
		return err
	}
	if conn.State() != StateConnected {
		return ErrInvalidState(conn.ID(), "sendFrame", conn.State())
	}
	if conn.outstanding >= s.cfg.MaxDataFrames {
		return ErrFlowControl(conn.ID(), conn.outstanding, s.cfg.MaxDataFrames)
	}

	conn.dataHandle++
	if err := s.send(buildDataB3Req(0, conn.ncci, conn.dataHandle, frame)); err != nil {
		s.metrics.Error(ErrorCodeTransportRejected)
		return ErrTransportRejected(conn.ID(), 0, err)
	}
	conn.outstanding++
	return nil
}
