package capi

import (
	"github.com/sirupsen/logrus"
)

// alertAlreadySent код подтверждения ALERT "сигнал вызова уже отправлен";
// не является ошибкой.
const alertAlreadySent uint16 = 0x0003

// handleConfirmation обрабатывает ответ контроллера на ранее отправленный
// запрос. Подтверждения установления вызова и сигнала вызова двигают
// состояние соединения; подтверждения кадров данных ведут счетчик окна
// отправки; остальные только логируются — авторитетным источником переходов
// для них служат индикации.
func (s *Session) handleConfirmation(msg *Message) {
	log := s.log.WithFields(logrus.Fields{
		"command": msg.Command.String(),
		"info":    msg.Info,
	})

	switch msg.Command {
	case CmdConnect:
		s.confConnect(msg, log)
	case CmdAlert:
		s.confAlert(msg, log)
	case CmdDataB3:
		s.confDataB3(msg, log)
	case CmdListen:
		log.Debug("CNF: LISTEN")
	case CmdFacility:
		log.Debug("CNF: FACILITY")
	case CmdInfo:
		log.Debug("CNF: INFO")
	case CmdConnectB3:
		if msg.Info != 0 {
			log.Warn("CNF: CONNECT_B3 - запрос B-канала отклонен")
		} else {
			log.Debug("CNF: CONNECT_B3")
		}
	case CmdDisconnect:
		log.Debug("CNF: DISCONNECT")
	case CmdDisconnectB3:
		s.confDisconnectB3(msg, log)
	default:
		log.Debug("необработанное подтверждение")
	}
}

// confConnect подтверждение размещения исходящего вызова. Сопоставляется с
// соединением, у которого назначен тип сессии, но еще нет сигнального плеча.
// Ошибка контроллера освобождает слот и сообщается приложению; успех
// привязывает сигнальное плечо и переводит вызов в ожидание активации.
func (s *Session) confConnect(msg *Message, log *logrus.Entry) {
	conn := s.table.NewlyAllocated()
	if conn == nil {
		log.Warn("CNF: CONNECT - подтверждение без ожидающего вызова")
		return
	}
	log = log.WithField("conn", conn.ID())

	if msg.Info != 0 {
		log.WithField("info", msg.Info).Warn("CNF: CONNECT - вызов отклонен контроллером")
		s.metrics.Error(ErrorCodeTransportRejected)
		s.events.postStatus(msg.Info, conn)
		s.table.Release(conn)
		s.metrics.ConnectionsActive(s.table.ActiveCount())
		return
	}

	conn.plci = msg.PLCI
	if err := conn.fire(eventDial); err != nil {
		log.WithError(err).Error("переход в ConnectWait невозможен")
		return
	}
	log.WithField("plci", msg.PLCI).Debug("CNF: CONNECT - сигнальное плечо привязано")
}

// confAlert подтверждение запроса сигнала вызова по входящему соединению.
// Ошибка, кроме "сигнал уже отправлен", освобождает слот; успех открывает
// путь уведомления приложения о входящем вызове.
func (s *Session) confAlert(msg *Message, log *logrus.Entry) {
	conn := s.table.BySignalingLeg(msg.PLCI)
	if conn == nil {
		log.Debug("CNF: ALERT - неизвестное сигнальное плечо")
		return
	}
	log = log.WithField("conn", conn.ID())

	if msg.Info != 0 && msg.Info != alertAlreadySent {
		log.WithField("info", msg.Info).Warn("CNF: ALERT - отклонен, освобождаем слот")
		s.events.postStatus(msg.Info, conn)
		conn.plci = 0
		if err := conn.fire(eventClear); err != nil {
			log.WithError(err).Error("переход в Idle невозможен")
		}
		s.table.Release(conn)
		s.metrics.ConnectionsActive(s.table.ActiveCount())
		return
	}

	log.Debug("CNF: ALERT - уведомляем о входящем вызове")
	s.events.postRinging(conn)
}

// confDisconnectB3 подтверждение запроса разрыва медиаканала: запрос принят,
// ждем индикацию фактического разрыва.
func (s *Session) confDisconnectB3(msg *Message, log *logrus.Entry) {
	conn := s.table.ByMediaChannel(msg.NCCI)
	if conn == nil {
		log.Debug("CNF: DISCONNECT_B3 - неизвестный медиаканал")
		return
	}
	log = log.WithField("conn", conn.ID())

	if conn.State() == StateDisconnectB3Req {
		if err := conn.fire(eventChannelDown); err != nil {
			log.WithError(err).Error("переход в DisconnectB3Wait невозможен")
		}
	}
	log.Debug("CNF: DISCONNECT_B3")
}

// confDataB3 подтверждение отправленного кадра данных: уменьшает счетчик
// неподтвержденных кадров окна отправки.
func (s *Session) confDataB3(msg *Message, log *logrus.Entry) {
	conn := s.table.ByMediaChannel(msg.NCCI)
	if conn == nil {
		log.Debug("CNF: DATA_B3 - неизвестный медиаканал")
		return
	}
	if conn.outstanding > 0 {
		conn.outstanding--
	}
}
