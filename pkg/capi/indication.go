package capi

import (
	"github.com/sirupsen/logrus"
)

// Классы услуг (CIP) входящих вызовов, которые движок готов обслуживать:
// речь, аналоговая телефония 3.1 кГц, телефония и телефония 7 кГц.
const (
	cipSpeech       uint16 = 1
	cipTelephony3k  uint16 = 4
	cipTelephony    uint16 = 16
	cipTelephony7k  uint16 = 17
)

// acceptableCIP сообщает, обслуживается ли класс услуги входящего вызова.
func acceptableCIP(cip uint16) bool {
	switch cip {
	case cipSpeech, cipTelephony3k, cipTelephony, cipTelephony7k:
		return true
	}
	return false
}

// handleIndication обрабатывает незапрошенное событие контроллера: входящий
// вызов, активацию плеча, принятые данные, разрыв, тоновый сигнал или
// информационный код. Найденное по идентификатору плеча соединение
// продвигается по конечному автомату.
func (s *Session) handleIndication(msg *Message) {
	log := s.log.WithFields(logrus.Fields{
		"command": msg.Command.String(),
		"plci":    msg.PLCI,
		"ncci":    msg.NCCI,
	})

	switch msg.Command {
	case CmdConnect:
		s.indConnect(msg, log)
	case CmdConnectActive:
		s.indConnectActive(msg, log)
	case CmdConnectB3:
		s.indConnectB3(msg, log)
	case CmdConnectB3Active:
		s.indConnectB3Active(msg, log)
	case CmdDataB3:
		s.indDataB3(msg, log)
	case CmdFacility:
		s.indFacility(msg, log)
	case CmdInfo:
		s.indInfo(msg, log)
	case CmdDisconnectB3:
		s.indDisconnectB3(msg, log)
	case CmdDisconnect:
		s.indDisconnect(msg, log)
	default:
		log.Debug("необработанная индикация")
	}
}

// indConnect входящий вызов с удаленной стороны.
// Необслуживаемые классы услуг игнорируются ответом без выделения слота;
// при исчерпании таблицы вызов отклоняется. Принятый вызов получает слот в
// Ringing и автоматический запрос сигнала вызова; уведомление приложения
// произойдет по подтверждению ALERT.
func (s *Session) indConnect(msg *Message, log *logrus.Entry) {
	source := decodePartyNumber(msg.CallingParty)
	target := decodePartyNumber(msg.CalledParty)
	log = log.WithFields(logrus.Fields{"cip": msg.CIP, "source": source, "target": target})

	if !acceptableCIP(msg.CIP) {
		log.Debug("IND: CONNECT - класс услуги не обслуживается, игнорируем")
		if err := s.send(buildConnectResp(0, 0, msg.PLCI, connectIgnore)); err != nil {
			log.WithError(err).Debug("ответ-игнорирование не доставлен")
		}
		return
	}

	conn := s.table.Allocate()
	if conn == nil {
		log.Warn("IND: CONNECT - нет свободных слотов, отклоняем")
		s.metrics.Error(ErrorCodeNoCapacity)
		if err := s.send(buildConnectResp(0, 0, msg.PLCI, connectReject)); err != nil {
			log.WithError(err).Debug("ответ-отклонение не доставлен")
		}
		return
	}

	conn.plci = msg.PLCI
	conn.flags = FlagIncoming | FlagSoftphone
	conn.source = source
	conn.target = target
	conn.indNumber = msg.Number
	if err := conn.fire(eventOffer); err != nil {
		log.WithError(err).Error("переход в Ringing невозможен")
		s.table.Release(conn)
		return
	}

	s.metrics.CallStarted(false)
	s.metrics.ConnectionsActive(s.table.ActiveCount())

	log.WithField("conn", conn.ID()).Debug("IND: CONNECT - входящий вызов")
	if err := s.send(buildAlertReq(0, msg.PLCI)); err != nil {
		log.WithError(err).Warn("запрос сигнала вызова не доставлен")
	}
}

// indConnectActive сигнальное плечо стало активным.
// Для принятого входящего вызова B-канал установит удаленная сторона; для
// исходящего без раннего медиа движок запрашивает канал сам. Отказ запроса
// инициирует разрыв этого вызова.
func (s *Session) indConnectActive(msg *Message, log *logrus.Entry) {
	if err := s.send(simpleResp(CmdConnectActive, 0, msg.Number, msg.PLCI, 0)); err != nil {
		log.WithError(err).Debug("ответ на CONNECT_ACTIVE не доставлен")
	}

	conn := s.table.BySignalingLeg(msg.PLCI)
	if conn == nil {
		log.Debug("IND: CONNECT_ACTIVE - неизвестное сигнальное плечо")
		return
	}
	log = log.WithField("conn", conn.ID())

	switch conn.State() {
	case StateIncomingWait:
		conn.connectTime = nowFunc()
		if err := conn.fire(eventProceed); err != nil {
			log.WithError(err).Error("переход из IncomingWait невозможен")
		}
	case StateConnectWait:
		// ранний B-канал не запрашивался (не было информационной индикации
		// либо тип сессии его не использует): запрашиваем канал сейчас
		log.Debug("REQ: CONNECT_B3")
		if err := s.send(buildConnectB3Req(0, msg.PLCI)); err != nil {
			s.postTransportRejected(conn, err, log)
			s.hangUp(conn)
			return
		}
		conn.connectTime = nowFunc()
		if err := conn.fire(eventProceed); err != nil {
			log.WithError(err).Error("переход в ConnectActive невозможен")
		}
	default:
		// ранний B-канал уже запрошен по информационной индикации
		conn.connectTime = nowFunc()
	}
}

// indConnectB3 удаленная сторона устанавливает B-канал.
func (s *Session) indConnectB3(msg *Message, log *logrus.Entry) {
	plci := PLCIOf(msg.NCCI)
	conn := s.table.BySignalingLeg(plci)
	if conn == nil {
		log.Debug("IND: CONNECT_B3 - неизвестное сигнальное плечо")
		return
	}
	log = log.WithField("conn", conn.ID())

	if err := s.send(simpleResp(CmdConnectB3, 0, msg.Number, 0, msg.NCCI)); err != nil {
		log.WithError(err).Debug("ответ на CONNECT_B3 не доставлен")
	}

	if conn.State() == StateConnectActive {
		conn.ncci = msg.NCCI
		if err := conn.fire(eventChannelUp); err != nil {
			log.WithError(err).Error("привязка медиаканала невозможна")
		}
	} else {
		// B-канал в неожиданном состоянии сигнального плеча, разрываем
		log.WithField("state", conn.State().String()).Debug("IND: CONNECT_B3 - неожиданное состояние")
		s.hangUp(conn)
	}
}

// indConnectB3Active медиаканал активен: привязываем идентификатор, включаем
// детектирование тонов, инициализируем полезную нагрузку типа сессии и
// уведомляем приложение об установленном вызове.
func (s *Session) indConnectB3Active(msg *Message, log *logrus.Entry) {
	plci := PLCIOf(msg.NCCI)
	conn := s.table.BySignalingLeg(plci)
	if conn == nil {
		log.Debug("IND: CONNECT_B3_ACTIVE - неизвестное сигнальное плечо")
		return
	}
	log = log.WithField("conn", conn.ID())

	if err := s.send(simpleResp(CmdConnectB3Active, 0, msg.Number, 0, msg.NCCI)); err != nil {
		log.WithError(err).Debug("ответ на CONNECT_B3_ACTIVE не доставлен")
	}

	if conn.State() == StateConnectActive {
		// контроллер пропустил отдельную индикацию установления канала
		if err := conn.fire(eventChannelUp); err != nil {
			log.WithError(err).Error("привязка медиаканала невозможна")
		}
	}
	if err := conn.fire(eventEstablished); err != nil {
		// медиаканал активен в недопустимом состоянии сигнального плеча:
		// идентификатор не привязываем, вызов разрываем
		log.WithError(err).Error("переход в Connected невозможен")
		s.hangUp(conn)
		return
	}

	conn.ncci = msg.NCCI
	if len(msg.NCPI) > 0 {
		conn.ncpi = append([]byte(nil), msg.NCPI...)
	}

	if err := s.send(buildDTMFEnableReq(0, conn.plci)); err != nil {
		log.WithError(err).Warn("включение детектирования тонов не удалось")
	}

	if conn.handler != nil {
		if err := conn.handler.OnInit(conn); err != nil {
			log.WithError(err).Warn("инициализация полезной нагрузки не удалась, разрываем")
			s.metrics.Error(ErrorCodeAudioOpenFailed)
			s.events.postMessage("Ошибка устройства", "Не удалось подготовить устройство вызова, вызов разорван")
			s.hangUp(conn)
			return
		}
	}

	log.Debug("IND: CONNECT_B3_ACTIVE - вызов установлен")
	s.events.postConnected(conn)
}

// indDataB3 принят кадр медиаданных: передаем обработчику типа сессии и
// подтверждаем прием контроллеру.
func (s *Session) indDataB3(msg *Message, log *logrus.Entry) {
	conn := s.table.ByMediaChannel(msg.NCCI)
	if conn == nil {
		log.Debug("IND: DATA_B3 - неизвестный медиаканал")
		return
	}

	if conn.handler != nil {
		conn.handler.OnData(conn, msg.Data)
	}

	if err := s.send(buildDataB3Resp(0, msg.Number, conn.ncci, msg.DataHandle)); err != nil {
		log.WithError(err).Debug("подтверждение кадра не доставлено")
	}
}

// Подкоды дополнительных услуг в индикации FACILITY.
const (
	supplementaryHold     uint16 = 0x0202
	supplementaryRetrieve uint16 = 0x0203
)

// indFacility тоновый сигнал или событие дополнительной услуги.
// Селектор тонов декодирует символ и передает его обработчику типа сессии
// только для цифр, '#' и '*'. Возврат канала с удержания повторно запрашивает
// B-канал; постановка на удержание только логируется.
func (s *Session) indFacility(msg *Message, log *logrus.Entry) {
	plci := PLCIOf(msg.NCCI)
	if plci == 0 {
		plci = msg.PLCI
	}

	if err := s.send(buildFacilityResp(0, msg.Number, plci, msg.FacilitySelector, msg.FacilityParams)); err != nil {
		log.WithError(err).Debug("ответ на FACILITY не доставлен")
	}

	conn := s.table.BySignalingLeg(plci)
	if conn == nil {
		log.Debug("IND: FACILITY - неизвестное сигнальное плечо")
		return
	}
	log = log.WithField("conn", conn.ID())

	switch msg.FacilitySelector {
	case facilitySelectorDTMF:
		if len(msg.FacilityParams) < 2 {
			return
		}
		s.dispatchToneCode(conn, msg.FacilityParams[1])

	case facilitySelectorSuppl:
		if len(msg.FacilityParams) < 4 {
			return
		}
		function := uint16(msg.FacilityParams[1]) | uint16(msg.FacilityParams[3])<<8
		switch function {
		case supplementaryRetrieve:
			log.Debug("FACILITY: возврат с удержания, повторный запрос B-канала")
			if err := s.send(buildConnectB3Req(0, conn.plci)); err != nil {
				s.postTransportRejected(conn, err, log)
				s.hangUp(conn)
				return
			}
			if err := conn.fire(eventProceed); err != nil {
				log.WithError(err).Error("переход в ConnectActive невозможен")
			}
		case supplementaryHold:
			log.Debug("FACILITY: постановка на удержание")
		default:
			log.WithField("function", function).Debug("FACILITY: неизвестная дополнительная услуга")
		}

	default:
		log.WithField("selector", msg.FacilitySelector).Debug("необработанный селектор FACILITY")
	}
}

// dispatchToneCode передает декодированный тоновый символ обработчику типа
// сессии. Пропускаются только цифры, '#' и '*'; прочие байты отбрасываются.
func (s *Session) dispatchToneCode(conn *Connection, code byte) {
	if code == 0 {
		return
	}
	if !(code >= '0' && code <= '9') && code != '#' && code != '*' {
		return
	}
	if conn.handler != nil {
		conn.handler.OnCode(conn, code)
	}
}

// Информационные номера индикации INFO, значимые для движка.
const (
	infoCause             uint16 = 0x0008
	infoProgressIndicator uint16 = 0x001E
	infoDisconnect        uint16 = 0x8045
)

// indInfo информационная индикация: числовые коды причин и прохождения
// вызова логируются для диагностики. Код разрыва инициирует завершение
// вызова, индикатор прохождения при включенном раннем медиа запускает
// досрочный запрос B-канала.
func (s *Session) indInfo(msg *Message, log *logrus.Entry) {
	if err := s.send(simpleResp(CmdInfo, 0, msg.Number, msg.PLCI, 0)); err != nil {
		log.WithError(err).Debug("ответ на INFO не доставлен")
	}

	log.WithField("info", msg.InfoNumber).Debug(describeInfo(msg.InfoNumber, msg.InfoElement))

	switch msg.InfoNumber {
	case infoDisconnect:
		conn := s.table.BySignalingLeg(msg.PLCI)
		if conn == nil {
			return
		}
		if conn.State() == StateConnected && conn.sessionType == SessionFax {
			// факс завершает передачу сам, ждем индикацию разрыва B-канала
			log.WithField("conn", conn.ID()).Debug("INFO: разрыв отложен до завершения факса")
			return
		}
		s.hangUp(conn)
		return
	}

	// ранний B-канал: запрашиваем медиаканал до ответа удаленной стороны,
	// чтобы проиграть тоны прохождения вызова
	conn := s.table.BySignalingLeg(msg.PLCI)
	if conn == nil {
		return
	}
	if conn.handler != nil && conn.handler.EarlyMedia() &&
		conn.State() == StateConnectWait && msg.InfoNumber == infoProgressIndicator {
		log.WithField("conn", conn.ID()).Debug("REQ: CONNECT_B3 - ранний B-канал")
		if err := s.send(buildConnectB3Req(0, conn.plci)); err != nil {
			s.postTransportRejected(conn, err, log)
			s.hangUp(conn)
			return
		}
		conn.connectTime = nowFunc()
		if err := conn.fire(eventProceed); err != nil {
			log.WithError(err).Error("переход в ConnectActive невозможен")
		}
	}
}

// indDisconnectB3 медиаканал разорван. Если разрыв пассивный (канал был
// активен), индикация разрыва сигнального плеча придет следом; иначе движок
// сам инициирует разрыв сигнального плеча.
func (s *Session) indDisconnectB3(msg *Message, log *logrus.Entry) {
	if err := s.send(simpleResp(CmdDisconnectB3, 0, msg.Number, 0, msg.NCCI)); err != nil {
		log.WithError(err).Debug("ответ на DISCONNECT_B3 не доставлен")
	}

	conn := s.table.ByMediaChannel(msg.NCCI)
	if conn == nil {
		log.Debug("IND: DISCONNECT_B3 - неизвестный медиаканал")
		return
	}
	log = log.WithField("conn", conn.ID())

	conn.reasonB3 = msg.ReasonB3
	conn.ncci = 0

	if st := conn.State(); st == StateConnected || st == StateConnectB3Wait {
		// пассивный разрыв, DISCONNECT_IND придет следом
		if err := conn.fire(eventDrop); err != nil {
			log.WithError(err).Error("переход в DisconnectActive невозможен")
		}
	} else {
		s.hangUp(conn)
	}
	log.WithField("reason_b3", msg.ReasonB3).Debug("IND: DISCONNECT_B3")
}

// indDisconnect сигнальное плечо разорвано: записываем причину, освобождаем
// полезную нагрузку и слот, уведомляем приложение.
func (s *Session) indDisconnect(msg *Message, log *logrus.Entry) {
	if err := s.send(simpleResp(CmdDisconnect, 0, msg.Number, msg.PLCI, 0)); err != nil {
		log.WithError(err).Debug("ответ на DISCONNECT не доставлен")
	}

	conn := s.table.BySignalingLeg(msg.PLCI)
	if conn == nil {
		log.Debug("IND: DISCONNECT - неизвестное сигнальное плечо, игнорируем")
		return
	}
	log = log.WithField("conn", conn.ID())

	conn.reason = msg.Reason
	conn.ncci = 0
	conn.plci = 0
	if err := conn.fire(eventClear); err != nil {
		log.WithError(err).Error("переход в Idle невозможен")
	}

	s.metrics.CallFinished(conn.connectTime)
	s.events.postDisconnected(conn)
	s.table.Release(conn)
	s.metrics.ConnectionsActive(s.table.ActiveCount())

	log.WithField("reason", msg.Reason).Debug("IND: DISCONNECT - вызов завершен")
}

// postTransportRejected сообщает приложению об отклоненном транспортом
// запросе по конкретному вызову.
func (s *Session) postTransportRejected(conn *Connection, err error, log *logrus.Entry) {
	log.WithError(err).Warn("контроллер отклонил запрос")
	s.metrics.Error(ErrorCodeTransportRejected)
	s.events.postStatus(infoOf(err), conn)
}
