package capi

// Построители запросов и ответов транспорту, а также кодирование/декодирование
// информационных элементов номеров сторон. Wire-формат самих сообщений
// остается за транспортом; здесь собираются только поля Message.

const (
	// listenInfoMask набор информационных индикаций, запрашиваемых у контроллера
	listenInfoMask uint32 = 0x3FF
	// listenCIPMask классы услуг, на которые подписывается движок
	listenCIPMask uint32 = 0x1FFF03FF

	// internPrefix фиксированный префикс вызывающего номера для внутренних
	// коротких номеров (начинающихся с '*' или '#')
	internPrefix = "**981"

	// maxDisplayText максимальная длина текстового уведомления
	maxDisplayText = 31
)

// Коды причин в CONNECT_RESP.
const (
	connectAccept uint16 = 0
	connectIgnore uint16 = 1
	connectReject uint16 = 3
)

// encodeCalledParty кодирует информационный элемент вызываемого номера.
// Первый октет — длина, второй — тип номера 0x80 (unknown/ISDN).
func encodeCalledParty(number string) []byte {
	ie := make([]byte, 0, len(number)+2)
	ie = append(ie, byte(1+len(number)), 0x80)
	ie = append(ie, number...)
	return ie
}

// encodeCallingParty кодирует информационный элемент вызывающего номера.
// Октет представления 0x80 — разрешено, 0xA0 — показ номера запрещен.
func encodeCallingParty(number string, anonymous bool) []byte {
	presentation := byte(0x80)
	if anonymous {
		presentation = 0xA0
	}
	ie := make([]byte, 0, len(number)+3)
	ie = append(ie, byte(2+len(number)), 0x00, presentation)
	ie = append(ie, number...)
	return ie
}

// decodePartyNumber извлекает номер из информационного элемента стороны.
// Если установлен бит завершенности октета 3a, номер начинается с четвертого
// октета, иначе с третьего. Пустой элемент трактуется как "unknown", элемент
// без цифр — как "anonymous".
func decodePartyNumber(ie []byte) string {
	if len(ie) < 2 || ie[0] <= 1 {
		return "unknown"
	}
	length := int(ie[0])
	if length >= len(ie) {
		length = len(ie) - 1
	}

	var digits []byte
	if len(ie) > 2 && ie[2]&0x80 != 0 {
		// присутствует октет представления
		if length >= 2 {
			digits = ie[3 : 1+length]
		}
	} else {
		digits = ie[2 : 1+length]
	}

	if len(digits) == 0 {
		return "anonymous"
	}
	return string(digits)
}

// MediaProtocol параметры протоколов B-канала для исходящего вызова.
type MediaProtocol struct {
	B1, B2, B3    uint16
	B1Cfg, B2Cfg, B3Cfg []byte
}

// buildConnectReq собирает запрос установления вызова.
// Внутренние номера (цель начинается с '*' или '#') получают фиксированный
// префикс вызывающего номера и транспарентный BC; для классов услуг 0x04 и
// 0x11 подставляются согласованные HLC/BC как в оригинальной реализации.
func buildConnectReq(appID uint16, controller int, cip uint16, source, target string, anonymous bool, proto MediaProtocol) *Message {
	intern := len(target) > 0 && (target[0] == '*' || target[0] == '#')

	msg := &Message{
		Command:     CmdConnect,
		Subcommand:  SubcommandReq,
		AppID:       appID,
		Controller:  uint8(controller),
		CIP:         cip,
		CalledParty: encodeCalledParty(target),
		B1Proto:     proto.B1,
		B2Proto:     proto.B2,
		B3Proto:     proto.B3,
		B1Cfg:       proto.B1Cfg,
		B2Cfg:       proto.B2Cfg,
		B3Cfg:       proto.B3Cfg,
		LLC:         []byte{0x02, 0x80, 0x90},
	}

	if intern {
		msg.CallingParty = encodeCallingParty(internPrefix, anonymous)
		msg.BC = []byte{0x03, 0xE0, 0x90, 0xA3}
	} else {
		msg.CallingParty = encodeCallingParty(source, anonymous)
	}

	switch cip {
	case cipTelephony3k:
		msg.HLC = []byte{0x02, 0x91, 0x81}
	case cipTelephony7k:
		msg.BC = nil
		msg.LLC = nil
		msg.HLC = nil
	}

	return msg
}

// buildConnectResp собирает ответ на входящий CONNECT_IND.
// reject: connectAccept / connectIgnore / connectReject.
func buildConnectResp(appID uint16, number uint16, plci uint32, reject uint16) *Message {
	msg := &Message{
		Command:      CmdConnect,
		Subcommand:   SubcommandResp,
		AppID:        appID,
		Number:       number,
		PLCI:         plci,
		RejectReason: reject,
	}
	if reject == connectAccept {
		msg.B1Proto, msg.B2Proto = 1, 1
	}
	return msg
}

// buildAlertReq собирает запрос сигнала вызова для входящего соединения.
func buildAlertReq(appID uint16, plci uint32) *Message {
	return &Message{
		Command:    CmdAlert,
		Subcommand: SubcommandReq,
		AppID:      appID,
		PLCI:       plci,
	}
}

// buildListenReq собирает запрос подписки на индикации контроллера.
func buildListenReq(appID uint16, controller int) *Message {
	return &Message{
		Command:        CmdListen,
		Subcommand:     SubcommandReq,
		AppID:          appID,
		Controller:     uint8(controller),
		ListenInfoMask: listenInfoMask,
		ListenCIPMask:  listenCIPMask,
	}
}

// buildConnectB3Req собирает запрос установления B-канала.
func buildConnectB3Req(appID uint16, plci uint32) *Message {
	return &Message{
		Command:    CmdConnectB3,
		Subcommand: SubcommandReq,
		AppID:      appID,
		PLCI:       plci,
	}
}

// buildDisconnectReq собирает запрос разрыва сигнального плеча.
func buildDisconnectReq(appID uint16, plci uint32) *Message {
	return &Message{
		Command:    CmdDisconnect,
		Subcommand: SubcommandReq,
		AppID:      appID,
		PLCI:       plci,
	}
}

// buildDisconnectB3Req собирает запрос разрыва медиаканала.
func buildDisconnectB3Req(appID uint16, ncci uint32) *Message {
	return &Message{
		Command:    CmdDisconnectB3,
		Subcommand: SubcommandReq,
		AppID:      appID,
		NCCI:       ncci,
	}
}

// buildDataB3Req собирает запрос отправки кадра данных по медиаканалу.
func buildDataB3Req(appID uint16, ncci uint32, handle uint16, data []byte) *Message {
	return &Message{
		Command:    CmdDataB3,
		Subcommand: SubcommandReq,
		AppID:      appID,
		NCCI:       ncci,
		DataHandle: handle,
		Data:       data,
	}
}

// buildDataB3Resp собирает подтверждение принятого кадра данных.
func buildDataB3Resp(appID uint16, number uint16, ncci uint32, handle uint16) *Message {
	return &Message{
		Command:    CmdDataB3,
		Subcommand: SubcommandResp,
		AppID:      appID,
		Number:     number,
		NCCI:       ncci,
		DataHandle: handle,
	}
}

// Селекторы FACILITY.
const (
	facilitySelectorDTMF  uint16 = 0x0001
	facilitySelectorSuppl uint16 = 0x0003
)

// buildDTMFEnableReq собирает запрос включения детектирования тонов
// на сигнальном плече. Формат параметров повторяет оригинальный:
// длина, команда DTMF ON (0x01), длительности тона и паузы.
func buildDTMFEnableReq(appID uint16, plci uint32) *Message {
	params := []byte{
		10,         // длина
		0x01,       // DTMF ON
		0x00, 0x40, // длительность тона
		0x00, 0x40, // длительность паузы
		0x00, 0x00,
		0x02,
		0x00, 0x00,
	}
	return &Message{
		Command:          CmdFacility,
		Subcommand:       SubcommandReq,
		AppID:            appID,
		PLCI:             plci,
		FacilitySelector: facilitySelectorDTMF,
		FacilityParams:   params,
	}
}

// buildDTMFSendReq собирает запрос отправки тонового сигнала по медиаканалу.
func buildDTMFSendReq(appID uint16, ncci uint32, tone byte) *Message {
	params := []byte{
		0x08,       // длина
		0x03,       // послать DTMF
		0x00, 0x30, // длительность тона
		0x00, 0x30, // длительность паузы
		0x00, 0x01, // один символ
		tone,
	}
	return &Message{
		Command:          CmdFacility,
		Subcommand:       SubcommandReq,
		AppID:            appID,
		NCCI:             ncci,
		FacilitySelector: facilitySelectorDTMF,
		FacilityParams:   params,
	}
}

// buildFacilityResp собирает ответ на индикацию FACILITY.
func buildFacilityResp(appID uint16, number uint16, plci uint32, selector uint16, params []byte) *Message {
	return &Message{
		Command:          CmdFacility,
		Subcommand:       SubcommandResp,
		AppID:            appID,
		Number:           number,
		PLCI:             plci,
		FacilitySelector: selector,
		FacilityParams:   params,
	}
}

// buildInfoTextReq собирает информационный запрос с текстом для дисплея
// удаленной стороны. Текст обрезается до maxDisplayText байт.
func buildInfoTextReq(appID uint16, plci uint32, text string) *Message {
	if len(text) > maxDisplayText {
		text = text[:maxDisplayText]
	}
	// информационный элемент Display: длина, идентификатор 0x28, текст
	ie := make([]byte, 0, len(text)+2)
	ie = append(ie, byte(len(text)+1), 0x28)
	ie = append(ie, text...)

	return &Message{
		Command:     CmdInfo,
		Subcommand:  SubcommandReq,
		AppID:       appID,
		PLCI:        plci,
		InfoElement: ie,
	}
}

// simpleResp собирает пустой ответ на индикацию (CONNECT_ACTIVE, INFO и т.п.).
func simpleResp(cmd Command, appID uint16, number uint16, plci, ncci uint32) *Message {
	return &Message{
		Command:    cmd,
		Subcommand: SubcommandResp,
		AppID:      appID,
		Number:     number,
		PLCI:       plci,
		NCCI:       ncci,
	}
}
