package capi

import "fmt"

// describeInfo возвращает диагностическое описание информационной индикации.
// Номера и расшифровки повторяют набор кодов Q.931/ETS 300 102, которые
// контроллер транслирует приложению: причины, состояние вызова,
// идентификация канала, индикаторы прохождения и уведомления.
func describeInfo(info uint16, element []byte) string {
	switch info {
	case infoCause:
		if len(element) >= 3 {
			return fmt.Sprintf("INFO: причина разрыва 0x%02x", element[2]&0x7F)
		}
		return "INFO: причина разрыва"
	case 0x0014:
		return "INFO: состояние вызова"
	case 0x0018:
		return "INFO: идентификация канала"
	case 0x001C:
		return "INFO: услуга Q.932"
	case infoProgressIndicator:
		return "INFO: индикатор прохождения - " + progressDescription(element)
	case 0x0027:
		return "INFO: уведомление - " + notificationDescription(element)
	case 0x0028:
		return "INFO: дисплей"
	case 0x0029:
		if len(element) >= 5 {
			return fmt.Sprintf("INFO: дата/время (%02d/%02d/%02d %02d:%02d)",
				element[0], element[1], element[2], element[3], element[4])
		}
		return "INFO: дата/время"
	case 0x002C:
		return "INFO: клавиатурная услуга"
	case 0x006C:
		return "INFO: номер вызывающей стороны"
	case 0x0070:
		return "INFO: номер вызываемой стороны"
	case 0x0074:
		return "INFO: номер переадресации"
	case 0x00A1:
		return "INFO: набор завершен"
	case 0x4000:
		return "INFO: тарификация в единицах"
	case 0x4001:
		return "INFO: тарификация в валюте"
	case 0x8001:
		return "INFO: сигнал вызова у удаленной стороны"
	case 0x8002:
		return "INFO: вызов обрабатывается"
	case 0x8003:
		return "INFO: прохождение вызова"
	case 0x8005:
		return "INFO: установление"
	case 0x8007:
		return "INFO: соединение"
	case 0x800D:
		return "INFO: подтверждение установления"
	case 0x800F:
		return "INFO: подтверждение соединения"
	case infoDisconnect:
		return "INFO: разрыв"
	case 0x804D:
		return "INFO: освобождение"
	case 0x805A:
		return "INFO: освобождение завершено"
	case 0x8062:
		return "INFO: услуга"
	case 0x806E:
		return "INFO: уведомление"
	case 0x807B:
		return "INFO: информация"
	case 0x807D:
		return "INFO: статус"
	default:
		return fmt.Sprintf("INFO: неизвестный код 0x%04x", info)
	}
}

// progressDescription расшифровывает описание индикатора прохождения вызова.
func progressDescription(element []byte) string {
	if len(element) < 3 {
		return "описание отсутствует"
	}
	switch element[2] & 0x7F {
	case 0x01:
		return "вызов не целиком в ISDN"
	case 0x02:
		return "вызываемая сторона не в ISDN"
	case 0x03:
		return "вызывающая сторона не в ISDN"
	case 0x04:
		return "вызов вернулся в ISDN"
	case 0x05:
		return "произошло межсетевое взаимодействие"
	case 0x08:
		return "доступна внутриполосная информация"
	default:
		return fmt.Sprintf("неизвестное описание 0x%02x", element[2])
	}
}

// notificationDescription расшифровывает индикатор уведомления.
func notificationDescription(element []byte) string {
	if len(element) < 1 {
		return "пустое уведомление"
	}
	switch element[0] {
	case 0x00:
		return "вызов приостановлен"
	case 0x01:
		return "вызов возобновлен"
	case 0x02:
		return "служба доставки изменена"
	case 0xF9:
		return "поставлен на удержание"
	case 0xFA:
		return "снят с удержания"
	default:
		return fmt.Sprintf("неизвестное уведомление 0x%02x", element[0])
	}
}
