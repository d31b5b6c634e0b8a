// Package phone обработчик телефонных сессий: связывает медиаканал вызова
// с аудиоустройством и пробрасывает принятые тоновые символы приложению.
package phone

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/isdn_phone/pkg/capi"
)

// Stream открытый аудиопоток устройства.
type Stream interface {
	// Play воспроизводит один кадр принятых медиаданных
	Play(frame []byte) error
	// Close закрывает поток и освобождает устройство
	Close() error
}

// Recorder поток, умеющий отдавать кадры для передачи удаленной стороне.
// Необязательное расширение Stream.
type Recorder interface {
	// Record возвращает очередной кадр; nil кадр и ошибка завершают передачу
	Record() ([]byte, error)
}

// Device аудиоустройство. Открывается на каждый вызов отдельно.
type Device interface {
	Open(sampleRate, channels int) (Stream, error)
}

// SendFunc передача кадра удаленной стороне (capi.Session.SendFrame).
type SendFunc func(conn *capi.Connection, frame []byte) error

// ToneFunc уведомление о принятом тоновом символе.
type ToneFunc func(conn *capi.Connection, code byte)

// Config параметры телефонного обработчика.
type Config struct {
	SampleRate int
	Channels   int
}

// DefaultConfig параметры речевого канала ISDN: A-law 8 кГц моно.
func DefaultConfig() Config {
	return Config{SampleRate: 8000, Channels: 1}
}

// Handler телефонный обработчик сессии. Раннее медиа включено: тоны
// прохождения вызова слышны до ответа удаленной стороны.
type Handler struct {
	device Device
	cfg    Config
	log    *logrus.Entry

	// Send передача исходящих кадров; nil — передача не ведется
	Send SendFunc
	// OnTone уведомление о принятом тоновом символе; nil — тоны отбрасываются
	OnTone ToneFunc
}

// NewHandler создает телефонный обработчик поверх аудиоустройства.
func NewHandler(device Device, cfg Config, log *logrus.Logger) *Handler {
	return &Handler{
		device: device,
		cfg:    cfg,
		log:    log.WithField("component", "phone"),
	}
}

// call приватные данные телефонного вызова.
type call struct {
	stream Stream
	stop   chan struct{}
}

// OnInit открывает аудиопоток и запускает передачу исходящих кадров.
// Ошибка открытия устройства разрывает вызов.
func (h *Handler) OnInit(conn *capi.Connection) error {
	stream, err := h.device.Open(h.cfg.SampleRate, h.cfg.Channels)
	if err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Error("аудиоустройство не открылось")
		return capi.ErrAudioOpenFailed(conn.ID(), err)
	}

	c := &call{stream: stream, stop: make(chan struct{})}
	conn.SetPayload(c)

	if rec, ok := stream.(Recorder); ok && h.Send != nil {
		go h.pump(conn, c, rec)
	}

	h.log.WithField("conn", conn.ID()).Debug("аудиопоток открыт")
	return nil
}

// pump передает кадры устройства удаленной стороне до остановки вызова.
// Переполнение окна кадров не фатально: кадр отбрасывается, передача
// продолжается. Закрытие потока в OnClean прерывает зависший Record.
func (h *Handler) pump(conn *capi.Connection, c *call, rec Recorder) {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		frame, err := rec.Record()
		if err != nil {
			h.log.WithError(err).WithField("conn", conn.ID()).Debug("запись завершена")
			return
		}
		if len(frame) == 0 {
			continue
		}
		if err := h.Send(conn, frame); err != nil {
			if capi.CodeOf(err) == capi.ErrorCodeFlowControl {
				continue
			}
			h.log.WithError(err).WithField("conn", conn.ID()).Debug("передача кадра прервана")
			return
		}
	}
}

// OnData воспроизводит принятый кадр.
func (h *Handler) OnData(conn *capi.Connection, frame []byte) {
	c, ok := conn.Payload().(*call)
	if !ok {
		return
	}
	if err := c.stream.Play(frame); err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Debug("воспроизведение кадра не удалось")
	}
}

// OnCode пробрасывает тоновый символ приложению.
func (h *Handler) OnCode(conn *capi.Connection, code byte) {
	if h.OnTone != nil {
		h.OnTone(conn, code)
	}
}

// OnClean останавливает передачу и закрывает аудиопоток. Ожидать завершения
// горутины передачи нельзя — она может стоять на замке состояния сессии;
// закрытие потока прерывает ее чтение, оставшаяся отправка упрется в
// устаревшую ссылку на соединение.
func (h *Handler) OnClean(conn *capi.Connection) {
	c, ok := conn.Payload().(*call)
	if !ok {
		return
	}
	close(c.stop)
	if err := c.stream.Close(); err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Debug("закрытие аудиопотока не удалось")
	}
	conn.SetPayload(nil)
}

// EarlyMedia телефонному вызову медиаканал нужен до ответа.
func (h *Handler) EarlyMedia() bool { return true }
