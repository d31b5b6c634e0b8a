// Package fax обработчик факсовых сессий: принятый документ пишется в
// спул-каталог, исходящий передается из подготовленного файла.
//
// Медиаканал факсового вызова не запрашивается до ответа удаленной стороны:
// согласование T.30 начинается только после установления соединения.
package fax

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/isdn_phone/pkg/capi"
)

// Store спул принятых документов.
type Store struct {
	// Dir каталог спула; создается при первом документе
	Dir string
}

// Create открывает новый файл документа в спуле.
func (s *Store) Create(conn *capi.Connection) (*os.File, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("создание спула: %w", err)
	}
	name := fmt.Sprintf("fax-%s-%d.sff", time.Now().Format("20060102-150405"), conn.ID())
	f, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("создание документа: %w", err)
	}
	return f, nil
}

// SendFunc передача кадра удаленной стороне (capi.Session.SendFrame).
type SendFunc func(conn *capi.Connection, frame []byte) error

// CompleteFunc уведомление о завершенном приеме: путь документа и его размер.
type CompleteFunc func(conn *capi.Connection, path string, size int64)

// frameSize размер кадра передаваемого документа.
const frameSize = 512

// Handler факсовый обработчик сессии.
type Handler struct {
	store *Store
	log   *logrus.Entry

	// Send передача исходящих кадров; nil — только прием
	Send SendFunc
	// Outbox источник исходящего документа для вызова; nil — только прием
	Outbox func(conn *capi.Connection) (io.ReadCloser, error)
	// OnComplete уведомление о завершенном приеме
	OnComplete CompleteFunc
}

// NewHandler создает факсовый обработчик поверх спула.
func NewHandler(store *Store, log *logrus.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.WithField("component", "fax"),
	}
}

// job приватные данные факсового вызова.
type job struct {
	file    *os.File
	written int64
	started time.Time
	stop    chan struct{}
}

// OnInit открывает файл документа; для исходящего факса запускается передача.
func (h *Handler) OnInit(conn *capi.Connection) error {
	file, err := h.store.Create(conn)
	if err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Error("документ не создан")
		return err
	}

	j := &job{file: file, started: time.Now(), stop: make(chan struct{})}
	conn.SetPayload(j)

	if conn.Flags()&capi.FlagOutgoing != 0 && h.Send != nil && h.Outbox != nil {
		doc, err := h.Outbox(conn)
		if err != nil {
			file.Close()
			os.Remove(file.Name())
			conn.SetPayload(nil)
			h.log.WithError(err).WithField("conn", conn.ID()).Error("исходящий документ недоступен")
			return err
		}
		go h.transmit(conn, j, doc)
	}

	h.log.WithFields(logrus.Fields{"conn": conn.ID(), "document": file.Name()}).Debug("факсовая сессия начата")
	return nil
}

// transmit передает документ кадрами фиксированного размера. Переполнение
// окна кадров ожидается штатно — передача притормаживает.
func (h *Handler) transmit(conn *capi.Connection, j *job, doc io.ReadCloser) {
	defer doc.Close()

	buf := make([]byte, frameSize)
	for {
		select {
		case <-j.stop:
			return
		default:
		}

		n, err := doc.Read(buf)
		if n > 0 {
			frame := append([]byte(nil), buf[:n]...)
			for {
				sendErr := h.Send(conn, frame)
				if sendErr == nil {
					break
				}
				if capi.CodeOf(sendErr) != capi.ErrorCodeFlowControl {
					h.log.WithError(sendErr).WithField("conn", conn.ID()).Debug("передача документа прервана")
					return
				}
				select {
				case <-j.stop:
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				h.log.WithError(err).WithField("conn", conn.ID()).Warn("чтение исходящего документа не удалось")
			}
			return
		}
	}
}

// OnData дописывает принятый кадр к документу.
func (h *Handler) OnData(conn *capi.Connection, frame []byte) {
	j, ok := conn.Payload().(*job)
	if !ok {
		return
	}
	n, err := j.file.Write(frame)
	j.written += int64(n)
	if err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Warn("запись документа не удалась")
	}
}

// OnCode тоновые символы в факсовой сессии не используются.
func (h *Handler) OnCode(conn *capi.Connection, code byte) {
	h.log.WithFields(logrus.Fields{"conn": conn.ID(), "tone": string(code)}).Debug("тон в факсовой сессии проигнорирован")
}

// OnClean завершает документ и уведомляет о приеме.
func (h *Handler) OnClean(conn *capi.Connection) {
	j, ok := conn.Payload().(*job)
	if !ok {
		return
	}
	close(j.stop)

	path := j.file.Name()
	if err := j.file.Close(); err != nil {
		h.log.WithError(err).WithField("conn", conn.ID()).Warn("закрытие документа не удалось")
	}

	if j.written == 0 {
		// пустой прием не представляет интереса
		os.Remove(path)
	} else if h.OnComplete != nil {
		h.OnComplete(conn, path, j.written)
	}

	h.log.WithFields(logrus.Fields{
		"conn":     conn.ID(),
		"document": path,
		"bytes":    j.written,
		"duration": time.Since(j.started).Round(time.Second).String(),
	}).Info("факсовая сессия завершена")
	conn.SetPayload(nil)
}

// EarlyMedia факсу раннее медиа не требуется.
func (h *Handler) EarlyMedia() bool { return false }
