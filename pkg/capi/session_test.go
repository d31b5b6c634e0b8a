package capi_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_phone/pkg/capi"
	"github.com/arzzra/isdn_phone/pkg/capi/mocktransport"
)

// eventRecorder накапливает уведомления движка для проверок.
type eventRecorder struct {
	mu           sync.Mutex
	ringing      int
	connected    int
	disconnected int
	statuses     []uint16
	titles       []string
	lastReason   uint16
}

func (r *eventRecorder) OnRinging(conn *capi.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ringing++
}

func (r *eventRecorder) OnConnected(conn *capi.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *eventRecorder) OnDisconnected(conn *capi.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
	r.lastReason = conn.DisconnectReason()
}

func (r *eventRecorder) OnStatus(code uint16, conn *capi.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, code)
}

func (r *eventRecorder) OnMessage(title, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
}

func (r *eventRecorder) counts() (ringing, connected, disconnected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ringing, r.connected, r.disconnected
}

// stubHandler обработчик типа сессии для тестов.
type stubHandler struct {
	mu      sync.Mutex
	early   bool
	initErr error
	inits   int
	cleans  int
	frames  [][]byte
	codes   []byte
}

func (h *stubHandler) OnInit(conn *capi.Connection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
	if h.initErr != nil {
		return h.initErr
	}
	conn.SetPayload(h)
	return nil
}

func (h *stubHandler) OnData(conn *capi.Connection, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, append([]byte(nil), frame...))
}

func (h *stubHandler) OnCode(conn *capi.Connection, code byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.codes = append(h.codes, code)
}

func (h *stubHandler) OnClean(conn *capi.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleans++
}

func (h *stubHandler) EarlyMedia() bool { return h.early }

func (h *stubHandler) cleanCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cleans
}

func (h *stubHandler) codeList() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.codes...)
}

func testConfig() *capi.Config {
	cfg := capi.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.Logging.Level = "error"
	return cfg
}

// newTestSession собирает открытую сессию на заданном транспорте.
func newTestSession(t *testing.T, cfg *capi.Config, tr *mocktransport.Transport, phone, fax *stubHandler) (*capi.Session, *eventRecorder) {
	t.Helper()

	rec := &eventRecorder{}
	handlers := map[capi.SessionType]capi.Handler{}
	if phone != nil {
		handlers[capi.SessionPhone] = phone
	}
	if fax != nil {
		handlers[capi.SessionFax] = fax
	}

	session, err := capi.NewSession(cfg, tr, capi.Options{
		Events:   rec,
		Handlers: handlers,
	})
	require.NoError(t, err)
	require.NoError(t, session.Open())
	t.Cleanup(func() { session.Close(true) })
	return session, rec
}

func waitState(t *testing.T, conn *capi.Connection, want capi.State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want },
		2*time.Second, 10*time.Millisecond, "ожидалось состояние %s", want)
}

// TestSessionOpenSubscribes открытие сессии регистрируется и подписывается
// на индикации контроллера
func TestSessionOpenSubscribes(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond
	_, _ = newTestSession(t, testConfig(), tr, &stubHandler{}, nil)

	listens := tr.SentByCommand(capi.CmdListen, capi.SubcommandReq)
	require.Len(t, listens, 1)
	assert.NotZero(t, listens[0].Number, "запрос несет номер сообщения")
}

// TestSessionOpenRegisterRejected отказ регистрации фатален для открытия
func TestSessionOpenRegisterRejected(t *testing.T) {
	tr := mocktransport.New()
	tr.FailRegister(capi.ErrNotInstalled)

	session, err := capi.NewSession(testConfig(), tr, capi.Options{})
	require.NoError(t, err)

	err = session.Open()
	require.Error(t, err)
	assert.Equal(t, capi.ErrorCodeNotInstalled, capi.CodeOf(err))
	assert.False(t, session.Active())
}

// TestOutboundCallLifecycle полный жизненный цикл исходящего вызова:
// размещение, привязка сигнального плеча, активация медиаканала, разговор,
// активный разрыв и освобождение слота
func TestOutboundCallLifecycle(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type:   capi.SessionPhone,
		Source: "100",
		Target: "0123456789",
	})
	require.NoError(t, err)
	require.NotNil(t, conn)

	waitState(t, conn, capi.StateConnected)
	assert.Equal(t, uint32(7), conn.SignalingLeg(), "первое выделенное плечо эмуляции")
	assert.NotZero(t, conn.MediaChannel())
	assert.False(t, conn.ConnectTime().IsZero())

	require.Eventually(t, func() bool {
		_, connected, _ := rec.counts()
		return connected == 1
	}, 2*time.Second, 10*time.Millisecond)

	// тон и текст проходят при активном канале
	require.NoError(t, session.SendDTMF(conn, '5'))
	require.NoError(t, session.SendText(conn, "привет"))

	require.NoError(t, session.HangUp(conn))

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1 && session.Table().ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, phone.cleanCount(), "очистка выполняется ровно один раз")

	// разборка начиналась с медиаканала
	require.NotEmpty(t, tr.SentByCommand(capi.CmdDisconnectB3, capi.SubcommandReq))
	require.NotEmpty(t, tr.SentByCommand(capi.CmdDisconnect, capi.SubcommandReq))
}

// TestInboundCallAccept входящий вызов: предложение, сигнал вызова, прием
// с ответом, несущим номер сообщения индикации
func TestInboundCallAccept(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	tr.Deliver(1, mocktransport.Offer(5, 77, 16, "0987654321", "100"))

	require.Eventually(t, func() bool {
		ringing, _, _ := rec.counts()
		return ringing == 1
	}, 2*time.Second, 10*time.Millisecond)

	occupied := session.Table().Occupied()
	require.Len(t, occupied, 1)
	conn := occupied[0]
	assert.Equal(t, capi.StateRinging, conn.State())
	assert.Equal(t, "0987654321", conn.Source())
	assert.Equal(t, capi.SessionNone, conn.Type(), "тип назначается только при приеме")

	require.NoError(t, session.AcceptCall(conn, capi.SessionPhone))
	waitState(t, conn, capi.StateConnected)

	resps := tr.SentByCommand(capi.CmdConnect, capi.SubcommandResp)
	require.NotEmpty(t, resps)
	assert.Equal(t, uint16(77), resps[0].Number, "ответ несет номер сообщения индикации")
	assert.Equal(t, uint16(0), resps[0].RejectReason)
}

// TestInboundUnacceptableCIP необслуживаемый класс услуги игнорируется без
// выделения слота
func TestInboundUnacceptableCIP(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	session, rec := newTestSession(t, testConfig(), tr, &stubHandler{}, nil)

	tr.Deliver(1, mocktransport.Offer(5, 10, 2, "0987654321", "100"))

	require.Eventually(t, func() bool {
		return len(tr.SentByCommand(capi.CmdConnect, capi.SubcommandResp)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp := tr.SentByCommand(capi.CmdConnect, capi.SubcommandResp)[0]
	assert.Equal(t, uint16(1), resp.RejectReason, "игнорирование, не отклонение")
	assert.Zero(t, session.Table().ActiveCount())

	ringing, _, _ := rec.counts()
	assert.Zero(t, ringing)
}

// TestInboundNoCapacity при исчерпании таблицы входящий вызов отклоняется
func TestInboundNoCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1

	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, _ := newTestSession(t, cfg, tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	tr.Deliver(1, mocktransport.Offer(99, 10, 16, "0987654321", "100"))

	require.Eventually(t, func() bool {
		for _, m := range tr.SentByCommand(capi.CmdConnect, capi.SubcommandResp) {
			if m.RejectReason == 3 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "ожидалось отклонение вызова")

	// второй исходящий тоже упирается в ёмкость
	_, err = session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "300",
	})
	require.Error(t, err)
	assert.Equal(t, capi.ErrorCodeNoCapacity, capi.CodeOf(err))
}

// TestAcceptCallNotRinging прием допустим только из Ringing
func TestAcceptCallNotRinging(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	err = session.AcceptCall(conn, capi.SessionPhone)
	require.Error(t, err)
	assert.Equal(t, capi.ErrorCodeNotRinging, capi.CodeOf(err))
}

// TestHangUpIdleNoop разрыв по нулевой или устаревшей ссылке ничего не делает
func TestHangUpIdleNoop(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	session, _ := newTestSession(t, testConfig(), tr, &stubHandler{}, nil)
	tr.Reset()

	require.NoError(t, session.HangUp(nil))
	assert.Empty(t, tr.Sent(), "нет ссылки - нет запросов")
}

// TestPlaceCallValidation проверка аргументов размещения вызова
func TestPlaceCallValidation(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	session, _ := newTestSession(t, testConfig(), tr, &stubHandler{}, nil)

	_, err := session.PlaceCall(capi.CallParams{Type: capi.SessionPhone, Source: "100"})
	assert.Equal(t, capi.ErrorCodeInvalidNumber, capi.CodeOf(err))

	_, err = session.PlaceCall(capi.CallParams{Type: capi.SessionPhone, Target: "200"})
	assert.Equal(t, capi.ErrorCodeInvalidNumber, capi.CodeOf(err))

	// обработчик факса не зарегистрирован
	_, err = session.PlaceCall(capi.CallParams{
		Type: capi.SessionFax, Source: "100", Target: "200",
	})
	assert.Equal(t, capi.ErrorCodeUnsupportedSessionType, capi.CodeOf(err))
	assert.Zero(t, session.Table().ActiveCount(), "слот неудавшегося размещения освобожден")
}

// TestToneCodeFilter к обработчику проходят только цифры, '#' и '*'
func TestToneCodeFilter(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	ncci := conn.MediaChannel()
	for _, code := range []byte{'5', 'A', '#', 0x00, '*', 0xFF, '0'} {
		tr.Deliver(1, &capi.Message{
			Command:          capi.CmdFacility,
			Subcommand:       capi.SubcommandInd,
			NCCI:             ncci,
			FacilitySelector: 0x0001,
			FacilityParams:   []byte{0x01, code},
		})
	}

	require.Eventually(t, func() bool {
		return len(phone.codeList()) == 4
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []byte{'5', '#', '*', '0'}, phone.codeList())
}

// TestFlowControlWindow окно неподтвержденных кадров ограничивает отправку
func TestFlowControlWindow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDataFrames = 2

	tr := mocktransport.New()
	responder := mocktransport.NewResponder()
	// кадры данных не подтверждаются, окно не опустошается
	tr.OnSend = func(msg *capi.Message) []*capi.Message {
		if msg.Command == capi.CmdDataB3 && msg.Subcommand == capi.SubcommandReq {
			return nil
		}
		return responder.Respond(msg)
	}

	phone := &stubHandler{}
	session, _ := newTestSession(t, cfg, tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	frame := []byte{0xD5, 0xD5, 0xD5}
	require.NoError(t, session.SendFrame(conn, frame))
	require.NoError(t, session.SendFrame(conn, frame))

	err = session.SendFrame(conn, frame)
	require.Error(t, err)
	assert.Equal(t, capi.ErrorCodeFlowControl, capi.CodeOf(err))

	// подтверждение кадра открывает окно
	sent := tr.SentByCommand(capi.CmdDataB3, capi.SubcommandReq)
	require.Len(t, sent, 2)
	tr.Deliver(1, &capi.Message{
		Command:    capi.CmdDataB3,
		Subcommand: capi.SubcommandConf,
		NCCI:       conn.MediaChannel(),
		DataHandle: sent[0].DataHandle,
	})

	require.Eventually(t, func() bool {
		return session.SendFrame(conn, frame) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

// TestInboundDataAck принятый кадр передается обработчику и подтверждается
func TestInboundDataAck(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	tr.Deliver(1, &capi.Message{
		Command:    capi.CmdDataB3,
		Subcommand: capi.SubcommandInd,
		NCCI:       conn.MediaChannel(),
		Data:       []byte{1, 2, 3},
		DataHandle: 9,
	})

	require.Eventually(t, func() bool {
		phone.mu.Lock()
		defer phone.mu.Unlock()
		return len(phone.frames) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, m := range tr.SentByCommand(capi.CmdDataB3, capi.SubcommandResp) {
			if m.DataHandle == 9 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "подтверждение кадра несет его дескриптор")
}

// TestOnInitFailureDropsCall ошибка инициализации полезной нагрузки разрывает
// вызов с уведомлением пользователя
func TestOnInitFailureDropsCall(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{initErr: errors.New("устройство занято")}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	_, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	titles := append([]string(nil), rec.titles...)
	rec.mu.Unlock()
	require.NotEmpty(t, titles)
	assert.Equal(t, "Ошибка устройства", titles[0])
	assert.Zero(t, session.Table().ActiveCount())
}

// TestTransportRecovery неисправность очереди пересоздает регистрацию,
// живые вызовы освобождаются с уведомлением
func TestTransportRecovery(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	tr.InjectPollFault()

	require.Eventually(t, func() bool {
		return len(tr.SentByCommand(capi.CmdListen, capi.SubcommandReq)) == 2
	}, 2*time.Second, 10*time.Millisecond, "ожидалась повторная подписка")

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, session.Table().ActiveCount())
	assert.Equal(t, 1, phone.cleanCount())

	// сессия остается рабочей после восстановления
	conn2, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "300",
	})
	require.NoError(t, err)
	waitState(t, conn2, capi.StateConnected)
}

// TestSessionCloseHangsUp закрытие сессии завершает активные вызовы и
// блокирует дальнейшие операции
func TestSessionCloseHangsUp(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	require.NoError(t, session.Close(false))
	assert.False(t, session.Active())
	require.NotEmpty(t, tr.SentByCommand(capi.CmdDisconnectB3, capi.SubcommandReq))

	_, err = session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "300",
	})
	assert.Equal(t, capi.ErrorCodeSessionClosed, capi.CodeOf(err))
}

// TestEarlyMediaRequestsChannelOnProgress при включенном раннем медиа
// индикатор прохождения вызова запускает досрочный запрос B-канала
func TestEarlyMediaRequestsChannelOnProgress(t *testing.T) {
	tr := mocktransport.New()
	// только подтверждение размещения; дальнейший сценарий вручную
	tr.OnSend = func(msg *capi.Message) []*capi.Message {
		if msg.Command == capi.CmdConnect && msg.Subcommand == capi.SubcommandReq {
			return []*capi.Message{{
				Command:    capi.CmdConnect,
				Subcommand: capi.SubcommandConf,
				Number:     msg.Number,
				PLCI:       7,
			}}
		}
		return nil
	}

	phone := &stubHandler{early: true}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnectWait)

	tr.Deliver(1, &capi.Message{
		Command:     capi.CmdInfo,
		Subcommand:  capi.SubcommandInd,
		PLCI:        7,
		InfoNumber:  0x001E,
		InfoElement: []byte{0x88},
	})

	waitState(t, conn, capi.StateConnectActive)
	require.Eventually(t, func() bool {
		return len(tr.SentByCommand(capi.CmdConnectB3, capi.SubcommandReq)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestInfoDisconnectCause код причины разрыва в INFO инициирует завершение
// вызова
func TestInfoDisconnectCause(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)

	tr.Deliver(1, &capi.Message{
		Command:     capi.CmdInfo,
		Subcommand:  capi.SubcommandInd,
		PLCI:        conn.SignalingLeg(),
		InfoNumber:  0x8045,
		InfoElement: []byte{0x90},
	})

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, session.Table().ActiveCount())
}

// TestRecoveryReleasesUnconfirmedPlacement восстановление освобождает и те
// слоты, чье размещение контроллер так и не подтвердил: ёмкость возвращается,
// приложение уведомляется
func TestRecoveryReleasesUnconfirmedPlacement(t *testing.T) {
	tr := mocktransport.New()
	responder := mocktransport.NewResponder()
	// контроллер молчит на размещение: слот остается без сигнального плеча
	tr.OnSend = func(msg *capi.Message) []*capi.Message {
		if msg.Command == capi.CmdConnect && msg.Subcommand == capi.SubcommandReq {
			return nil
		}
		return responder.Respond(msg)
	}

	cfg := testConfig()
	cfg.MaxConnections = 1

	phone := &stubHandler{}
	session, rec := newTestSession(t, cfg, tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	require.Zero(t, conn.SignalingLeg())

	tr.InjectPollFault()

	require.Eventually(t, func() bool {
		return len(tr.SentByCommand(capi.CmdListen, capi.SubcommandReq)) == 2
	}, 2*time.Second, 10*time.Millisecond, "ожидалась повторная подписка")

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond, "неподтвержденное размещение уведомляется")

	// единственный слот снова доступен
	conn2, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "300",
	})
	require.NoError(t, err)
	require.NotNil(t, conn2)
}

// TestHangUpMediaDisconnectFallback отклоненный транспортом запрос разрыва
// медиаканала не оставляет вызов висеть: сразу рвется сигнальное плечо
func TestHangUpMediaDisconnectFallback(t *testing.T) {
	tr := mocktransport.New()
	tr.OnSend = mocktransport.NewResponder().Respond

	phone := &stubHandler{}
	session, rec := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnected)
	require.Eventually(t, func() bool {
		_, connected, _ := rec.counts()
		return connected == 1
	}, 2*time.Second, 10*time.Millisecond)

	tr.FailNextSend(errors.New("шина занята"))
	require.NoError(t, session.HangUp(conn))

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1 && session.Table().ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// разрыв медиаканала не дошел, разборку выполнило сигнальное плечо
	assert.Empty(t, tr.SentByCommand(capi.CmdDisconnectB3, capi.SubcommandReq))
	require.NotEmpty(t, tr.SentByCommand(capi.CmdDisconnect, capi.SubcommandReq))
}

// TestConnectB3ActiveUnexpectedState активация медиаканала в недопустимом
// состоянии сигнального плеча не привязывает идентификатор канала, а
// разрывает вызов
func TestConnectB3ActiveUnexpectedState(t *testing.T) {
	tr := mocktransport.New()
	// только подтверждение размещения; дальнейший сценарий вручную
	tr.OnSend = func(msg *capi.Message) []*capi.Message {
		if msg.Command == capi.CmdConnect && msg.Subcommand == capi.SubcommandReq {
			return []*capi.Message{{
				Command:    capi.CmdConnect,
				Subcommand: capi.SubcommandConf,
				Number:     msg.Number,
				PLCI:       7,
			}}
		}
		return nil
	}

	phone := &stubHandler{}
	session, _ := newTestSession(t, testConfig(), tr, phone, nil)

	conn, err := session.PlaceCall(capi.CallParams{
		Type: capi.SessionPhone, Source: "100", Target: "200",
	})
	require.NoError(t, err)
	waitState(t, conn, capi.StateConnectWait)

	tr.Deliver(1, &capi.Message{
		Command:    capi.CmdConnectB3Active,
		Subcommand: capi.SubcommandInd,
		NCCI:       7 | 0x10000,
	})

	waitState(t, conn, capi.StateDisconnectActive)
	assert.Zero(t, conn.MediaChannel(), "идентификатор канала не привязывается")
	require.NotEmpty(t, tr.SentByCommand(capi.CmdDisconnect, capi.SubcommandReq),
		"ожидался разрыв сигнального плеча")
}
