package phone_test

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/isdn_phone/pkg/capi"
	"github.com/arzzra/isdn_phone/pkg/phone"
)

// fakeStream аудиопоток в памяти для тестов.
type fakeStream struct {
	mu       sync.Mutex
	played   [][]byte
	outbox   [][]byte
	closed   bool
	closedCh chan struct{}
}

func (s *fakeStream) Play(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return phone.ErrStreamClosed
	}
	s.played = append(s.played, append([]byte(nil), frame...))
	return nil
}

func (s *fakeStream) Record() ([]byte, error) {
	s.mu.Lock()
	if len(s.outbox) > 0 {
		frame := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.mu.Unlock()
		return frame, nil
	}
	s.mu.Unlock()
	// кадры кончились: ждем закрытия, как настоящее устройство
	<-s.closedCh
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closedCh)
	}
	return nil
}

func (s *fakeStream) playedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

// fakeDevice устройство, выдающее заранее подготовленный поток.
type fakeDevice struct {
	stream  *fakeStream
	openErr error
}

func (d *fakeDevice) Open(sampleRate, channels int) (phone.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConn(t *testing.T) *capi.Connection {
	t.Helper()
	tbl := capi.NewConnectionTable(1, quietLogger().WithField("component", "table"))
	conn := tbl.Allocate()
	require.NotNil(t, conn)
	return conn
}

// TestHandlerPlayback принятые кадры воспроизводятся в открытый поток
func TestHandlerPlayback(t *testing.T) {
	stream := &fakeStream{closedCh: make(chan struct{})}
	h := phone.NewHandler(&fakeDevice{stream: stream}, phone.DefaultConfig(), quietLogger())

	conn := testConn(t)
	require.NoError(t, h.OnInit(conn))
	require.NotNil(t, conn.Payload())

	h.OnData(conn, []byte{0xD5, 0xD5})
	h.OnData(conn, []byte{0xD5})
	assert.Equal(t, 2, stream.playedFrames())

	h.OnClean(conn)
	assert.True(t, stream.closed)
	assert.Nil(t, conn.Payload())
}

// TestHandlerOpenFailure ошибка устройства типизирована и не оставляет
// полезной нагрузки
func TestHandlerOpenFailure(t *testing.T) {
	h := phone.NewHandler(&fakeDevice{openErr: errors.New("busy")}, phone.DefaultConfig(), quietLogger())

	conn := testConn(t)
	err := h.OnInit(conn)
	require.Error(t, err)
	assert.Equal(t, capi.ErrorCodeAudioOpenFailed, capi.CodeOf(err))
	assert.Nil(t, conn.Payload())
}

// TestHandlerTransmit кадры устройства передаются через функцию отправки
func TestHandlerTransmit(t *testing.T) {
	stream := &fakeStream{
		closedCh: make(chan struct{}),
		outbox:   [][]byte{{1}, {2}, {3}},
	}
	h := phone.NewHandler(&fakeDevice{stream: stream}, phone.DefaultConfig(), quietLogger())

	var mu sync.Mutex
	var sent [][]byte
	h.Send = func(conn *capi.Connection, frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, frame)
		return nil
	}

	conn := testConn(t)
	require.NoError(t, h.OnInit(conn))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 3
	}, 2*time.Second, 10*time.Millisecond)

	h.OnClean(conn)
}

// TestHandlerTones тоны пробрасываются в колбэк приложения
func TestHandlerTones(t *testing.T) {
	stream := &fakeStream{closedCh: make(chan struct{})}
	h := phone.NewHandler(&fakeDevice{stream: stream}, phone.DefaultConfig(), quietLogger())

	var tones []byte
	h.OnTone = func(conn *capi.Connection, code byte) { tones = append(tones, code) }

	conn := testConn(t)
	require.NoError(t, h.OnInit(conn))
	h.OnCode(conn, '5')
	h.OnCode(conn, '#')
	assert.Equal(t, []byte{'5', '#'}, tones)
	h.OnClean(conn)
}

// TestHandlerEarlyMedia телефонному вызову нужно раннее медиа
func TestHandlerEarlyMedia(t *testing.T) {
	h := phone.NewHandler(&fakeDevice{}, phone.DefaultConfig(), quietLogger())
	assert.True(t, h.EarlyMedia())
}

// TestToneDevice программное устройство выдает кадры в темпе реального
// времени и кодирует тон в A-law
func TestToneDevice(t *testing.T) {
	dev := &phone.ToneDevice{Freq: 425, FrameDuration: 5 * time.Millisecond}
	stream, err := dev.Open(8000, 1)
	require.NoError(t, err)

	rec, ok := stream.(phone.Recorder)
	require.True(t, ok, "программный поток умеет запись")

	frame, err := rec.Record()
	require.NoError(t, err)
	assert.Len(t, frame, 40, "5 мс при 8 кГц")

	require.NoError(t, stream.Close())
	_, err = rec.Record()
	assert.ErrorIs(t, err, phone.ErrStreamClosed)
}
