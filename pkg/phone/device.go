package phone

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrStreamClosed чтение или запись после закрытия потока.
var ErrStreamClosed = errors.New("phone: stream closed")

// alawSilence байт тишины A-law.
const alawSilence = 0xD5

// ToneDevice программное аудиоустройство: вместо микрофона генерирует
// синусоидальный тон, воспроизведение отбрасывает. Используется в тестах и
// демонстрационном сценарии, где аппаратного устройства нет.
type ToneDevice struct {
	// Freq частота тона в герцах; 0 — тишина
	Freq float64
	// FrameDuration длительность одного кадра
	FrameDuration time.Duration
}

// Open создает поток с собственным фазовым состоянием.
func (d *ToneDevice) Open(sampleRate, channels int) (Stream, error) {
	dur := d.FrameDuration
	if dur <= 0 {
		dur = 20 * time.Millisecond
	}
	samples := int(float64(sampleRate) * dur.Seconds())
	return &toneStream{
		freq:       d.Freq,
		sampleRate: sampleRate,
		samples:    samples * channels,
		interval:   dur,
		closed:     make(chan struct{}),
	}, nil
}

type toneStream struct {
	freq       float64
	sampleRate int
	samples    int
	interval   time.Duration
	phase      float64

	mu       sync.Mutex
	played   int
	recorded int
	closed   chan struct{}
}

// Play отбрасывает кадр, подсчитывая принятые байты.
func (s *toneStream) Play(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	s.played += len(frame)
	return nil
}

// Record возвращает очередной кадр тона в темпе реального времени.
func (s *toneStream) Record() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	case <-time.After(s.interval):
	}

	frame := make([]byte, s.samples)
	if s.freq == 0 {
		for i := range frame {
			frame[i] = alawSilence
		}
	} else {
		step := 2 * math.Pi * s.freq / float64(s.sampleRate)
		for i := range frame {
			frame[i] = alawEncode(math.Sin(s.phase))
			s.phase += step
		}
	}

	s.mu.Lock()
	s.recorded += len(frame)
	s.mu.Unlock()
	return frame, nil
}

// Close прерывает зависшие Record и Play.
func (s *toneStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// alawEncode кодирует нормированную выборку [-1, 1] в байт A-law (G.711).
func alawEncode(sample float64) byte {
	pcm := int16(sample * 0x7FFF)

	sign := byte(0x80)
	if pcm < 0 {
		sign = 0
		pcm = -pcm
	}

	var compressed byte
	if pcm < 256 {
		compressed = byte(pcm >> 4)
	} else {
		exp := byte(7)
		for mask := int16(0x4000); mask != 0 && pcm&mask == 0; mask >>= 1 {
			exp--
		}
		mantissa := byte((pcm >> (exp + 3)) & 0x0F)
		compressed = (exp << 4) | mantissa
	}
	return (compressed ^ 0x55) | sign
}
