package capi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStateStrings проверяет имена состояний
func TestStateStrings(t *testing.T) {
	names := map[State]string{
		StateIdle:             "Idle",
		StateRinging:          "Ringing",
		StateConnectWait:      "ConnectWait",
		StateIncomingWait:     "IncomingWait",
		StateConnectActive:    "ConnectActive",
		StateConnectB3Wait:    "ConnectB3Wait",
		StateConnected:        "Connected",
		StateDisconnectB3Req:  "DisconnectB3Req",
		StateDisconnectB3Wait: "DisconnectB3Wait",
		StateDisconnectActive: "DisconnectActive",
	}
	for state, want := range names {
		assert.Equal(t, want, state.String())
	}
}

// TestStateTransitions проверяет матрицу допустимых переходов
func TestStateTransitions(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"исходящий вызов размещен", StateIdle, StateConnectWait, true},
		{"входящий вызов предложен", StateIdle, StateRinging, true},
		{"входящий вызов принят", StateRinging, StateIncomingWait, true},
		{"входящий вызов отклонен", StateRinging, StateIdle, true},
		{"сигнальное плечо активно", StateConnectWait, StateConnectActive, true},
		{"канал запрошен", StateConnectActive, StateConnectB3Wait, true},
		{"канал активен", StateConnectB3Wait, StateConnected, true},
		{"активный разрыв канала", StateConnected, StateDisconnectB3Req, true},
		{"разрыв канала подтвержден", StateDisconnectB3Req, StateDisconnectB3Wait, true},
		{"разрыв сигнального плеча", StateDisconnectB3Wait, StateDisconnectActive, true},
		{"вызов завершен", StateDisconnectActive, StateIdle, true},

		{"канал без активации плеча", StateConnectWait, StateConnectB3Wait, false},
		{"разговор без канала", StateConnectActive, StateConnected, false},
		{"предложение занятому слоту", StateConnected, StateRinging, false},
		{"возврат из разборки", StateDisconnectActive, StateConnected, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to),
				"%s -> %s", tc.from, tc.to)
		})
	}
}

// TestStateClearFromAnywhere индикация разрыва сигнального плеча может прийти
// в любой момент: переход в Idle допустим из любого состояния
func TestStateClearFromAnywhere(t *testing.T) {
	for s := StateIdle; s <= StateDisconnectActive; s++ {
		assert.True(t, s.CanTransitionTo(StateIdle), "%s -> Idle", s)
	}
}

// TestStateMediaChannel проверяет, в каких состояниях допустим привязанный
// медиаканал
func TestStateMediaChannel(t *testing.T) {
	withMedia := map[State]bool{
		StateConnectB3Wait:    true,
		StateConnected:        true,
		StateDisconnectB3Req:  true,
		StateDisconnectB3Wait: true,
	}
	for s := StateIdle; s <= StateDisconnectActive; s++ {
		assert.Equal(t, withMedia[s], s.HasMediaChannel(), "%s", s)
	}
}

// TestConnectionFSM проверяет, что автомат соединения следует матрице
// переходов
func TestConnectionFSM(t *testing.T) {
	c := &Connection{machine: newConnectionFSM()}
	require.Equal(t, StateIdle, c.State())

	require.NoError(t, c.fire(eventDial))
	require.Equal(t, StateConnectWait, c.State())

	require.NoError(t, c.fire(eventProceed))
	require.Equal(t, StateConnectActive, c.State())

	require.NoError(t, c.fire(eventChannelUp))
	require.Equal(t, StateConnectB3Wait, c.State())

	require.NoError(t, c.fire(eventEstablished))
	require.Equal(t, StateConnected, c.State())

	// недопустимое событие не меняет состояние
	require.Error(t, c.fire(eventPickup))
	require.Equal(t, StateConnected, c.State())

	require.NoError(t, c.fire(eventDropChannel))
	require.NoError(t, c.fire(eventChannelDown))
	require.NoError(t, c.fire(eventDrop))
	require.Equal(t, StateDisconnectActive, c.State())

	require.NoError(t, c.fire(eventClear))
	require.Equal(t, StateIdle, c.State())
}
