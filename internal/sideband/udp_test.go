package sideband

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ernie/herald/internal/wire"
)

func TestUDPLoopback(t *testing.T) {
	recv, err := NewUDPReceiver("127.0.0.1:0", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer recv.Close()

	got := make(chan wire.Notice, 1)
	require.NoError(t, recv.Start(func(n wire.Notice) { got <- n }))

	send, err := NewUDPSender(recv.Addr().String())
	require.NoError(t, err)
	defer send.Close()

	want := wire.Notice{
		Action:     wire.ActionJoin,
		PlayerName: "Bob",
		PlayerID:   uuid.New(),
		Origin:     "survival",
	}
	require.NoError(t, send.Send(want))

	select {
	case n := <-got:
		assert.Equal(t, want, n)
	case <-time.After(2 * time.Second):
		t.Fatal("notice never arrived")
	}
}

func TestUDPReceiverDropsMalformed(t *testing.T) {
	recv, err := NewUDPReceiver("127.0.0.1:0", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer recv.Close()

	got := make(chan wire.Notice, 2)
	require.NoError(t, recv.Start(func(n wire.Notice) { got <- n }))

	conn, err := net.Dial("udp", recv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Garbage first, then a well-formed notice. Only the second lands.
	_, err = conn.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	want := wire.Notice{Action: wire.ActionLeave, PlayerName: "Carol", PlayerID: uuid.New(), Origin: "hub"}
	data, err := wire.Encode(want)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	select {
	case n := <-got:
		assert.Equal(t, want, n)
	case <-time.After(2 * time.Second):
		t.Fatal("valid notice never arrived")
	}
	assert.Empty(t, got)
}

func TestUDPReceiverDropsUnknownAction(t *testing.T) {
	recv, err := NewUDPReceiver("127.0.0.1:0", zap.NewNop().Sugar())
	require.NoError(t, err)
	defer recv.Close()

	got := make(chan wire.Notice, 1)
	require.NoError(t, recv.Start(func(n wire.Notice) { got <- n }))

	send, err := NewUDPSender(recv.Addr().String())
	require.NoError(t, err)
	defer send.Close()

	require.NoError(t, send.Send(wire.Notice{Action: "PLAYER_DANCE", PlayerName: "Bob"}))

	select {
	case <-got:
		t.Fatal("unknown action should have been dropped")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestUDPSenderRequiresAddress(t *testing.T) {
	_, err := NewUDPSender("")
	assert.Error(t, err)
}

func TestUDPReceiverRequiresAddress(t *testing.T) {
	_, err := NewUDPReceiver("", zap.NewNop().Sugar())
	assert.Error(t, err)
}
