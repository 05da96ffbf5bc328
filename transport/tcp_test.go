package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T, id string) *TCP {
	t.Helper()
	tr := NewTCP(id, "127.0.0.1:0", nil)
	require.NoError(t, tr.Listen())
	t.Cleanup(func() { tr.Close() })
	return tr
}

func waitPackets(t *testing.T, tr interface {
	Receive(time.Duration) []Packet
}, n int) []Packet {
	t.Helper()
	var got []Packet
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		got = append(got, tr.Receive(50*time.Millisecond)...)
	}
	require.Len(t, got, n)
	return got
}

func TestTCPSendReceive(t *testing.T) {
	a := listen(t, "a")
	b := listen(t, "b")

	require.NoError(t, a.Send("b", b.Addr(), []byte("ping")))
	got := waitPackets(t, b, 1)
	assert.Equal(t, Packet{From: "a", Data: []byte("ping")}, got[0])

	// b answers over the connection a opened, without an address
	require.Eventually(t, func() bool {
		_, ok := b.Registry().Conn("a")
		return ok
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, b.Send("a", "", []byte("pong")))
	got = waitPackets(t, a, 1)
	assert.Equal(t, Packet{From: "b", Data: []byte("pong")}, got[0])
}

func TestTCPDialLearnsIdentity(t *testing.T) {
	srv := listen(t, "server")
	cl := NewTCP("client", "", nil)
	defer cl.Close()

	id, err := cl.Dial(srv.Addr())
	require.NoError(t, err)
	assert.Equal(t, "server", id)
}

func TestTCPSendUnknownPeer(t *testing.T) {
	a := listen(t, "a")
	err := a.Send("ghost", "", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestTCPReceiveTimesOut(t *testing.T) {
	a := listen(t, "a")
	start := time.Now()
	assert.Empty(t, a.Receive(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Empty(t, a.Receive(0))
}

func TestTCPClosed(t *testing.T) {
	a := NewTCP("a", "127.0.0.1:0", nil)
	require.NoError(t, a.Listen())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send("b", "127.0.0.1:1", nil), ErrClosed)
	assert.Empty(t, a.Receive(10*time.Millisecond))
}

// silentListener accepts connections and never writes to them.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func TestTCPSendDoesNotWaitForSilentPeer(t *testing.T) {
	a := listen(t, "a")
	c := listen(t, "c")
	silent := silentListener(t)

	start := time.Now()
	for i := 0; i < outboxSize; i++ {
		_ = a.Send("b", silent, []byte("hb"))
	}
	require.NoError(t, a.Send("c", c.Addr(), []byte("hb")))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// other peers are not held up behind the stuck handshake
	got := waitPackets(t, c, 1)
	assert.Equal(t, Packet{From: "a", Data: []byte("hb")}, got[0])

	// the stuck peer's queue is bounded
	var err error
	for i := 0; i < 2 && err == nil; i++ {
		err = a.Send("b", silent, []byte("hb"))
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTCPReboundConnectionIsClosed(t *testing.T) {
	b := listen(t, "b")
	connect := func() net.Conn {
		conn, err := net.Dial("tcp", b.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, WriteFrame(conn, []byte("x")))
		id, err := ReadFrame(conn)
		require.NoError(t, err)
		require.Equal(t, "b", string(id))
		return conn
	}

	first := connect()
	require.Eventually(t, func() bool {
		_, ok := b.Registry().Conn("x")
		return ok
	}, time.Second, 10*time.Millisecond)
	second := connect()

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := ReadFrame(first)
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "first connection was left open")

	require.NoError(t, b.Send("x", "", []byte("hello")))
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := ReadFrame(second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, 1, b.Registry().Len())
}
