package udpio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return conn
}

func TestReadWriteBatchRoundTrip(t *testing.T) {
	serverConn := listenUDP(t)
	defer serverConn.Close()
	clientConn := listenUDP(t)
	defer clientConn.Close()

	server := NewTransport(serverConn)
	client := NewTransport(clientConn)

	n, err := client.WriteBatch([]Packet{{Data: []byte("hello"), Addr: server.LocalAddr()}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out := make([]Packet, 4)
	got, err := server.ReadBatch(out)
	require.NoError(t, err)
	require.Equal(t, 1, got)
	require.Equal(t, "hello", string(out[0].Data))
}

func TestIsIPv6Detection(t *testing.T) {
	conn := listenUDP(t)
	defer conn.Close()
	require.False(t, isIPv6(conn))
}
