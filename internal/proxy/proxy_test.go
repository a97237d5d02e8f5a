package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/antmuse/antnet/internal/reactor"
	"github.com/stretchr/testify/require"
)

func TestProxySplicesBothDirections(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backendLn.Close()

	backendGreeting := "backend hello"
	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		require.Equal(t, "client hello", string(buf[:n]))
		_, _ = conn.Write([]byte(backendGreeting))
	}()

	frontendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer frontendLn.Close()

	loop := reactor.NewLoop()
	go loop.Run()
	defer loop.Stop()

	frontendAccepted := make(chan *reactor.Handle, 1)
	adesc := reactor.GetDescriptor()
	adesc.OnComplete(func(d *reactor.RequestDescriptor) {
		require.NoError(t, d.Err)
		frontendAccepted <- d.Handle
	})
	loop.Accept(frontendLn, adesc)

	clientConn, err := net.Dial("tcp", frontendLn.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	var frontend *reactor.Handle
	select {
	case frontend = <-frontendAccepted:
	case <-time.After(2 * time.Second):
		t.Fatal("frontend accept did not complete")
	}

	p := NewProxy(loop, frontend, 0)
	p.Start("tcp", backendLn.Addr().String())

	_, err = clientConn.Write([]byte("client hello"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, backendGreeting, string(buf[:n]))
}

func TestProxyClosesBothLegsOnce(t *testing.T) {
	loop := reactor.NewLoop()
	go loop.Run()
	defer loop.Stop()

	frontend := reactor.NewHandle(reactor.KindTCPAccept)
	p := NewProxy(loop, frontend, 0)

	closed := make(chan struct{}, 2)
	p.OnClose(func() { closed <- struct{}{} })

	p.Close()
	p.Close()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected OnClose to fire")
	}
	select {
	case <-closed:
		t.Fatal("OnClose fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}
