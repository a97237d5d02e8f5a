package tlshandle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/antmuse/antnet/internal/reactor"
	"github.com/stretchr/testify/require"
)

func selfSignedConfig(t *testing.T) (*tls.Config, *tls.Config) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool.AddCert(leaf)

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{RootCAs: pool, ServerName: "localhost"}
	return serverCfg, clientCfg
}

func TestHandshakeAndDuplexRoundTrip(t *testing.T) {
	serverCfg, clientCfg := selfSignedConfig(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	loop := reactor.NewLoop()
	go loop.Run()
	defer loop.Stop()

	accepted := make(chan *reactor.Handle, 1)
	adesc := reactor.GetDescriptor()
	adesc.OnComplete(func(d *reactor.RequestDescriptor) {
		require.NoError(t, d.Err)
		accepted <- d.Handle
	})
	loop.Accept(ln, adesc)

	connected := make(chan *reactor.Handle, 1)
	cdesc := reactor.GetDescriptor()
	cdesc.OnComplete(func(d *reactor.RequestDescriptor) {
		require.NoError(t, d.Err)
		connected <- d.Handle
	})
	loop.Connect("tcp", ln.Addr().String(), cdesc)

	var serverTCP, clientTCP *reactor.Handle
	select {
	case serverTCP = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not complete")
	}
	select {
	case clientTCP = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not complete")
	}

	server := NewServerHandle(loop, serverTCP, serverCfg)
	client := NewClientHandle(loop, clientTCP, clientCfg)

	serverDone := make(chan error, 1)
	clientDone := make(chan error, 1)
	server.Handshake(func(err error) { serverDone <- err })
	client.Handshake(func(err error) { clientDone <- err })

	select {
	case err := <-serverDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server handshake did not complete")
	}
	select {
	case err := <-clientDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client handshake did not complete")
	}
	require.True(t, server.Ready())
	require.True(t, client.Ready())

	client.SetHost("localhost")
	require.NoError(t, client.Verify(VerifyHost))

	readDone := make(chan string, 1)
	rdesc := &reactor.RequestDescriptor{}
	rdesc.AllocPayload(64)
	rdesc.OnComplete(func(d *reactor.RequestDescriptor) {
		if d.Err != nil {
			readDone <- "err:" + d.Err.Error()
			return
		}
		readDone <- string(d.Payload[:d.Used])
	})
	server.Read(rdesc)

	wdesc := &reactor.RequestDescriptor{}
	wdesc.SetPayload([]byte("hello over tls"))
	wdesc.Used = len("hello over tls")
	writeDone := make(chan struct{})
	wdesc.OnComplete(func(d *reactor.RequestDescriptor) {
		require.NoError(t, d.Err)
		close(writeDone)
	})
	client.Write(wdesc)

	select {
	case <-writeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not complete")
	}
	select {
	case got := <-readDone:
		require.Equal(t, "hello over tls", got)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not complete")
	}
}

func TestReadOnClosedHandleFailsFast(t *testing.T) {
	loop := reactor.NewLoop()
	go loop.Run()
	defer loop.Stop()

	tcp := reactor.NewHandle(reactor.KindTCPConnect)
	h := NewClientHandle(loop, tcp, &tls.Config{InsecureSkipVerify: true})
	h.closed = true // simulate a handle that has already been closed

	done := make(chan struct{})
	desc := &reactor.RequestDescriptor{}
	desc.AllocPayload(16)
	desc.OnComplete(func(d *reactor.RequestDescriptor) {
		require.Error(t, d.Err)
		close(done)
	})
	h.Read(desc)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected immediate failure on closed handle")
	}
}
