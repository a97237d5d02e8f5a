package tlshandle

import (
	"net"
	"time"
)

// bioConn adapts a BIOPair to net.Conn so the standard crypto/tls
// engine can run its handshake and record protocol over it exactly as
// it would over a real socket. crypto/tls is the only TLS engine
// available without cgo, and it has no BIO-pair entry point of its own
// — bioConn is the idiomatic Go stand-in for that seam (see DESIGN.md).
type bioConn struct {
	pair *BIOPair
}

func (c *bioConn) Read(b []byte) (int, error)  { return c.pair.readIn(b) }
func (c *bioConn) Write(b []byte) (int, error) { return c.pair.writeOut(b) }
func (c *bioConn) Close() error                { c.pair.Close(); return nil }

func (c *bioConn) LocalAddr() net.Addr  { return bioAddr{} }
func (c *bioConn) RemoteAddr() net.Addr { return bioAddr{} }

func (c *bioConn) SetDeadline(time.Time) error      { return nil }
func (c *bioConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bioConn) SetWriteDeadline(time.Time) error { return nil }

type bioAddr struct{}

func (bioAddr) Network() string { return "bio" }
func (bioAddr) String() string  { return "bio-pair" }
