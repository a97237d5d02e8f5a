// Package udpio is the batched UDP packet transport backing the
// reliable-UDP engine's listener: several datagrams move per syscall
// via golang.org/x/net's batch extensions where the OS supports them
// (Linux), falling back to one-at-a-time ReadFrom/WriteTo elsewhere.
package udpio

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/antmuse/antnet"
)

const maxBatch = 32
const maxDatagram = 65535

// batchConn is the common ReadBatch/WriteBatch surface ipv4.PacketConn
// and ipv6.PacketConn both expose — golang.org/x/net/ipv4.Message and
// ipv6.Message are the same underlying type — letting Transport treat
// an IPv4 and an IPv6 socket identically.
type batchConn interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// Packet is one datagram read off, or to be written to, the wire.
type Packet struct {
	Data []byte
	Addr net.Addr
}

// Transport wraps a bound UDP socket with batched read/write. Once a
// batch call fails (typically ENOSYS/EOPNOTSUPP on a non-Linux OS),
// Transport permanently falls back to unbatched syscalls rather than
// retrying the batch path on every call.
type Transport struct {
	conn  *net.UDPConn
	batch batchConn

	scratch []ipv4.Message
	batchOK bool
}

// NewTransport wraps an already-bound UDP socket, selecting the ipv4
// or ipv6 batch conn by the local address family.
func NewTransport(conn *net.UDPConn) *Transport {
	t := &Transport{conn: conn, batchOK: true}
	t.scratch = make([]ipv4.Message, maxBatch)
	for i := range t.scratch {
		t.scratch[i].Buffers = [][]byte{make([]byte, maxDatagram)}
	}
	if isIPv6(conn) {
		t.batch = ipv6.NewPacketConn(conn)
	} else {
		t.batch = ipv4.NewPacketConn(conn)
	}
	return t
}

func isIPv6(conn *net.UDPConn) bool {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	return ok && addr.IP != nil && addr.IP.To4() == nil
}

// ReadBatch reads up to len(out) datagrams. Each out[i].Data slices
// into Transport's internal scratch buffers and is only valid until
// the next ReadBatch call; callers that need to retain it must copy.
func (t *Transport) ReadBatch(out []Packet) (int, error) {
	n := len(out)
	if n > len(t.scratch) {
		n = len(t.scratch)
	}
	if t.batchOK {
		got, err := t.batch.ReadBatch(t.scratch[:n], 0)
		if err == nil {
			for i := 0; i < got; i++ {
				out[i].Data = t.scratch[i].Buffers[0][:t.scratch[i].N]
				out[i].Addr = t.scratch[i].Addr
			}
			return got, nil
		}
		t.batchOK = false
	}
	buf := t.scratch[0].Buffers[0]
	size, addr, err := t.conn.ReadFrom(buf)
	if err != nil {
		return 0, antnet.WrapError("udpio.ReadBatch", err)
	}
	out[0].Data = buf[:size]
	out[0].Addr = addr
	return 1, nil
}

// WriteBatch writes one datagram per entry in pkts, returning how many
// were sent before any error.
func (t *Transport) WriteBatch(pkts []Packet) (int, error) {
	if t.batchOK {
		msgs := make([]ipv4.Message, len(pkts))
		for i, p := range pkts {
			msgs[i].Buffers = [][]byte{p.Data}
			msgs[i].Addr = p.Addr
		}
		n, err := t.batch.WriteBatch(msgs, 0)
		if err == nil {
			return n, nil
		}
		t.batchOK = false
	}
	sent := 0
	for _, p := range pkts {
		udpAddr, ok := p.Addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		if _, err := t.conn.WriteTo(p.Data, udpAddr); err != nil {
			return sent, antnet.WrapError("udpio.WriteBatch", err)
		}
		sent++
	}
	return sent, nil
}

// Close closes the underlying socket.
func (t *Transport) Close() error { return t.conn.Close() }

// LocalAddr returns the socket's local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// SetReadDeadline arms the underlying socket's read deadline, letting a
// caller fold periodic housekeeping (timer ticks, idle reaping) into a
// single ReadBatch loop instead of running a second goroutine against
// state ReadBatch's caller also touches.
func (t *Transport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}
