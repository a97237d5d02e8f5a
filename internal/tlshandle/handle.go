package tlshandle

import (
	"crypto/tls"
	"crypto/x509"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/reactor"
)

// Role selects which side of the handshake a Handle plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const netReadChunk = 16 * 1024

// VerifyFlag controls what Verify checks beyond the certificate chain
// itself.
type VerifyFlag uint32

const (
	// VerifyHost additionally checks the stored SNI hostname against
	// the peer certificate, mirroring ETLS_VERIFY_HOST.
	VerifyHost VerifyFlag = 1 << iota
)

// Handle composes a TCP handle with a TLS record engine, multiplexing
// plaintext read/write requests over the encrypted stream per spec
// §4.5. fly_writes/fly_reads hold requests the engine hasn't finished
// with yet; a completed request's callback is delivered on the loop
// goroutine as soon as the engine call returns (the land_writes/
// land_reads stage of the original's queue is instantaneous here since
// nothing else contends for the loop goroutine in between).
type Handle struct {
	Role   Role
	Config *tls.Config

	loop *reactor.Loop
	tcp  *reactor.Handle
	bio  *BIOPair
	conn *tls.Conn

	host [256]byte

	mu        sync.Mutex
	flyWrites []*reactor.RequestDescriptor
	flyReads  []*reactor.RequestDescriptor

	writing  bool
	reading  bool
	closed   bool
	initOK   bool
	initErrs []func(error)

	onClose func()
}

// NewClientHandle returns a Handle that dials the handshake as a
// client once Handshake is called.
func NewClientHandle(loop *reactor.Loop, tcp *reactor.Handle, cfg *tls.Config) *Handle {
	return newHandle(loop, tcp, cfg, RoleClient)
}

// NewServerHandle returns a Handle that accepts the handshake as a
// server once Handshake is called.
func NewServerHandle(loop *reactor.Loop, tcp *reactor.Handle, cfg *tls.Config) *Handle {
	return newHandle(loop, tcp, cfg, RoleServer)
}

func newHandle(loop *reactor.Loop, tcp *reactor.Handle, cfg *tls.Config, role Role) *Handle {
	h := &Handle{Role: role, Config: cfg, loop: loop, tcp: tcp, bio: NewBIOPair()}
	h.bio.Notify = h.scheduleWritePump
	tcp.Parent = h
	return h
}

// SetHost records the hostname Verify will check against the peer
// certificate's SNI when VerifyHost is requested; truncated to the
// 256-byte buffer the original reserves for it.
func (h *Handle) SetHost(host string) {
	n := copy(h.host[:], host)
	for i := n; i < len(h.host); i++ {
		h.host[i] = 0
	}
}

func (h *Handle) hostString() string {
	n := 0
	for n < len(h.host) && h.host[n] != 0 {
		n++
	}
	return string(h.host[:n])
}

// Handshake starts the TLS handshake over the inner TCP handle and the
// BIO pair, and drives the ciphertext pumps (read off the wire into
// the in-BIO, drain the out-BIO onto the wire) that keep it fed. done
// is invoked on the loop goroutine once the handshake finishes (error
// nil) or fails.
func (h *Handle) Handshake(done func(error)) {
	h.mu.Lock()
	h.initErrs = append(h.initErrs, done)
	h.mu.Unlock()

	conn := &bioConn{pair: h.bio}
	if h.Role == RoleClient {
		h.conn = tls.Client(conn, h.Config)
	} else {
		h.conn = tls.Server(conn, h.Config)
	}

	h.pumpNetRead()
	go func() {
		err := h.conn.Handshake()
		h.loop.Post(func() {
			h.mu.Lock()
			h.initOK = err == nil
			cbs := h.initErrs
			h.initErrs = nil
			h.mu.Unlock()
			var reported error
			if err != nil {
				reported = pkgerrors.Wrap(err, "tlshandle: handshake")
			}
			for _, cb := range cbs {
				cb(reported)
			}
		})
	}()
}

// Verify checks the peer certificate chain (already done by
// crypto/tls during the handshake unless InsecureSkipVerify is set)
// and, when flags requests VerifyHost, the stored SNI hostname against
// the leaf certificate's names.
func (h *Handle) Verify(flags VerifyFlag) error {
	state := h.conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return antnet.NewComponentError("tlshandle.Verify", "tls", antnet.CodeError, "no peer certificate")
	}
	if flags&VerifyHost != 0 {
		leaf := state.PeerCertificates[0]
		if err := leaf.VerifyHostname(h.hostString()); err != nil {
			return pkgerrors.Wrap(err, "tlshandle: host verification")
		}
	}
	return nil
}

// PeerCertificates exposes the verified chain for callers that want
// more than Verify's pass/fail answer.
func (h *Handle) PeerCertificates() []*x509.Certificate {
	return h.conn.ConnectionState().PeerCertificates
}

// Ready reports whether the handshake has finished successfully —
// is_init_finished in spec §4.5's terms.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initOK
}

// Read enqueues a plaintext read request; its descriptor's callback
// fires once the engine has decrypted at least one byte into
// desc.Payload, or with an error (CodeClosedConn when the peer has
// closed, CodeClosing when the handle is closed locally).
func (h *Handle) Read(desc *reactor.RequestDescriptor) {
	desc.Op = reactor.OpRead
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		desc.Err = antnet.NewError("tlshandle.Read", antnet.CodeNoReadable, "handle is closing")
		h.loop.Post(func() { desc.Complete() })
		return
	}
	h.flyReads = append(h.flyReads, desc)
	start := !h.reading
	h.reading = true
	h.mu.Unlock()
	if start {
		go h.drainReads()
	}
}

// Write enqueues a plaintext write request; its descriptor's callback
// fires once the engine has accepted and encrypted the full payload.
func (h *Handle) Write(desc *reactor.RequestDescriptor) {
	desc.Op = reactor.OpWrite
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		desc.Err = antnet.NewError("tlshandle.Write", antnet.CodeNoWriteable, "handle is closing")
		h.loop.Post(func() { desc.Complete() })
		return
	}
	h.flyWrites = append(h.flyWrites, desc)
	start := !h.writing
	h.writing = true
	h.mu.Unlock()
	if start {
		go h.drainWrites()
	}
}

func (h *Handle) popFlyRead() *reactor.RequestDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.flyReads) == 0 {
		h.reading = false
		return nil
	}
	d := h.flyReads[0]
	h.flyReads = h.flyReads[1:]
	return d
}

func (h *Handle) popFlyWrite() *reactor.RequestDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.flyWrites) == 0 {
		h.writing = false
		return nil
	}
	d := h.flyWrites[0]
	h.flyWrites = h.flyWrites[1:]
	return d
}

// drainReads runs on its own goroutine (never the loop goroutine,
// since tls.Conn.Read blocks) calling engine.read for each queued
// descriptor in turn and delivering completions back on the loop.
func (h *Handle) drainReads() {
	for {
		desc := h.popFlyRead()
		if desc == nil {
			return
		}
		n, err := h.conn.Read(desc.Payload)
		h.loop.Post(func() {
			desc.Used = n
			if err != nil {
				desc.Err = classifyEngineErr("tlshandle.Read", err)
			}
			desc.Complete()
		})
	}
}

// drainWrites runs on its own goroutine calling engine.write for each
// queued descriptor; tls.Conn.Write always consumes the full buffer or
// returns an error, so each descriptor fully completes in one call.
func (h *Handle) drainWrites() {
	for {
		desc := h.popFlyWrite()
		if desc == nil {
			return
		}
		n, err := h.conn.Write(desc.Payload[:desc.Used])
		h.loop.Post(func() {
			desc.Used = n
			if err != nil {
				desc.Err = classifyEngineErr("tlshandle.Write", err)
			}
			desc.Complete()
		})
	}
}

func classifyEngineErr(op string, err error) error {
	if err.Error() == "EOF" {
		return antnet.NewError(op, antnet.CodeClosedConn, "peer closed")
	}
	return pkgerrors.Wrap(err, op)
}

// pumpNetRead keeps one TCP read in flight on the inner handle, always
// re-posting another as soon as the previous one commits ciphertext
// into the in-BIO — step 5 of the read path in spec §4.5.
func (h *Handle) pumpNetRead() {
	desc := &reactor.RequestDescriptor{}
	desc.AllocPayload(netReadChunk)
	desc.OnComplete(func(d *reactor.RequestDescriptor) {
		if d.Err != nil {
			h.Close()
			return
		}
		if d.Used > 0 {
			h.bio.CommitIn(d.Payload[:d.Used])
		}
		if h.closed {
			return
		}
		h.pumpNetRead()
	})
	h.loop.Read(h.tcp, desc)
}

// scheduleWritePump is the BIOPair.Notify hook: it posts the drain
// loop onto the reactor goroutine so ciphertext production (which can
// happen on the handshake or drainWrites goroutine) and ciphertext
// transmission (which must happen on the loop) stay on their own
// sides of the boundary.
func (h *Handle) scheduleWritePump() {
	h.loop.Post(h.pumpNetWrite)
}

// pumpNetWrite drains the out-BIO onto the wire one contiguous chunk
// at a time, re-entering itself as long as bytes remain — steps 2-4 of
// the write path in spec §4.5.
func (h *Handle) pumpNetWrite() {
	if h.closed {
		return
	}
	chunk := h.bio.PeekOut()
	if len(chunk) == 0 {
		return
	}
	desc := &reactor.RequestDescriptor{}
	desc.SetPayload(chunk)
	desc.Used = len(chunk)
	desc.OnComplete(func(d *reactor.RequestDescriptor) {
		if d.Err != nil {
			h.Close()
			return
		}
		h.bio.CommitOut(d.Used)
		h.pumpNetWrite()
	})
	h.loop.Write(h.tcp, desc)
}

// OnClose registers a callback invoked at the end of Close, after the
// underlying TCP handle has been closed.
func (h *Handle) OnClose(fn func()) { h.onClose = fn }

// Close tears the handle down: any descriptors still queued in
// flyReads/flyWrites get their callback fired with an error, the BIO
// pair is closed (unblocking any engine goroutine mid-call), and the
// underlying TCP handle is closed right away; ciphertext still waiting
// in the out-BIO is not written.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	pending := append(append([]*reactor.RequestDescriptor{}, h.flyReads...), h.flyWrites...)
	h.flyReads = nil
	h.flyWrites = nil
	h.mu.Unlock()

	closeErr := antnet.NewError("tlshandle.Close", antnet.CodeClosing, "handle closed")
	for _, d := range pending {
		d.Err = closeErr
		d.Complete()
	}
	h.bio.Close()
	h.loop.Close(h.tcp)
	if h.onClose != nil {
		h.onClose()
	}
}
