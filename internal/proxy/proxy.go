// Package proxy implements a TCP reverse-proxy splice between an
// accepted frontend handle and a connected backend handle, per spec
// §4.7.
package proxy

import (
	"sync"
	"time"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/reactor"
)

const readChunk = 32 * 1024

// Proxy owns a frontend (accepted) and backend (connected) handle and
// splices reads on one side directly into writes on the other — the
// completed read descriptor is reused as the write descriptor with no
// intervening copy. A single idle timeout is shared between both legs
// (the original's `TcpProxy` copies the frontend's configured timeout
// onto the backend handle it creates, so the two expire together);
// here that's modeled as one timer reset by activity on either leg.
type Proxy struct {
	loop     *reactor.Loop
	frontend *reactor.Handle
	backend  *reactor.Handle
	timeout  time.Duration
	timerH   *reactor.Handle

	mu      sync.Mutex
	closed  bool
	onClose func()
}

// NewProxy returns a Proxy for an already-accepted frontend handle.
// timeout <= 0 disables the idle timer.
func NewProxy(loop *reactor.Loop, frontend *reactor.Handle, timeout time.Duration) *Proxy {
	return &Proxy{loop: loop, frontend: frontend, timeout: timeout}
}

// OnClose registers a callback invoked once the proxy closes both legs.
func (p *Proxy) OnClose(fn func()) { p.onClose = fn }

// Start dials the backend; once connected, both directions begin
// reading and the shared idle timer (if any) is armed.
func (p *Proxy) Start(network, backendAddr string) {
	desc := reactor.GetDescriptor()
	desc.OnComplete(func(d *reactor.RequestDescriptor) {
		if d.Err != nil {
			reactor.PutDescriptor(d)
			p.Close()
			return
		}
		p.mu.Lock()
		p.backend = d.Handle
		p.mu.Unlock()
		reactor.PutDescriptor(d)
		p.armTimeout()
		p.pumpRead(p.frontend, p.backend)
		p.pumpRead(p.backend, p.frontend)
	})
	p.loop.Connect(network, backendAddr, desc)
}

func (p *Proxy) armTimeout() {
	if p.timeout <= 0 {
		return
	}
	ms := p.timeout.Milliseconds()
	h := reactor.NewHandle(reactor.KindTime)
	h.SetTime(func(*reactor.Handle) antnet.Code {
		p.Close()
		return antnet.CodeOK
	}, ms, ms, 1)
	p.timerH = h
	p.loop.ArmTimer(h)
}

// resetTimeout re-arms the shared idle timer; called on every forwarded
// descriptor so either leg's traffic keeps both alive.
func (p *Proxy) resetTimeout() {
	if p.timerH == nil {
		return
	}
	p.loop.DisarmTimer(p.timerH)
	p.loop.ArmTimer(p.timerH)
}

// pumpRead keeps one read in flight on src, forwarding each completed
// descriptor as a write on dst with no copy, then re-posting a fresh
// read on src once the forwarded write completes.
func (p *Proxy) pumpRead(src, dst *reactor.Handle) {
	desc := reactor.GetDescriptor()
	desc.AllocPayload(readChunk)
	desc.OnComplete(p.onReadComplete(src, dst))
	p.loop.Read(src, desc)
}

func (p *Proxy) onReadComplete(src, dst *reactor.Handle) func(*reactor.RequestDescriptor) {
	var onRead func(d *reactor.RequestDescriptor)
	onRead = func(d *reactor.RequestDescriptor) {
		if d.Err != nil || d.Used == 0 {
			reactor.PutDescriptor(d)
			p.Close()
			return
		}
		p.resetTimeout()
		d.OnComplete(func(d *reactor.RequestDescriptor) {
			if d.Err != nil {
				reactor.PutDescriptor(d)
				p.Close()
				return
			}
			d.OnComplete(onRead)
			p.loop.Read(src, d)
		})
		p.loop.Write(dst, d)
	}
	return onRead
}

// Close closes both legs and disarms the shared timer; safe to call
// more than once or from either leg's completion callback.
func (p *Proxy) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	frontend, backend, timerH := p.frontend, p.backend, p.timerH
	p.mu.Unlock()

	if timerH != nil {
		p.loop.DisarmTimer(timerH)
	}
	if frontend != nil {
		p.loop.Close(frontend)
	}
	if backend != nil {
		p.loop.Close(backend)
	}
	if p.onClose != nil {
		p.onClose()
	}
}
