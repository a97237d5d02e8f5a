package httpstation

import (
	"strings"

	"github.com/antmuse/antnet/internal/httpparser"
)

// Conn is the minimal byte-stream contract Layer writes responses to;
// any net.Conn satisfies it. Neither reactor.Handle nor
// tlshandle.Handle implements it: both use descriptor-based Read/Write,
// and this package has no adapter for them.
type Conn interface {
	Write(b []byte) (int, error)
	Close() error
}

// Route maps a URL path prefix to the Eventer constructor that should
// handle it; Layer.dispatch consults Routes in order.
type Route struct {
	Prefix  string
	Factory func(msg *Message) Eventer
}

// Layer is the per-connection HTTP state: the incremental parser, the
// live Message (while one is in flight), the configured routes, and
// the underlying transport.
type Layer struct {
	Conn             Conn
	Routes           []Route
	StaticRoot       string
	DefaultKeepAlive bool

	pipeline *Pipeline
	parser   *httpparser.Parser
	msg      *Message
	closed   bool

	onClose func()
}

// NewLayer returns a Layer reading requests (server-side) off conn.
func NewLayer(conn Conn) *Layer {
	l := &Layer{Conn: conn, pipeline: NewPipeline(), DefaultKeepAlive: true}
	l.parser = httpparser.New(httpparser.Request, l.settings())
	return l
}

// OnClose registers a callback invoked once the layer itself closes
// (distinct from Eventer.OnClose, which is per-message).
func (l *Layer) OnClose(fn func()) { l.onClose = fn }

func (l *Layer) settings() httpparser.Settings {
	return httpparser.Settings{
		OnMessageBegin: func() httpparser.Action {
			l.msg = NewMessage(l)
			return httpparser.Continue
		},
		OnURL: func(b []byte) httpparser.Action {
			l.msg.URL = parseURLParts(string(b))
			l.msg.Method = l.parser.Method
			return httpparser.Continue
		},
		OnHeader: func(k, v []byte) httpparser.Action {
			l.msg.Headers = append(l.msg.Headers, Header{Key: string(k), Value: string(v)})
			if strings.EqualFold(string(k), "content-disposition") {
				l.msg.Disposition = parseContentDisposition(string(v))
			}
			return httpparser.Continue
		},
		OnHeadersComplete: func() httpparser.Action {
			l.msg.Flags |= MsgHeadDone
			if l.parser.Flags&httpparser.FlagChunked != 0 {
				l.msg.Flags |= MsgChunked
			}
			if l.parser.Flags&httpparser.FlagConnectionKeepAlive != 0 {
				l.msg.Flags |= MsgKeepAlive
			}
			if l.parser.Flags&httpparser.FlagConnectionClose != 0 {
				l.msg.closeAfter = true
			}
			if l.parser.Flags&httpparser.FlagBoundary != 0 {
				l.msg.Flags |= MsgMultipartActive
			}
			l.msg.Station = StPath
			l.pipeline.Step(l.msg)
			return httpparser.Continue
		},
		OnBody: func(b []byte) httpparser.Action {
			l.msg.Input.Write(b)
			if l.msg.Station == StBody {
				l.pipeline.Step(l.msg)
			}
			return httpparser.Continue
		},
		OnMessageComplete: func() httpparser.Action {
			if l.msg.Station < StBodyDone {
				l.msg.Station = StBodyDone
			}
			l.pipeline.Step(l.msg)
			return httpparser.Continue
		},
	}
}

// dispatch picks an Eventer by URL prefix: the first Route whose Prefix
// matches path supplies it, and a path matching no Route gets a
// read-only static file eventer rooted at StaticRoot. NewLayer installs
// no Routes, so "/lua/" or "/fs/" paths get a dedicated eventer only
// when the caller adds a Route for that prefix.
func (l *Layer) dispatch(path string) Eventer {
	for _, r := range l.Routes {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Factory(l.msg)
		}
	}
	return NewFileReaderEventer(l.StaticRoot)
}

// Feed delivers bytes read off the transport to the parser, driving
// the station pipeline as callbacks fire. The caller (TcpHandle or
// TlsHandle read completion) must retain any unconsumed tail and
// prepend it to the next Feed call, matching the parser's own
// pause/resume contract.
func (l *Layer) Feed(data []byte) (consumed int, err error) {
	n, perr := l.parser.Parse(data)
	if perr != nil {
		if l.msg != nil {
			l.msg.Station = StError
			l.pipeline.Step(l.msg)
		}
		return n, perr
	}
	return n, nil
}

// flushOutput drains msg.Output onto the transport. A faithful
// descriptor-driven reactor implementation would post an async TCP
// write and resume on completion (RETRY); this synchronous drain keeps
// the station contract (flushOutput is only ever called from
// StationRespHead/Body/BodyDone, which already branch on RETRY vs OK)
// while letting Conn be a plain io.Writer-shaped interface.
func (l *Layer) flushOutput(msg *Message) {
	for msg.Output.Len() > 0 {
		chunk := msg.Output.PeekHead()
		if len(chunk) == 0 {
			return
		}
		n, err := l.Conn.Write(chunk)
		if err != nil {
			msg.Eventer.OnRespWriteError(msg, err)
			msg.Output.CommitHead(len(chunk))
			return
		}
		msg.Output.CommitHead(n)
		msg.Eventer.OnRespWrite(msg)
		if n < len(chunk) {
			return
		}
	}
}

func (l *Layer) onMessageClosed(msg *Message) {
	keepAlive := msg.Flags&MsgKeepAlive != 0 && !msg.closeAfter
	if !keepAlive && !l.closed {
		l.closed = true
		_ = l.Conn.Close()
		if l.onClose != nil {
			l.onClose()
		}
		return
	}
	l.msg = nil
	l.parser.Reset()
}

// Close tears the layer down, notifying the live message's eventer (if
// any) before closing the transport — the LayerClose hook of the
// Eventer contract.
func (l *Layer) Close() {
	if l.closed {
		return
	}
	l.closed = true
	if l.msg != nil {
		l.msg.Eventer.OnLayerClose(l.msg)
	}
	_ = l.Conn.Close()
	if l.onClose != nil {
		l.onClose()
	}
}
