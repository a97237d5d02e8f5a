package httpstation

import (
	pathpkg "path"

	"github.com/antmuse/antnet"
)

// Result is what a station returns after running once.
type Result int

const (
	ResOK Result = iota
	ResRetry
	ResError
)

// StationFunc is a pure function over one message: run the station's
// work and report OK (advance), RETRY (requeue, typically pending I/O
// or an eventer callback) or ERROR (jump to StError).
type StationFunc func(msg *Message) Result

// Pipeline runs the current station repeatedly until it returns RETRY
// or the message reaches StClose.
type Pipeline struct {
	stations map[Station]StationFunc
}

// NewPipeline wires the standard station chain of spec §4.4.
func NewPipeline() *Pipeline {
	p := &Pipeline{stations: make(map[Station]StationFunc)}
	p.stations[StPath] = StationReqPath
	p.stations[StHead] = StationReqHead
	p.stations[StBody] = StationReqBody
	p.stations[StBodyDone] = StationReqBodyDone
	p.stations[StRespHead] = StationRespHead
	p.stations[StRespBody] = StationRespBody
	p.stations[StRespBodyDone] = StationRespBodyDone
	p.stations[StError] = StationError
	p.stations[StClose] = StationClose
	return p
}

// Step runs msg through as many stations as will advance without a
// RETRY, returning the result of the last station it ran.
func (p *Pipeline) Step(msg *Message) Result {
	for {
		if msg.Station == StClose {
			return ResOK
		}
		fn, ok := p.stations[msg.Station]
		if !ok {
			return ResOK // StInit: nothing to run until the parser advances it
		}
		switch fn(msg) {
		case ResOK:
			msg.Station = nextStation(msg.Station)
			if msg.Station == StClose {
				StationClose(msg)
				return ResOK
			}
			continue
		case ResRetry:
			return ResRetry
		default:
			msg.Station = StError
			continue
		}
	}
}

func nextStation(s Station) Station {
	switch s {
	case StPath:
		return StHead
	case StHead:
		return StBody
	case StBody:
		return StBodyDone
	case StBodyDone:
		return StRespHead
	case StRespHead:
		return StRespBody
	case StRespBody:
		return StRespBodyDone
	case StRespBodyDone:
		return StClose
	case StError:
		return StRespBodyDone
	default:
		return StClose
	}
}

// StationReqPath rewrites "/" to "/index.html", rejects path traversal,
// simplifies the path, dispatches to an Eventer by URL prefix, and
// picks a MIME type from the extension.
func StationReqPath(msg *Message) Result {
	path := msg.URL.Path
	if path == "" || path == "/" {
		path = "/index.html"
	}
	if containsDotDot(path) {
		msg.Eventer = NewErrorEventer(403, "Forbidden")
		return ResError
	}
	path = pathpkg.Clean(path)
	msg.URL.Path = path
	msg.MimeType = mimeForExt(path)

	if msg.Eventer == nil {
		msg.Eventer = msg.Layer.dispatch(path)
	}
	if code := msg.Eventer.OnOpen(msg); code != antnet.CodeOK {
		return ResError
	}
	return ResOK
}

func containsDotDot(p string) bool {
	for i := 0; i+2 <= len(p); i++ {
		if p[i] != '.' || p[i+1] != '.' {
			continue
		}
		if i > 0 && p[i-1] != '/' {
			continue
		}
		if i+2 == len(p) || p[i+2] == '/' {
			return true
		}
	}
	return false
}

// StationReqHead emits the outbound Connection header decision.
func StationReqHead(msg *Message) Result {
	if msg.Flags&MsgKeepAlive == 0 && msg.Layer != nil && msg.Layer.DefaultKeepAlive {
		msg.Flags |= MsgKeepAlive
	}
	if code := msg.Eventer.OnHeadDone(msg); code != antnet.CodeOK {
		return ResError
	}
	return ResOK
}

// StationReqBody forwards buffered body bytes to the eventer. It
// always reports RETRY: the station only advances to BODY_DONE when
// the parser's on_msg_end explicitly pushes the message past it, since
// StationReqBody alone cannot tell a pause in arriving bytes from the
// body actually being complete.
func StationReqBody(msg *Message) Result {
	buf := make([]byte, msg.Input.Len())
	if len(buf) > 0 {
		n := msg.Input.Read(buf)
		if code := msg.Eventer.OnBodyPart(msg, buf[:n]); code != antnet.CodeOK {
			return ResError
		}
	}
	return ResRetry
}

// StationReqBodyDone calls Eventer.OnFinish; success moves to
// StRespHead, failure to StError (handled by Pipeline.Step).
func StationReqBodyDone(msg *Message) Result {
	if code := msg.Eventer.OnFinish(msg); code != antnet.CodeOK {
		return ResError
	}
	return ResOK
}

// StationRespHead flushes outbound head bytes already staged in
// msg.Output by the eventer's OnOpen/OnHeadDone/OnFinish calls, and
// reports RETRY until the ring has drained.
func StationRespHead(msg *Message) Result {
	if msg.Output.Len() == 0 {
		return ResOK
	}
	msg.Layer.flushOutput(msg)
	if msg.Output.Len() > 0 {
		return ResRetry
	}
	return ResOK
}

// StationRespBody flushes outbound body bytes and asks the eventer for
// more once the ring drains; CLOSING from the eventer advances.
func StationRespBody(msg *Message) Result {
	if msg.Output.Len() > 0 {
		msg.Layer.flushOutput(msg)
		return ResRetry
	}
	code := msg.Eventer.OnSent(msg)
	switch code {
	case antnet.CodeClosing:
		return ResOK
	case antnet.CodeRetry:
		return ResRetry
	default:
		return ResError
	}
}

// StationRespBodyDone drains any remaining outbound bytes.
func StationRespBodyDone(msg *Message) Result {
	if msg.Output.Len() > 0 {
		msg.Layer.flushOutput(msg)
		return ResRetry
	}
	return ResOK
}

// StationError resets the outbound cache and writes a stock error body.
func StationError(msg *Message) Result {
	msg.Output.Reset()
	if _, ok := msg.Eventer.(*ErrorEventer); !ok {
		msg.Eventer = NewErrorEventer(500, "Internal Server Error")
	}
	msg.Eventer.OnOpen(msg)
	return ResOK
}

// StationClose notifies the eventer and releases the message.
func StationClose(msg *Message) Result {
	msg.Eventer.OnClose(msg)
	if msg.Layer != nil {
		msg.Layer.onMessageClosed(msg)
	}
	return ResOK
}
