// Package httpstation implements the HTTP message object and the
// linear station pipeline that drives each request/response exchange
// through well-defined phases, per spec §4.4. It sits on top of
// internal/httpparser (the byte-incremental parser) and
// internal/ringbuf (the zero-copy I/O buffers).
package httpstation

import (
	"net/url"
	"strings"

	"github.com/antmuse/antnet"
	"github.com/antmuse/antnet/internal/ringbuf"
)

// Station identifies one phase of the message pipeline.
type Station int

const (
	StInit Station = iota
	StPath
	StHead
	StBody
	StBodyDone
	StRespHead
	StRespBody
	StRespBodyDone
	StError
	StClose
)

func (s Station) String() string {
	switch s {
	case StInit:
		return "INIT"
	case StPath:
		return "PATH"
	case StHead:
		return "HEAD"
	case StBody:
		return "BODY"
	case StBodyDone:
		return "BODY_DONE"
	case StRespHead:
		return "RESP_HEAD"
	case StRespBody:
		return "RESP_BODY"
	case StRespBodyDone:
		return "RESP_BODY_DONE"
	case StError:
		return "ERROR"
	case StClose:
		return "CLOSE"
	}
	return "UNKNOWN"
}

// MsgFlag is a bitset of facts learned about the message.
type MsgFlag uint32

const (
	MsgChunked MsgFlag = 1 << iota
	MsgKeepAlive
	MsgUpgrade
	MsgContentLengthKnown
	MsgMultipartActive
	MsgHeadDone
	MsgSkipBody
	MsgTrailing
)

// Header is one (key, value) pair from the parsed head, in arrival order.
type Header struct {
	Key   string
	Value string
}

// URLParts is the request target split into its field spans, mirroring
// spec §3's "schema/host/port/path/query/fragment" breakdown. Parsing
// is delegated to the standard net/url package rather than a hand
// rolled sub-FSM.
type URLParts struct {
	Raw      string
	Scheme   string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string
}

func parseURLParts(raw string) URLParts {
	u, err := url.Parse(raw)
	if err != nil {
		return URLParts{Raw: raw, Path: raw}
	}
	host, port := u.Hostname(), u.Port()
	return URLParts{
		Raw:      raw,
		Scheme:   u.Scheme,
		Host:     host,
		Port:     port,
		Path:     u.Path,
		Query:    u.RawQuery,
		Fragment: u.Fragment,
	}
}

// ContentDisposition holds the name=/filename= parameters extracted
// from a multipart part's Content-Disposition header.
type ContentDisposition struct {
	Name     string
	Filename string
}

func parseContentDisposition(value string) ContentDisposition {
	var cd ContentDisposition
	for _, field := range strings.Split(value, ";") {
		field = strings.TrimSpace(field)
		if strings.HasPrefix(field, "name=") {
			cd.Name = unquote(strings.TrimPrefix(field, "name="))
		} else if strings.HasPrefix(field, "filename=") {
			cd.Filename = unquote(strings.TrimPrefix(field, "filename="))
		}
	}
	return cd
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Message is one HTTP exchange: the decoded body ring, the output ring
// awaiting write, the parsed head, URL, method/status, flags, the
// current station, the configured Eventer and the owning Layer.
type Message struct {
	Input  *ringbuf.Buffer // decoded body bytes
	Output *ringbuf.Buffer // serialized head+body awaiting write

	Headers []Header
	URL     URLParts
	Method  string
	Status  int

	Flags   MsgFlag
	Station Station

	Disposition ContentDisposition
	MimeType    string

	Eventer Eventer
	Layer   *Layer

	outboundHeadDone bool
	respBuilt        bool
	closeAfter       bool
}

// NewMessage returns a fresh Message in StInit, owned by layer.
func NewMessage(layer *Layer) *Message {
	return &Message{
		Input:   ringbuf.New(),
		Output:  ringbuf.New(),
		Station: StInit,
		Layer:   layer,
	}
}

// Header looks up the first header matching key, case-insensitively.
func (m *Message) Header(key string) (string, bool) {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value, true
		}
	}
	return "", false
}

// Code is the antnet taxonomy, aliased for the eventer return values.
type Code = antnet.Code
