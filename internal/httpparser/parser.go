// Package httpparser implements the byte-incremental HTTP/1.x request
// and response parser: a manual state machine fed arbitrary-sized
// chunks via Parse, never buffering beyond the bytes needed to resolve
// the state it is currently in. It has no notion of sockets, timers or
// ring buffers — callers (internal/httpstation) own byte delivery.
package httpparser

import (
	"bytes"
	"strconv"

	"github.com/antmuse/antnet"
)

// MessageType selects whether the parser reads a request or a
// response, or auto-detects from the first line.
type MessageType int

const (
	Both MessageType = iota
	Request
	Response
)

// Flag is a bitset recording facts learned about the message as it is
// parsed.
type Flag uint32

const (
	FlagChunked Flag = 1 << iota
	FlagConnectionKeepAlive
	FlagConnectionClose
	FlagConnectionUpgrade
	FlagContentLength
	FlagUpgrade
	FlagBoundary
	FlagSkipBody
	FlagTrailing
	FlagHeadResponse // response to a HEAD request: never has a body
)

// Action is what a callback asks the parser to do next.
type Action int

const (
	Continue Action = iota
	Pause
	Error
	SkipBody // only meaningful as the return of OnHeadersComplete
	Upgrade  // only meaningful as the return of OnHeadersComplete
)

// Settings is the set of callbacks the parser drives. Byte slices
// passed to callbacks are views into the caller's input buffer and are
// valid only for the duration of the call.
type Settings struct {
	OnMessageBegin    func() Action
	OnURL             func(b []byte) Action
	OnStatus          func(b []byte) Action
	OnHeaderField     func(b []byte) Action
	OnHeaderValue     func(b []byte) Action
	OnHeader          func(key, value []byte) Action // fires once the full field/value pair is known
	OnHeadersComplete func() Action
	OnChunkHeader     func(size uint64) Action
	OnBody            func(b []byte) Action
	OnChunkComplete   func() Action
	OnMessageComplete func() Action
}

type state int

const (
	sDead state = iota
	sStartReqOrRes
	sStartReq
	sStartRes
	sReqMethod
	sReqSpacesBeforeURL
	sReqURL
	sReqHTTPStart
	sReqHTTPVersion
	sResHTTPStart
	sResHTTPVersion
	sResStatusStart
	sResStatus
	sResLineAlmostDone
	sHeaderFieldStart
	sHeaderField
	sHeaderValueDiscardWS
	sHeaderValue
	sHeaderAlmostDone
	sHeadersAlmostDone
	sHeadersDone
	sBodyIdentity
	sBodyIdentityEOF
	sChunkSizeStart
	sChunkSize
	sChunkSizeAlmostDone
	sChunkExtension
	sChunkData
	sChunkDataAlmostDone
	sChunkTrailer
	sMultipartInitial
	sBoundaryBody
	sBoundaryHeaders
	sMessageDone
)

// headerKind classifies a header field the parser special-cases.
type headerKind int

const (
	hNone headerKind = iota
	hConnection
	hContentLength
	hContentType
	hContentDisposition
	hTransferEncoding
	hUpgrade
)

var knownHeaders = map[string]headerKind{
	"connection":          hConnection,
	"proxy-connection":    hConnection,
	"content-length":      hContentLength,
	"content-type":        hContentType,
	"content-disposition": hContentDisposition,
	"transfer-encoding":   hTransferEncoding,
	"upgrade":             hUpgrade,
}

// Parser is the incremental HTTP/1.x state machine of spec §4.3.
type Parser struct {
	Settings Settings
	Strict   bool // strict-mode rejects several lenient header interactions

	MaxHeaderBytes int // 0 means no explicit limit beyond a large default

	typeWant MessageType

	st           state
	Method       string
	StatusCode   int
	HTTPMajor    int
	HTTPMinor    int
	Flags        Flag
	ContentLen   uint64
	haveCL       bool
	headerBytes  int
	headerKind   headerKind
	fieldBuf     bytes.Buffer
	valueBuf     bytes.Buffer
	boundary     []byte
	boundaryPos  int // index into a CRLF--boundary match in progress
	chunkSize    uint64
	paused       bool
	upgraded     bool
	isResponse   bool
	partsStarted bool
	teTokenBuf   bytes.Buffer
	connTokenBuf bytes.Buffer
	lastErr      *antnet.Error
}

const defaultMaxHeaderBytes = 80 * 1024

// New returns a parser configured to read msgType messages (or
// auto-detect when msgType is Both) with the given callback settings.
func New(msgType MessageType, s Settings) *Parser {
	p := &Parser{Settings: s, typeWant: msgType}
	p.reset()
	return p
}

func (p *Parser) reset() {
	p.st = sStartReqOrRes
	switch p.typeWant {
	case Request:
		p.st = sStartReq
	case Response:
		p.st = sStartRes
	}
	p.Method = ""
	p.StatusCode = 0
	p.HTTPMajor, p.HTTPMinor = 1, 1
	p.Flags = 0
	p.ContentLen = 0
	p.haveCL = false
	p.headerBytes = 0
	p.headerKind = hNone
	p.fieldBuf.Reset()
	p.valueBuf.Reset()
	p.boundary = nil
	p.boundaryPos = 0
	p.chunkSize = 0
	p.paused = false
	p.upgraded = false
	p.partsStarted = false
	p.teTokenBuf.Reset()
	p.connTokenBuf.Reset()
	p.lastErr = nil
}

// Reset restores the parser to its initial state, for reuse across
// messages on a keep-alive connection.
func (p *Parser) Reset() { p.reset() }

// SetHeadResponse marks the next response message parsed as the reply
// to a HEAD request: the headers-done policy table treats it as
// bodyless regardless of any Content-Length present. Callers set this
// from OnMessageBegin once they know which request a response answers.
func (p *Parser) SetHeadResponse() { p.Flags |= FlagHeadResponse }

// Paused reports whether the last Parse call returned because a
// callback requested Pause.
func (p *Parser) Paused() bool { return p.paused }

// Resume clears a paused state so the next Parse call continues.
func (p *Parser) Resume() { p.paused = false }

// LastError returns the structured error from the most recent failure,
// or nil.
func (p *Parser) LastError() *antnet.Error { return p.lastErr }

func (p *Parser) fail(code antnet.Code, msg string) (int, error) {
	p.st = sDead
	p.lastErr = antnet.NewError("httpparser.Parse", code, msg)
	return 0, p.lastErr
}

func isNum(c byte) bool   { return c >= '0' && c <= '9' }
func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
func isTokenChar(c byte) bool {
	switch c {
	case '\t', ' ', '"', '(', ')', ',', '/', ':', ';', '<', '=', '>', '?', '@', '[', '\\', ']', '{', '}':
		return false
	}
	return c > 0x20 && c < 0x7f
}

// Parse feeds data into the state machine, invoking callbacks as
// states complete, and returns the number of bytes consumed. A short
// count (less than len(data)) with a nil error means one of: the parser
// paused (Paused reports true; call Resume before re-invoking Parse),
// the message is complete and the rest belongs to the next message
// (call Reset first), or a multipart boundary needs more bytes to
// resolve. In every case the caller re-feeds the unconsumed remainder.
// On the dead state (after an error), Parse
// consumes 0 bytes and returns the stored error.
func (p *Parser) Parse(data []byte) (int, error) {
	if p.st == sDead {
		if p.lastErr != nil {
			return 0, p.lastErr
		}
		return 0, antnet.NewError("httpparser.Parse", antnet.CodeClosedConn, "parser is dead")
	}
	if len(data) == 0 {
		// EOF signal for body_identity_eof.
		if p.st == sBodyIdentityEOF {
			if a := p.invoke(p.Settings.OnMessageComplete); a == Error {
				return p.fail(antnet.CodeCallbackError, "on_msg_end failed")
			}
			p.st = sMessageDone
		}
		return 0, nil
	}

	i := 0
	for i < len(data) {
		c := data[i]
		switch p.st {
		case sStartReqOrRes:
			if c == '\r' || c == '\n' {
				i++
				continue
			}
			if a := p.invoke(p.Settings.OnMessageBegin); a == Error {
				return p.fail(antnet.CodeError, "on_msg_begin failed")
			}
			if c == 'H' { // heuristic: responses start with HTTP/..., requests start with the method
				// Could still be a request whose method is literally empty; spec
				// clients always send a real method, so peek is sufficient here.
				p.isResponse = looksLikeResponseStart(data[i:])
			}
			if p.isResponse {
				p.st = sResHTTPStart
			} else {
				p.st = sReqMethod
			}
			continue

		case sStartReq:
			if c == '\r' || c == '\n' {
				i++
				continue
			}
			if a := p.invoke(p.Settings.OnMessageBegin); a == Error {
				return p.fail(antnet.CodeError, "on_msg_begin failed")
			}
			p.isResponse = false
			p.st = sReqMethod
			continue

		case sStartRes:
			if c == '\r' || c == '\n' {
				i++
				continue
			}
			if a := p.invoke(p.Settings.OnMessageBegin); a == Error {
				return p.fail(antnet.CodeError, "on_msg_begin failed")
			}
			p.isResponse = true
			p.st = sResHTTPStart
			continue

		case sReqMethod:
			if c == ' ' {
				if p.Method == "" {
					return p.fail(antnet.CodeBadMethod, "empty method")
				}
				p.st = sReqSpacesBeforeURL
				i++
				continue
			}
			if !isTokenChar(c) {
				return p.fail(antnet.CodeBadMethod, "invalid method token")
			}
			p.Method += string(c)
			i++

		case sReqSpacesBeforeURL:
			if c == ' ' {
				i++
				continue
			}
			p.st = sReqURL
			p.fieldBuf.Reset()
			continue

		case sReqURL:
			if c == ' ' {
				if a := p.invoke2(p.Settings.OnURL, p.fieldBuf.Bytes()); a == Error {
					return p.fail(antnet.CodeBadURL, "on_url failed")
				}
				p.fieldBuf.Reset()
				p.st = sReqHTTPStart
				i++
				continue
			}
			if c == '\r' || c == '\n' {
				return p.fail(antnet.CodeBadURL, "unexpected CRLF in request target")
			}
			p.fieldBuf.WriteByte(c)
			i++

		case sReqHTTPStart:
			if c == 'H' {
				i++
				continue
			}
			p.st = sReqHTTPVersion
			continue

		case sReqHTTPVersion:
			// consume "TTP/major.minor\r\n" lazily using the scratch buffer
			p.fieldBuf.WriteByte(c)
			i++
			if p.fieldBuf.Len() >= 2 && bytes.HasSuffix(p.fieldBuf.Bytes(), []byte("\r\n")) {
				if err := p.parseVersion(p.fieldBuf.Bytes()); err != nil {
					return p.fail(antnet.CodeBadVersion, "invalid HTTP version")
				}
				p.fieldBuf.Reset()
				p.st = sHeaderFieldStart
			}

		case sResHTTPStart:
			p.fieldBuf.WriteByte(c)
			i++
			if p.fieldBuf.Len() >= 2 && p.fieldBuf.Bytes()[p.fieldBuf.Len()-1] == ' ' {
				if err := p.parseVersion(p.fieldBuf.Bytes()); err != nil {
					return p.fail(antnet.CodeBadVersion, "invalid HTTP version")
				}
				p.fieldBuf.Reset()
				p.st = sResStatusStart
			}

		case sResStatusStart:
			if isNum(c) {
				p.StatusCode = p.StatusCode*10 + int(c-'0')
				i++
				p.st = sResStatus
				continue
			}
			return p.fail(antnet.CodeBadStatus, "invalid status code")

		case sResStatus:
			if isNum(c) {
				p.StatusCode = p.StatusCode*10 + int(c-'0')
				if p.StatusCode > 999 {
					return p.fail(antnet.CodeBadStatus, "status code overflow")
				}
				i++
				continue
			}
			if c == ' ' {
				i++
				p.fieldBuf.Reset()
				p.st = sResLineAlmostDone
				continue
			}
			if c == '\r' || c == '\n' {
				p.st = sHeaderFieldStart
				continue
			}
			return p.fail(antnet.CodeBadStatus, "invalid status code terminator")

		case sResLineAlmostDone:
			// Reason phrase: skip to CRLF.
			if c == '\r' || c == '\n' {
				if a := p.invoke2(p.Settings.OnStatus, p.fieldBuf.Bytes()); a == Error {
					return p.fail(antnet.CodeBadStatus, "on_status failed")
				}
				p.fieldBuf.Reset()
				p.st = sHeaderFieldStart
				i++
				continue
			}
			p.fieldBuf.WriteByte(c)
			i++

		case sHeaderFieldStart:
			if c == '\r' {
				i++
				continue
			}
			if c == '\n' {
				i++
				if done, err := p.onHeadersComplete(); err != nil {
					return 0, err
				} else if done {
					continue
				}
				continue
			}
			p.fieldBuf.Reset()
			p.valueBuf.Reset()
			p.headerKind = hNone
			p.st = sHeaderField
			continue

		case sHeaderField:
			if c == ':' {
				p.headerKind = knownHeaders[strings_toLower(p.fieldBuf.String())]
				p.st = sHeaderValueDiscardWS
				i++
				continue
			}
			if !isTokenChar(c) {
				return p.fail(antnet.CodeBadHeaderToken, "invalid header field token")
			}
			p.fieldBuf.WriteByte(lower(c))
			p.headerBytes++
			if p.overHeaderLimit() {
				return p.fail(antnet.CodeHeaderOverflow, "header section too large")
			}
			i++

		case sHeaderValueDiscardWS:
			if c == ' ' || c == '\t' {
				i++
				continue
			}
			p.st = sHeaderValue
			continue

		case sHeaderValue:
			if c == '\r' {
				i++
				continue
			}
			if c == '\n' {
				if err := p.finishHeader(); err != nil {
					return p.fail(err.Code, err.Msg)
				}
				p.st = sHeaderFieldStart
				i++
				continue
			}
			p.valueBuf.WriteByte(c)
			p.headerBytes++
			if p.overHeaderLimit() {
				return p.fail(antnet.CodeHeaderOverflow, "header section too large")
			}
			i++

		case sBodyIdentity:
			n := len(data) - i
			remaining := p.ContentLen
			if uint64(n) > remaining {
				n = int(remaining)
			}
			if n > 0 {
				if a := p.invoke2(p.Settings.OnBody, data[i:i+n]); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_body failed")
				}
			}
			p.ContentLen -= uint64(n)
			i += n
			if p.ContentLen == 0 {
				if a := p.invoke(p.Settings.OnMessageComplete); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_msg_end failed")
				}
				p.st = sMessageDone
			}

		case sBodyIdentityEOF:
			n := len(data) - i
			if n > 0 {
				if a := p.invoke2(p.Settings.OnBody, data[i:i+n]); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_body failed")
				}
			}
			i += n

		case sChunkSizeStart, sChunkSize:
			if isHexDigit(c) {
				p.chunkSize = p.chunkSize*16 + uint64(hexVal(c))
				p.st = sChunkSize
				i++
				continue
			}
			if c == ';' || c == ' ' {
				p.st = sChunkExtension
				i++
				continue
			}
			if c == '\r' {
				i++
				continue
			}
			if c == '\n' {
				i++
				if a := p.invoke3(p.Settings.OnChunkHeader, p.chunkSize); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_chunk_head failed")
				}
				if p.chunkSize == 0 {
					p.st = sChunkTrailer
				} else {
					p.st = sChunkData
				}
				continue
			}
			return p.fail(antnet.CodeBadChunkSize, "invalid chunk size")

		case sChunkExtension:
			if c == '\r' {
				i++
				continue
			}
			if c == '\n' {
				i++
				if a := p.invoke3(p.Settings.OnChunkHeader, p.chunkSize); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_chunk_head failed")
				}
				if p.chunkSize == 0 {
					p.st = sChunkTrailer
				} else {
					p.st = sChunkData
				}
				continue
			}
			i++

		case sChunkData:
			n := len(data) - i
			if uint64(n) > p.chunkSize {
				n = int(p.chunkSize)
			}
			if n > 0 {
				if a := p.invoke2(p.Settings.OnBody, data[i:i+n]); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_body failed")
				}
			}
			p.chunkSize -= uint64(n)
			i += n
			if p.chunkSize == 0 {
				p.st = sChunkDataAlmostDone
			}

		case sChunkDataAlmostDone:
			// expect CRLF after chunk data
			if c == '\r' || c == '\n' {
				i++
				if c == '\n' {
					if a := p.invoke(p.Settings.OnChunkComplete); a == Error {
						return p.fail(antnet.CodeCallbackError, "on_chunk_tail failed")
					}
					p.st = sChunkSizeStart
					p.chunkSize = 0
				}
				continue
			}
			return p.fail(antnet.CodeBadChunkSize, "missing chunk data terminator")

		case sChunkTrailer:
			// Trailing headers after the terminal 0-size chunk; we don't
			// surface them, just scan to the blank line that ends the message.
			if c == '\r' {
				i++
				continue
			}
			if c == '\n' {
				i++
				if p.fieldBuf.Len() == 0 {
					if a := p.invoke(p.Settings.OnMessageComplete); a == Error {
						return p.fail(antnet.CodeCallbackError, "on_msg_end failed")
					}
					p.st = sMessageDone
					p.fieldBuf.Reset()
					continue
				}
				p.fieldBuf.Reset()
				continue
			}
			p.fieldBuf.WriteByte(c)
			i++

		case sMultipartInitial:
			marker := append([]byte("--"), p.boundary...)
			need := len(marker) + 2
			if len(data)-i < need {
				// Not enough buffered to resolve the opening boundary line;
				// caller must retain these bytes and feed more.
				return i, nil
			}
			if !bytes.HasPrefix(data[i:], marker) {
				return p.fail(antnet.CodeError, "multipart body does not start with boundary")
			}
			adv := len(marker)
			if bytes.HasPrefix(data[i+adv:], []byte("--")) {
				adv += 2
				i += adv
				if a := p.invoke(p.Settings.OnMessageComplete); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_msg_end failed")
				}
				p.st = sMessageDone
				continue
			}
			for i+adv < len(data) && data[i+adv] != '\n' {
				adv++
			}
			if i+adv < len(data) {
				adv++
			}
			i += adv
			p.st = sHeaderFieldStart
			p.fieldBuf.Reset()

		case sBoundaryBody:
			consumed, done, err := p.scanBoundary(data[i:])
			i += consumed
			if err != nil {
				return p.fail(err.Code, err.Msg)
			}
			if done {
				if a := p.invoke(p.Settings.OnMessageComplete); a == Error {
					return p.fail(antnet.CodeCallbackError, "on_msg_end failed")
				}
				p.st = sMessageDone
			}
			if consumed == 0 {
				// No progress possible until more bytes arrive; caller must
				// retain the unconsumed tail and feed more data next call.
				return i, nil
			}

		case sMessageDone:
			// Nothing more to consume for this message; caller should Reset
			// before the next one. Treat leftover bytes as unconsumed.
			return i, nil

		default:
			return p.fail(antnet.CodeError, "parser in unknown state")
		}

		if p.paused {
			return i, nil
		}
	}
	return i, nil
}

func (p *Parser) overHeaderLimit() bool {
	limit := p.MaxHeaderBytes
	if limit <= 0 {
		limit = defaultMaxHeaderBytes
	}
	return p.headerBytes > limit
}

func strings_toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		b[i] = lower(c)
	}
	return string(b)
}

func looksLikeResponseStart(b []byte) bool {
	return len(b) >= 5 && b[0] == 'H' && b[1] == 'T' && b[2] == 'T' && b[3] == 'P' && b[4] == '/'
}

func (p *Parser) parseVersion(b []byte) error {
	// b ends with either "\r\n" (request line) or a trailing space (status line),
	// and begins right after "H" for the request form, or at "HTTP/" for responses.
	s := string(b)
	s = trimVersionSuffix(s)
	if len(s) >= 3 && s[:3] == "TTP" {
		s = s[3:]
	} else if len(s) >= 5 && s[:5] == "HTTP/" {
		s = s[5:]
	}
	if len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	dot := indexByte(s, '.')
	if dot < 0 {
		return antnet.NewError("httpparser.parseVersion", antnet.CodeBadVersion, "missing version dot")
	}
	maj, err1 := strconv.Atoi(s[:dot])
	min, err2 := strconv.Atoi(s[dot+1:])
	if err1 != nil || err2 != nil {
		return antnet.NewError("httpparser.parseVersion", antnet.CodeBadVersion, "non-numeric version")
	}
	p.HTTPMajor, p.HTTPMinor = maj, min
	return nil
}

func trimVersionSuffix(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\r' || s[len(s)-1] == '\n' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func isHexDigit(c byte) bool {
	return isNum(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) int {
	switch {
	case isNum(c):
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

func (p *Parser) invoke(fn func() Action) Action {
	if fn == nil {
		return Continue
	}
	a := fn()
	if a == Pause {
		p.paused = true
	}
	return a
}

func (p *Parser) invoke2(fn func([]byte) Action, b []byte) Action {
	if fn == nil {
		return Continue
	}
	a := fn(b)
	if a == Pause {
		p.paused = true
	}
	return a
}

func (p *Parser) invoke3(fn func(uint64) Action, n uint64) Action {
	if fn == nil {
		return Continue
	}
	a := fn(n)
	if a == Pause {
		p.paused = true
	}
	return a
}
