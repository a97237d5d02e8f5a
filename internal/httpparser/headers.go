package httpparser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/antmuse/antnet"
)

// finishHeader is called once a header line's value is fully buffered
// (header_value -> '\r'? '\n'), classifies it per spec §4.3's header
// table, and fires OnHeader with the raw field/value spans.
func (p *Parser) finishHeader() *antnet.Error {
	field := p.fieldBuf.String()
	value := p.valueBuf.Bytes()

	switch p.headerKind {
	case hContentLength:
		if p.haveCL {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeBadContentLen, "duplicate Content-Length")
		}
		n, err := strconv.ParseUint(strings.TrimSpace(string(value)), 10, 63)
		if err != nil {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeBadContentLen, "non-numeric Content-Length")
		}
		if p.Flags&FlagChunked != 0 && !p.lenient() {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeUnexpectedCL, "Content-Length with Transfer-Encoding: chunked")
		}
		p.ContentLen = n
		p.haveCL = true
		p.Flags |= FlagContentLength

	case hTransferEncoding:
		if bytes.Contains(bytesToLower(value), []byte("chunked")) {
			last := lastToken(value)
			if strings.EqualFold(last, "chunked") {
				if p.haveCL && !p.lenient() {
					return antnet.NewError("httpparser.finishHeader", antnet.CodeUnexpectedCL, "Transfer-Encoding: chunked with Content-Length")
				}
				p.Flags |= FlagChunked
				p.haveCL = false // chunked wins over any content-length framing
			}
		}

	case hConnection:
		for _, tok := range strings.Split(string(value), ",") {
			switch strings.ToLower(strings.TrimSpace(tok)) {
			case "keep-alive":
				p.Flags |= FlagConnectionKeepAlive
			case "close":
				p.Flags |= FlagConnectionClose
			case "upgrade":
				p.Flags |= FlagConnectionUpgrade
			}
		}

	case hContentType:
		if b, ok := multipartBoundary(value); ok {
			p.boundary = append([]byte(nil), b...)
			p.Flags |= FlagBoundary
		}

	case hContentDisposition:
		// name=/filename= extraction is exposed to callers via the raw
		// header value; the parser itself only needs to know a
		// disposition header was present for the multipart sub-FSM, which
		// it already tracks through FlagBoundary at the Content-Type level.

	case hUpgrade:
		p.Flags |= FlagUpgrade
	}

	if p.Settings.OnHeaderField != nil {
		if p.invoke2(p.Settings.OnHeaderField, []byte(field)) == Error {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeCallbackError, "on_header_field failed")
		}
	}
	if p.Settings.OnHeaderValue != nil {
		if p.invoke2(p.Settings.OnHeaderValue, value) == Error {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeCallbackError, "on_header_value failed")
		}
	}
	if p.Settings.OnHeader != nil {
		if p.invoke2(func(v []byte) Action { return p.Settings.OnHeader([]byte(field), v) }, value) == Error {
			return antnet.NewError("httpparser.finishHeader", antnet.CodeCallbackError, "on_header failed")
		}
	}
	return nil
}

func (p *Parser) lenient() bool { return !p.Strict }

func bytesToLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = lower(c)
	}
	return out
}

func lastToken(value []byte) string {
	parts := strings.Split(string(value), ",")
	if len(parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}

// multipartBoundary extracts the boundary= parameter from a
// Content-Type value starting with "multipart/".
func multipartBoundary(value []byte) ([]byte, bool) {
	s := string(value)
	if !strings.HasPrefix(strings.ToLower(s), "multipart/") {
		return nil, false
	}
	idx := strings.Index(strings.ToLower(s), "boundary=")
	if idx < 0 {
		return nil, false
	}
	rest := s[idx+len("boundary="):]
	rest = strings.TrimSpace(rest)
	if len(rest) > 0 && rest[0] == '"' {
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return []byte(rest[1:]), true
		}
		return []byte(rest[1 : 1+end]), true
	}
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		rest = rest[:semi]
	}
	if len(rest) > 256 {
		rest = rest[:256]
	}
	return []byte(strings.TrimSpace(rest)), true
}

// onHeadersComplete implements the headers-done policy table of §4.3:
// it decides the body-reading strategy and fires OnHeadersComplete.
// Returns (true, nil) when the message has no body at all.
func (p *Parser) onHeadersComplete() (bool, error) {
	a := p.invoke(p.Settings.OnHeadersComplete)
	switch a {
	case Error:
		return false, antnet.NewError("httpparser.onHeadersComplete", antnet.CodeCallbackError, "on_head_done failed")
	case SkipBody:
		p.Flags |= FlagSkipBody
	case Upgrade:
		p.upgraded = true
	}

	if p.Flags&FlagSkipBody != 0 || p.upgraded || p.Flags&FlagHeadResponse != 0 {
		if cb := p.invoke(p.Settings.OnMessageComplete); cb == Error {
			return false, antnet.NewError("httpparser.onHeadersComplete", antnet.CodeCallbackError, "on_msg_end failed")
		}
		p.st = sMessageDone
		return true, nil
	}

	switch {
	case p.Flags&FlagChunked != 0:
		p.st = sChunkSizeStart
		p.fieldBuf.Reset() // sChunkTrailer reads an empty fieldBuf as the blank line
	case p.Flags&FlagBoundary != 0 && len(p.boundary) > 0:
		if !p.partsStarted {
			p.st = sMultipartInitial
			p.partsStarted = true
		} else {
			p.st = sBoundaryBody
		}
		p.boundaryPos = 0
	case p.haveCL && p.ContentLen > 0:
		p.st = sBodyIdentity
	case p.isResponse && (!p.haveCL) && (p.Flags&FlagConnectionClose != 0 || (p.HTTPMajor == 1 && p.HTTPMinor == 0)):
		p.st = sBodyIdentityEOF
	default:
		if cb := p.invoke(p.Settings.OnMessageComplete); cb == Error {
			return false, antnet.NewError("httpparser.onHeadersComplete", antnet.CodeCallbackError, "on_msg_end failed")
		}
		p.st = sMessageDone
		return true, nil
	}
	return false, nil
}

// scanBoundary implements the multipart sub-FSM: it looks for
// CRLF "--" boundary in the body stream, treating everything before the
// match as body bytes delivered via OnBody. A possible partial match at
// the end of data is left unconsumed, so the caller re-feeds it together
// with the next bytes.
func (p *Parser) scanBoundary(data []byte) (consumed int, done bool, err *antnet.Error) {
	marker := append([]byte("\r\n--"), p.boundary...)
	idx := bytes.Index(data, marker)
	if idx < 0 {
		// No full marker in this chunk; deliver everything except a
		// trailing partial-match tail, which we hold back for the next call.
		safe := len(data) - (len(marker) - 1)
		if safe < 0 {
			safe = 0
		}
		if safe > 0 {
			if p.invoke2(p.Settings.OnBody, data[:safe]) == Error {
				return safe, false, antnet.NewError("httpparser.scanBoundary", antnet.CodeCallbackError, "on_body failed")
			}
		}
		return safe, false, nil
	}
	if idx > 0 {
		if p.invoke2(p.Settings.OnBody, data[:idx]) == Error {
			return idx, false, antnet.NewError("httpparser.scanBoundary", antnet.CodeCallbackError, "on_body failed")
		}
	}
	after := idx + len(marker)
	if after+1 < len(data) && data[after] == '-' && data[after+1] == '-' {
		end := after + 2
		if end < len(data) && data[end] == '\r' {
			end++
		}
		if end < len(data) && data[end] == '\n' {
			end++
		}
		return end, true, nil
	}
	// Skip to end of this part's trailing CRLF and resume header parsing
	// for the next part.
	for after < len(data) && data[after] != '\n' {
		after++
	}
	if after < len(data) {
		after++
	}
	p.st = sHeaderFieldStart
	p.fieldBuf.Reset()
	return after, false, nil
}
