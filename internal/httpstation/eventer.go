package httpstation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/antmuse/antnet"
)

// Eventer is the pluggable body-handling strategy for an HTTP message
// (spec §4.4's HttpEventer contract). Concrete eventers embed
// BaseEventer and override only the capabilities they need — the
// capability-interface replacement for the original's ~10-method
// virtual base class.
type Eventer interface {
	OnOpen(msg *Message) antnet.Code
	OnHeadDone(msg *Message) antnet.Code
	OnBodyPart(msg *Message, b []byte) antnet.Code
	OnFinish(msg *Message) antnet.Code
	OnSent(msg *Message) antnet.Code
	OnReadError(msg *Message, err error)
	OnRespWrite(msg *Message)
	OnRespWriteError(msg *Message, err error)
	OnLayerClose(msg *Message)
	OnClose(msg *Message)
}

// BaseEventer implements every Eventer method as a harmless default;
// concrete eventers embed it and override what they need.
type BaseEventer struct{}

func (BaseEventer) OnOpen(*Message) antnet.Code              { return antnet.CodeOK }
func (BaseEventer) OnHeadDone(*Message) antnet.Code          { return antnet.CodeOK }
func (BaseEventer) OnBodyPart(*Message, []byte) antnet.Code  { return antnet.CodeOK }
func (BaseEventer) OnFinish(*Message) antnet.Code            { return antnet.CodeOK }
func (BaseEventer) OnSent(*Message) antnet.Code              { return antnet.CodeClosing }
func (BaseEventer) OnReadError(*Message, error)              {}
func (BaseEventer) OnRespWrite(*Message)                     {}
func (BaseEventer) OnRespWriteError(*Message, error)         {}
func (BaseEventer) OnLayerClose(*Message)                    {}
func (BaseEventer) OnClose(*Message)                         {}

// ---- static error responder ----------------------------------------

// ErrorEventer writes a stock status line + short HTML body and closes.
type ErrorEventer struct {
	BaseEventer
	Status int
	Text   string
}

func NewErrorEventer(status int, text string) *ErrorEventer {
	return &ErrorEventer{Status: status, Text: text}
}

func (e *ErrorEventer) OnOpen(msg *Message) antnet.Code {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", e.Status, e.Text)
	writeResponseHead(msg, e.Status, e.Text, "text/html", len(body), msg.Flags&MsgKeepAlive != 0)
	msg.Output.Write([]byte(body))
	return antnet.CodeOK
}

// ---- static file reader ----------------------------------------------

// FileReaderEventer chunks a file's bytes into the outbound ring as a
// chunked-transfer response, using Buffer.PeekTail/Rewrite to backfill
// each chunk's hex size prefix once the chunk body length is known —
// the concrete use case named in spec §4.1's rewrite operation.
type FileReaderEventer struct {
	BaseEventer
	Root string // directory the URL path is resolved against

	f        *os.File
	chunkBuf [32 * 1024]byte
}

func NewFileReaderEventer(root string) *FileReaderEventer {
	return &FileReaderEventer{Root: root}
}

func (e *FileReaderEventer) OnOpen(msg *Message) antnet.Code {
	clean := filepath.Clean("/" + msg.URL.Path)
	full := filepath.Join(e.Root, clean)
	f, err := os.Open(full)
	if err != nil {
		msg.Eventer = NewErrorEventer(404, "Not Found")
		return msg.Eventer.OnOpen(msg)
	}
	e.f = f

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		msg.Eventer = NewErrorEventer(403, "Forbidden")
		return msg.Eventer.OnOpen(msg)
	}

	writeChunkedResponseHead(msg, 200, "OK", mimeForExt(clean))
	return antnet.CodeOK
}

// OnSent is invoked by StationRespBody once the output ring has drained
// to ask for more body; it reads the next chunk, writes it as
// "<hex-len>\r\n<data>\r\n", and returns CodeRetry while more remains or
// CodeClosing once the file (and terminal 0-length chunk) is fully sent.
func (e *FileReaderEventer) OnSent(msg *Message) antnet.Code {
	if e.f == nil {
		return antnet.CodeClosing
	}
	n, err := e.f.Read(e.chunkBuf[:])
	if n > 0 {
		writeChunk(msg, e.chunkBuf[:n])
	}
	if err != nil || n == 0 {
		writeChunk(msg, nil) // terminal 0-length chunk
		e.f.Close()
		e.f = nil
		return antnet.CodeClosing
	}
	return antnet.CodeRetry
}

func (e *FileReaderEventer) OnClose(*Message) {
	if e.f != nil {
		e.f.Close()
		e.f = nil
	}
}

// ---- file writer (upload) ---------------------------------------------

// FileWriterEventer consumes the inbound request body to disk and emits
// a JSON ack once the upload completes.
type FileWriterEventer struct {
	BaseEventer
	Root string

	f       *os.File
	written int64
	path    string
}

func NewFileWriterEventer(root string) *FileWriterEventer {
	return &FileWriterEventer{Root: root}
}

func (e *FileWriterEventer) OnHeadDone(msg *Message) antnet.Code {
	clean := filepath.Clean("/" + msg.URL.Path)
	e.path = clean
	full := filepath.Join(e.Root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return antnet.CodeError
	}
	f, err := os.Create(full)
	if err != nil {
		return antnet.CodeError
	}
	e.f = f
	return antnet.CodeOK
}

func (e *FileWriterEventer) OnBodyPart(msg *Message, b []byte) antnet.Code {
	if e.f == nil {
		return antnet.CodeError
	}
	n, err := e.f.Write(b)
	e.written += int64(n)
	if err != nil {
		return antnet.CodeError
	}
	return antnet.CodeOK
}

func (e *FileWriterEventer) OnFinish(msg *Message) antnet.Code {
	if e.f != nil {
		e.f.Close()
		e.f = nil
	}
	ack, _ := json.Marshal(map[string]any{"ok": true, "path": e.path, "bytes": e.written})
	writeResponseHead(msg, 200, "OK", "application/json", len(ack), msg.Flags&MsgKeepAlive != 0)
	msg.Output.Write(ack)
	return antnet.CodeOK
}

func (e *FileWriterEventer) OnClose(*Message) {
	if e.f != nil {
		e.f.Close()
		e.f = nil
	}
}

// ---- directory listing -------------------------------------------------

// DirListEventer renders a directory's entries as a minimal HTML index.
type DirListEventer struct {
	BaseEventer
	Root string
}

func NewDirListEventer(root string) *DirListEventer {
	return &DirListEventer{Root: root}
}

func (e *DirListEventer) OnOpen(msg *Message) antnet.Code {
	clean := filepath.Clean("/" + msg.URL.Path)
	full := filepath.Join(e.Root, clean)
	entries, err := os.ReadDir(full)
	if err != nil {
		msg.Eventer = NewErrorEventer(404, "Not Found")
		return msg.Eventer.OnOpen(msg)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		n := ent.Name()
		if ent.IsDir() {
			n += "/"
		}
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, n := range names {
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>", n, n)
	}
	b.WriteString("</ul></body></html>")

	body := b.String()
	writeResponseHead(msg, 200, "OK", "text/html", len(body), msg.Flags&MsgKeepAlive != 0)
	msg.Output.Write([]byte(body))
	return antnet.CodeOK
}

// ---- scripted eventer ---------------------------------------------------

// ScriptHandler is the surface a scripting host would implement; it
// stands in for the embedded scripting host named as an external
// collaborator in spec §1 — this runtime only specifies the seam.
type ScriptHandler interface {
	HandleOpen(msg *Message) antnet.Code
	HandleBody(msg *Message, b []byte) antnet.Code
	HandleFinish(msg *Message) antnet.Code
}

// ScriptEventer dispatches every callback to a ScriptHandler, letting a
// host language drive the response without the station pipeline
// knowing anything about it.
type ScriptEventer struct {
	BaseEventer
	Handler ScriptHandler
}

func NewScriptEventer(h ScriptHandler) *ScriptEventer { return &ScriptEventer{Handler: h} }

func (e *ScriptEventer) OnOpen(msg *Message) antnet.Code       { return e.Handler.HandleOpen(msg) }
func (e *ScriptEventer) OnBodyPart(msg *Message, b []byte) antnet.Code {
	return e.Handler.HandleBody(msg, b)
}
func (e *ScriptEventer) OnFinish(msg *Message) antnet.Code { return e.Handler.HandleFinish(msg) }

// ---- response serialization helpers ------------------------------------

func writeResponseHead(msg *Message, status int, reason, contentType string, contentLength int, keepAlive bool) {
	conn := "close"
	if keepAlive {
		conn = "keep-alive"
	}
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n",
		status, reason, contentType, contentLength, conn)
	msg.Output.Write([]byte(head))
}

func writeChunkedResponseHead(msg *Message, status int, reason, contentType string) {
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nTransfer-Encoding: chunked\r\nConnection: keep-alive\r\n\r\n",
		status, reason, contentType)
	msg.Output.Write([]byte(head))
}

// writeChunk appends one chunked-transfer chunk, using the ring
// buffer's reserve-then-rewrite path to backfill the hex length prefix
// once the chunk body has actually been written.
func writeChunk(msg *Message, data []byte) {
	const maxPrefix = 10 // 8 zero-padded hex digits + CRLF
	pos, scratch := msg.Output.PeekTail(maxPrefix, len(data)+2)
	n := copy(scratch, data)
	msg.Output.CommitTail(maxPrefix + n)
	if n < len(data) {
		msg.Output.Write(data[n:])
	}
	msg.Output.Write([]byte("\r\n"))

	prefix := []byte(strconv.FormatInt(int64(len(data)), 16))
	padded := make([]byte, maxPrefix)
	copy(padded, zeroPad(prefix, maxPrefix-2))
	padded[maxPrefix-2] = '\r'
	padded[maxPrefix-1] = '\n'
	msg.Output.Rewrite(pos, padded, maxPrefix)
}

func zeroPad(hex []byte, width int) []byte {
	if len(hex) >= width {
		return hex[len(hex)-width:]
	}
	out := make([]byte, width)
	for i := range out {
		out[i] = '0'
	}
	copy(out[width-len(hex):], hex)
	return out
}

func mimeForExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
