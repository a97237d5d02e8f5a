package httpstation

import (
	"bytes"
	"testing"

	"github.com/antmuse/antnet"
	"github.com/stretchr/testify/require"
)

// fakeConn is the minimal Conn a Layer needs in tests: a buffer to
// capture whatever flushOutput writes, with no real socket underneath.
type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// recordingEventer tracks which capability methods the pipeline invoked,
// so a test can assert the station sequence drove the eventer contract
// without needing a real socket.
type recordingEventer struct {
	BaseEventer
	calls []string
	body  []byte
}

func (e *recordingEventer) OnOpen(msg *Message) antnet.Code {
	e.calls = append(e.calls, "open")
	return antnet.CodeOK
}

func (e *recordingEventer) OnHeadDone(msg *Message) antnet.Code {
	e.calls = append(e.calls, "head")
	return antnet.CodeOK
}

func (e *recordingEventer) OnBodyPart(msg *Message, b []byte) antnet.Code {
	e.calls = append(e.calls, "body")
	e.body = append(e.body, b...)
	return antnet.CodeOK
}

func (e *recordingEventer) OnFinish(msg *Message) antnet.Code {
	e.calls = append(e.calls, "finish")
	return antnet.CodeOK
}

func (e *recordingEventer) OnSent(msg *Message) antnet.Code {
	e.calls = append(e.calls, "sent")
	return antnet.CodeClosing
}

func (e *recordingEventer) OnClose(msg *Message) {
	e.calls = append(e.calls, "close")
}

func newTestLayerMessage(ev Eventer) (*Layer, *Message) {
	layer := NewLayer(&fakeConn{})
	msg := NewMessage(layer)
	msg.Eventer = ev
	msg.URL = URLParts{Path: "/widgets"}
	return layer, msg
}

func TestPipelineDrivesFullRequestResponseCycle(t *testing.T) {
	ev := &recordingEventer{}
	_, msg := newTestLayerMessage(ev)
	msg.Input.Write([]byte("hello"))
	msg.Station = StPath

	p := NewPipeline()
	// open -> head -> BODY, where BODY always reports RETRY: only the
	// parser's on_msg_end callback (simulated below) is allowed to push
	// the message past it.
	res := p.Step(msg)
	require.Equal(t, ResRetry, res)
	require.Equal(t, StBody, msg.Station)

	msg.Station = StBodyDone
	res = p.Step(msg)

	require.Equal(t, ResOK, res)
	require.Equal(t, StClose, msg.Station)
	require.Equal(t, []string{"open", "head", "body", "finish", "sent", "close"}, ev.calls)
	require.Equal(t, "hello", string(ev.body))
}

func TestStationReqBodyRetriesUntilParserAdvancesPastIt(t *testing.T) {
	ev := &recordingEventer{}
	_, msg := newTestLayerMessage(ev)
	msg.Station = StBody

	p := NewPipeline()
	require.Equal(t, ResRetry, p.Step(msg))
	require.Equal(t, StBody, msg.Station)
	require.Equal(t, []string{"body"}, ev.calls)
}

func TestStationReqPathRejectsPathTraversal(t *testing.T) {
	_, msg := newTestLayerMessage(nil)
	msg.URL.Path = "/../../etc/passwd"
	msg.Station = StPath

	p := NewPipeline()
	res := p.Step(msg)
	require.Equal(t, ResRetry, res) // RESP_BODY_DONE's own flush drains, then yields once
	require.Equal(t, StRespBodyDone, msg.Station)

	res = p.Step(msg)
	require.Equal(t, ResOK, res)
	require.Equal(t, StClose, msg.Station)

	errEventer, isError := msg.Eventer.(*ErrorEventer)
	require.True(t, isError)
	require.Equal(t, 403, errEventer.Status)
}

func TestContainsDotDot(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/a/../b", true},
		{"/a/..", true},      // trailing segment, no closing slash
		{"/..", true},        // whole path is just ".."
		{"..", true},         // no leading slash at all
		{"/a/b..", false},    // ".." is part of a longer segment name
		{"/a/..b", false},    // same, on the other side
		{"/a/b/c", false},
		{"/", false},
		{"", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, containsDotDot(c.path), "path %q", c.path)
	}
}

func TestStationReqPathRewritesRootToIndex(t *testing.T) {
	ev := &recordingEventer{}
	_, msg := newTestLayerMessage(ev)
	msg.URL.Path = "/"

	require.Equal(t, ResOK, StationReqPath(msg))
	require.Equal(t, "/index.html", msg.URL.Path)
}

func TestStationErrorSwapsInStockEventerAndFlushesResponse(t *testing.T) {
	ev := &recordingEventer{}
	layer, msg := newTestLayerMessage(ev)
	msg.Station = StError

	p := NewPipeline()
	// StationError only stages the body and advances; RESP_BODY_DONE
	// flushes it and reports RETRY, so the first Step leaves the message
	// at RESP_BODY_DONE with that flush already drained;
	// a second Step (as a real read loop would issue on its next byte
	// or timer tick) sees an empty Output and finally closes.
	res := p.Step(msg)
	require.Equal(t, ResRetry, res)
	require.Equal(t, StRespBodyDone, msg.Station)

	res = p.Step(msg)
	require.Equal(t, ResOK, res)

	_, isError := msg.Eventer.(*ErrorEventer)
	require.True(t, isError)
	require.Equal(t, StClose, msg.Station)

	conn := layer.Conn.(*fakeConn)
	require.Contains(t, conn.String(), "500")
	require.True(t, conn.closed)
}
