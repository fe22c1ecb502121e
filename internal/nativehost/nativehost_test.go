package nativehost

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/router"
)

func frame(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(body))))
	buf.WriteString(body)
	return buf.Bytes()
}

func readAll(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		msg, err := ReadMessage(r, MaxOutgoing)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(msg, &m))
		out = append(out, m)
	}
}

type echoHandler struct {
	requests []router.Request
}

func (h *echoHandler) Handle(ctx context.Context, req router.Request) any {
	h.requests = append(h.requests, req)
	if req.Action == router.ActionPing {
		return router.PingReply{Success: true, Message: router.MsgPong}
	}
	if req.Action == "huge" {
		return map[string]string{"blob": strings.Repeat("x", MaxOutgoing)}
	}
	return router.ErrorReply{Error: router.MsgUnknownAction}
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, map[string]int{"a": 1}))

	raw := buf.Bytes()
	assert.Equal(t, []byte{7, 0, 0, 0}, raw[:4])
	assert.Equal(t, `{"a":1}`, string(raw[4:]))

	msg, err := ReadMessage(bytes.NewReader(raw), MaxIncoming)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(msg))
}

func TestReadMessageErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		check func(t *testing.T, err error)
	}{
		{"empty stream", nil, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, io.EOF)
		}},
		{"short length", []byte{1, 0}, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "failed to read message length")
		}},
		{"truncated body", []byte{5, 0, 0, 0, '{', '}'}, func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "failed to read message body")
		}},
		{"over limit", []byte{0, 0, 0, 1}, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrTooLarge)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tt.input), 1024)
			tt.check(t, err)
		})
	}
}

func TestServe(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, `{"action":"ping"}`))
	in.Write(frame(t, `not json`))
	in.Write(frame(t, `{"data":{}}`))
	in.Write(frame(t, `{"action":"launchRockets"}`))

	h := &echoHandler{}
	var out bytes.Buffer
	require.NoError(t, New(h, &in, &out, nil).Serve(context.Background()))

	replies := readAll(t, &out)
	require.Len(t, replies, 4)
	assert.Equal(t, true, replies[0]["success"])
	assert.Equal(t, router.MsgPong, replies[0]["message"])
	assert.Contains(t, replies[1]["error"], "invalid message")
	assert.Equal(t, "invalid message: action is required", replies[2]["error"])
	assert.Equal(t, router.MsgUnknownAction, replies[3]["error"])

	require.Len(t, h.requests, 2)
	for _, req := range h.requests {
		assert.Equal(t, history.SourceNative, req.Origin)
		assert.Len(t, req.ID, 36)
	}
	assert.NotEqual(t, h.requests[0].ID, h.requests[1].ID)
}

func TestServeBadFrame(t *testing.T) {
	in := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	var out bytes.Buffer

	err := New(&echoHandler{}, in, &out, nil).Serve(context.Background())
	assert.ErrorIs(t, err, ErrTooLarge)

	replies := readAll(t, &out)
	require.Len(t, replies, 1)
	assert.Equal(t, false, replies[0]["success"])
}

func TestServeReplyTooLarge(t *testing.T) {
	in := bytes.NewReader(frame(t, `{"action":"huge"}`))
	var out bytes.Buffer

	require.NoError(t, New(&echoHandler{}, in, &out, nil).Serve(context.Background()))

	replies := readAll(t, &out)
	require.Len(t, replies, 1)
	assert.Equal(t, "reply too large", replies[0]["error"])
}

func TestServeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := bytes.NewReader(frame(t, `{"action":"ping"}`))
	var out bytes.Buffer
	err := New(&echoHandler{}, in, &out, nil).Serve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Len())
}
