// Package nativehost speaks Chrome's native messaging protocol on stdin and
// stdout: every message is a 32-bit little-endian length followed by that
// many bytes of UTF-8 JSON.
package nativehost

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostalscan/guestfill/internal/history"
	"github.com/hostalscan/guestfill/internal/router"
)

const (
	// MaxIncoming bounds a message from the extension. Chrome allows more,
	// but a request is at most a record and two document photos.
	MaxIncoming = 64 << 20
	// MaxOutgoing is Chrome's limit for a message sent to the extension.
	MaxOutgoing = 1 << 20
)

var ErrTooLarge = errors.New("native message too large")

// ReadMessage reads one framed message. It returns io.EOF when the stream
// ends cleanly between messages.
func ReadMessage(r io.Reader, max uint32) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read message length: %w", err)
	}
	if size > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return buf, nil
}

// WriteMessage frames v as JSON and writes it in a single call.
func WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if len(body) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Handler answers extension messages.
type Handler interface {
	Handle(ctx context.Context, req router.Request) any
}

// Host answers messages one at a time, in arrival order.
type Host struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	log     *zap.Logger

	mu sync.Mutex
}

func New(h Handler, in io.Reader, out io.Writer, log *zap.Logger) *Host {
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{handler: h, in: in, out: out, log: log}
}

// Serve runs until the extension closes stdin, ctx is cancelled or the
// stream becomes unreadable. A closed stdin is not an error.
func (h *Host) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := ReadMessage(h.in, MaxIncoming)
		if errors.Is(err, io.EOF) {
			h.log.Debug("extension disconnected")
			return nil
		}
		if err != nil {
			// The stream position is lost after a bad frame.
			h.log.Error("unreadable message", zap.Error(err))
			h.reply(router.ErrorReply{Error: err.Error()})
			return err
		}

		if err := h.reply(h.dispatch(ctx, msg)); err != nil {
			return err
		}
	}
}

func (h *Host) dispatch(ctx context.Context, msg []byte) any {
	var req router.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		h.log.Warn("invalid message", zap.Error(err))
		return router.ErrorReply{Error: "invalid message: " + err.Error()}
	}
	if req.Action == "" {
		return router.ErrorReply{Error: "invalid message: action is required"}
	}
	req.ID = uuid.NewString()
	req.Origin = history.SourceNative

	h.log.Debug("message", zap.String("id", req.ID), zap.String("action", req.Action))
	return h.handler.Handle(ctx, req)
}

func (h *Host) reply(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := WriteMessage(h.out, v)
	if errors.Is(err, ErrTooLarge) {
		h.log.Error("reply dropped", zap.Error(err))
		return WriteMessage(h.out, router.ErrorReply{Error: "reply too large"})
	}
	return err
}
