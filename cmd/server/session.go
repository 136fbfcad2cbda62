package main

import (
	"context"

	"github.com/rs/zerolog"
)

// jsonWriter is the slice of *websocket.Conn the session writer needs.
type jsonWriter interface {
	WriteJSON(v any) error
	Close() error
}

// wsSession funnels every outbound frame for one connection through a
// single writer goroutine. gorilla/websocket supports at most one
// concurrent writer per connection, and a session has two producers: the
// request loop (acks, errors) and the pub/sub relay (commit notices).
type wsSession struct {
	conn     jsonWriter
	outbound chan any
	failed   chan struct{}
	logger   zerolog.Logger
}

func newWSSession(conn jsonWriter, logger zerolog.Logger) *wsSession {
	return &wsSession{
		conn:     conn,
		outbound: make(chan any, 256),
		failed:   make(chan struct{}),
		logger:   logger,
	}
}

// run writes queued frames until ctx is done or a write fails. On failure
// it closes the connection so the read loop unblocks too. Call it in its
// own goroutine.
func (s *wsSession) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.outbound:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("write to client")
				close(s.failed)
				s.conn.Close()
				return
			}
		}
	}
}

// enqueue hands a frame to the writer, reporting false once the session is
// no longer writable. A dead session is checked first so queued capacity
// never masks the failure.
func (s *wsSession) enqueue(ctx context.Context, msg any) bool {
	select {
	case <-s.failed:
		return false
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case s.outbound <- msg:
		return true
	case <-s.failed:
		return false
	case <-ctx.Done():
		return false
	}
}
