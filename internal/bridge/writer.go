package bridge

import (
	"context"

	"mcc/internal/frame"
	"mcc/internal/wsconn"
)

// writer owns the single goroutine permitted to call WriteFrame on a
// session's FrameConn (§4.4, §9 "Single-writer WebSocket"). It is fed
// by two one-slot channels — control always drains ahead of data, so a
// PING or CLOSE can never queue behind a backed-up DATA frame.
type writer struct {
	conn    *wsconn.FrameConn
	data    chan frame.Frame
	control chan frame.Frame
	errc    chan error
	done    chan struct{}
}

func newWriter(conn *wsconn.FrameConn) *writer {
	return &writer{
		conn:    conn,
		data:    make(chan frame.Frame, 1),
		control: make(chan frame.Frame, 1),
		errc:    make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// run is the writer actor's loop. It exits on ctx cancellation or on
// the first write error, which it reports on errc (buffered, so the
// actor never blocks trying to report it).
func (w *writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		// Control first, always: a non-blocking peek lets a pending
		// control frame jump ahead of a pending data frame even when
		// both are ready.
		select {
		case fr := <-w.control:
			if err := w.conn.WriteFrame(ctx, fr); err != nil {
				w.fail(err)
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case fr := <-w.control:
			if err := w.conn.WriteFrame(ctx, fr); err != nil {
				w.fail(err)
				return
			}
		case fr := <-w.data:
			if err := w.conn.WriteFrame(ctx, fr); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *writer) fail(err error) {
	select {
	case w.errc <- err:
	default:
	}
}

// sendData enqueues one DATA frame, blocking until the one-slot data
// channel has room or ctx is done — this is the egress pump's
// backpressure point. It returns once the frame is queued, not once it
// is written, so at most one DATA frame waits behind the one the actor
// is currently writing.
func (w *writer) sendData(ctx context.Context, fr frame.Frame) error {
	select {
	case w.data <- fr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return errWriterClosed
	}
}

// sendControl enqueues one control frame (PING/PONG/CLOSE/REJECT).
func (w *writer) sendControl(ctx context.Context, fr frame.Frame) error {
	select {
	case w.control <- fr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return errWriterClosed
	}
}
