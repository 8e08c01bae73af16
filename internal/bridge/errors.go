package bridge

import "errors"

// errWriterClosed is returned by the writer actor's send methods once
// the actor has exited (fatal write error or cancellation) and can no
// longer accept new frames.
var errWriterClosed = errors.New("bridge: writer closed")

// ErrNotEstablished is returned by TriggerPing when the session has
// not reached Established yet (§4.6 "no-op if not Established" —
// surfaced here as an error so the Registry can decide whether that's
// worth reporting).
var ErrNotEstablished = errors.New("bridge: session not established")
