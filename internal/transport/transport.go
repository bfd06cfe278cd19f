// Package transport is the boundary to the RPC layer. The engine only needs
// to send schema messages, receive typed responses or opaque errors, and
// cancel outstanding requests; everything else is the transport's business.
package transport

// RequestID identifies an outstanding request. Zero means "no request".
type RequestID int64

// Request is a single outgoing message with optional completion callbacks.
type Request struct {
	// Msg is one of the request types from internal/tl.
	Msg any
	// After chains this request behind a previously issued one: the
	// transport must not submit it before the referenced request completed.
	After RequestID
	// Done receives the response payload. May be nil.
	Done func(any)
	// Fail receives the opaque error. May be nil.
	Fail func(error)
}

// Requester sends requests and cancels them. Completion callbacks are invoked
// from the transport's delivery goroutine; they must not block.
type Requester interface {
	Send(Request) RequestID
	// Cancel drops the request's callbacks; a response arriving later is
	// discarded. Cancelling an unknown or completed id is a no-op.
	Cancel(RequestID)
}
