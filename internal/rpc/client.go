// Package rpc implements the request-id allocator, response-handler
// registry, synchronous-request rendezvous, and inbound dispatch
// described in spec.md §4.3. It sits directly on top of a Transport and
// knows nothing about LSP method semantics beyond the generic
// request/notification/response envelope shapes.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/firi/lspcore/internal/protocol"
)

// Sender is the minimal surface rpc.Client needs from a Transport: an
// outbound write that silently drops after close, and idempotent Close.
type Sender interface {
	Send(payload any) error
	Close() error
}

// Logger is the minimal structured-logging surface consumed by rpc.Client
// and, by composition, by Session. Satisfied by internal/logger.Logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// SuccessHandler receives the raw `result` field of a matching response.
type SuccessHandler func(result json.RawMessage)

// ErrorHandler receives the `error` field of a matching response.
type ErrorHandler func(err *protocol.Error)

// MethodHandler answers a server-originated request or notification. id
// is nil for notifications. Returning a non-nil *protocol.Error for a
// request encodes that error back to the server; the return value is
// ignored for notifications (spec.md §4.3 rule 1).
type MethodHandler func(ctx context.Context, id json.RawMessage, params json.RawMessage) (result any, protoErr *protocol.Error)

type handlerPair struct {
	onSuccess SuccessHandler
	onError   ErrorHandler
}

// syncResult is the single-slot rendezvous a synchronous caller waits on.
// done is closed exactly once, by whichever of dispatchResponse or
// Shutdown delivers a result first; value/err are only meaningful after
// done is closed. Using a once-closed channel instead of a raw condvar
// wakeup avoids leaking the waiting goroutine when ExecuteRequest instead
// returns via timeout or context cancellation.
type syncResult struct {
	done chan struct{}
	once sync.Once

	value json.RawMessage
	err   *protocol.Error
}

func newSyncResult() *syncResult {
	return &syncResult{done: make(chan struct{})}
}

func (s *syncResult) deliver(value json.RawMessage, err *protocol.Error) {
	s.once.Do(func() {
		s.value = value
		s.err = err
		close(s.done)
	})
}

type readerCtxKeyType struct{}

var readerCtxKey = readerCtxKeyType{}

type idCaptureKeyType struct{}

var idCaptureKey = idCaptureKeyType{}

// WithIDCapture returns a context that makes ExecuteRequest write the id
// it allocates for this call into out. Session uses this to learn the id
// of a request that timed out, so it can fire a best-effort
// $/cancelRequest notification for it; ordinary callers never need this.
func WithIDCapture(ctx context.Context, out *int64) context.Context {
	return context.WithValue(ctx, idCaptureKey, out)
}

// DeferredResponse is a sentinel a MethodHandler returns as its
// *protocol.Error to tell dispatchMethod the reply will be sent later
// (via Client.SendResponse/SendErrorResponse, once a host decision
// arrives) instead of immediately after the handler returns. Used by
// server-originated requests like window/showMessageRequest that need a
// UI round-trip before answering.
var DeferredResponse = &protocol.Error{Code: 0, Message: "deferred"}

// ErrCalledFromReaderThread is returned by ExecuteRequest when invoked
// from the goroutine that drives inbound dispatch, which would deadlock
// waiting on its own rendezvous signal (spec.md §5 deadlock avoidance).
var ErrCalledFromReaderThread = fmt.Errorf("rpc: execute_request called from the reader thread")

// ErrTimeout is returned by ExecuteRequest when no response arrives
// within the given timeout.
var ErrTimeout = fmt.Errorf("rpc: request timed out")

// Client is the request-id allocator, response-handler table, and
// synchronous rendezvous described in spec.md §4.3.
type Client struct {
	sender Sender
	log    Logger

	mu       sync.Mutex
	nextID   int64
	handlers map[int64]handlerPair
	pending  map[int64]*syncResult // ids with a sync caller currently waiting

	exitingMu sync.Mutex
	exiting   bool

	methodsMu sync.Mutex
	methods   map[string]MethodHandler
}

// New constructs a Client bound to sender. The Client does not start
// reading; callers wire Transport's Callbacks.OnPayload to Client.OnPayload.
func New(sender Sender, log Logger) *Client {
	return &Client{
		sender:   sender,
		log:      log,
		handlers: make(map[int64]handlerPair),
		pending:  make(map[int64]*syncResult),
		methods:  make(map[string]MethodHandler),
	}
}

// SetSender (re)binds the Sender a Client writes to. Client and
// Transport have a construction-order cycle: Transport needs somewhere
// to deliver inbound frames (Session.Callbacks, which wraps this
// Client), and Client needs a Sender to write to. Callers construct the
// Client with a nil Sender, build the Transport against the Client's
// callbacks, then call SetSender once the Transport exists. Send calls
// made before SetSender return an error rather than panicking.
func (c *Client) SetSender(sender Sender) {
	c.mu.Lock()
	c.sender = sender
	c.mu.Unlock()
}

// ErrNoSender is returned by any send operation issued before a Sender
// has been bound via New or SetSender.
var ErrNoSender = fmt.Errorf("rpc: no sender bound")

func (c *Client) currentSender() (Sender, error) {
	c.mu.Lock()
	s := c.sender
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoSender
	}
	return s, nil
}

// ReaderContext returns a context marked as belonging to the transport's
// reader goroutine. Transport wiring code passes this into OnPayload-driven
// dispatch so ExecuteRequest can detect and refuse reentrant sync calls.
func ReaderContext(parent context.Context) context.Context {
	return context.WithValue(parent, readerCtxKey, true)
}

func isReaderContext(ctx context.Context) bool {
	v, _ := ctx.Value(readerCtxKey).(bool)
	return v
}

// RegisterMethod installs a static dispatch-table entry for method,
// replacing spec.md §9's observed dynamic name-mangling with a table
// built once at construction time (spec.md §9 redesign note).
func (c *Client) RegisterMethod(method string, handler MethodHandler) {
	c.methodsMu.Lock()
	defer c.methodsMu.Unlock()
	c.methods[method] = handler
}

func (c *Client) methodHandler(method string) (MethodHandler, bool) {
	c.methodsMu.Lock()
	defer c.methodsMu.Unlock()
	h, ok := c.methods[method]
	return h, ok
}

// SendRequest allocates a new monotonically increasing id, registers the
// handler pair before the bytes are observable on the wire, then writes
// the request. It never blocks; the handler runs later on the reader
// goroutine when (if) a response arrives.
func (c *Client) SendRequest(method string, params any, onSuccess SuccessHandler, onError ErrorHandler) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = handlerPair{onSuccess: onSuccess, onError: onError}
	c.mu.Unlock()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.dropHandler(id)
		return fmt.Errorf("rpc: encode request %s: %w", method, err)
	}
	sender, err := c.currentSender()
	if err != nil {
		c.dropHandler(id)
		return err
	}
	if err := sender.Send(req); err != nil {
		c.dropHandler(id)
		return fmt.Errorf("rpc: send request %s: %w", method, err)
	}
	return nil
}

// ExecuteRequest sends method/params and blocks the calling goroutine
// until a response arrives or timeout elapses. ctx must not be (and must
// not derive reentrantly from) the transport's reader context.
//
// Only the success branch is commonly exercised by callers; on a
// protocol error response, ExecuteRequest returns that error directly
// (spec.md §9's resolution of the open "execute_request error path"
// question) so callers can distinguish it from ErrTimeout.
func (c *Client) ExecuteRequest(ctx context.Context, method string, params any, timeout <-chan struct{}) (json.RawMessage, error) {
	if isReaderContext(ctx) {
		return nil, ErrCalledFromReaderThread
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	slot := newSyncResult()
	c.pending[id] = slot
	c.mu.Unlock()

	if out, ok := ctx.Value(idCaptureKey).(*int64); ok {
		*out = id
	}

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("rpc: encode request %s: %w", method, err)
	}
	sender, err := c.currentSender()
	if err != nil {
		c.dropPending(id)
		return nil, err
	}
	if err := sender.Send(req); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("rpc: send request %s: %w", method, err)
	}

	select {
	case <-slot.done:
		c.dropPending(id)
		if slot.err != nil {
			return nil, slot.err
		}
		return slot.value, nil
	case <-timeout:
		c.dropPending(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// SendNotification writes a fire-and-forget message; no id is allocated.
func (c *Client) SendNotification(method string, params any) error {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("rpc: encode notification %s: %w", method, err)
	}
	sender, err := c.currentSender()
	if err != nil {
		return err
	}
	return sender.Send(notif)
}

// SendResponse writes a success answer to a server-originated request.
func (c *Client) SendResponse(id json.RawMessage, result any) error {
	resp, err := protocol.NewResultResponse(id, result)
	if err != nil {
		return fmt.Errorf("rpc: encode response: %w", err)
	}
	sender, err := c.currentSender()
	if err != nil {
		return err
	}
	return sender.Send(resp)
}

// SendErrorResponse writes an error answer to a server-originated request.
func (c *Client) SendErrorResponse(id json.RawMessage, protoErr *protocol.Error) error {
	resp, err := protocol.NewErrorResponse(id, protoErr.Code, protoErr.Message, protoErr.Data)
	if err != nil {
		return fmt.Errorf("rpc: encode error response: %w", err)
	}
	sender, err := c.currentSender()
	if err != nil {
		return err
	}
	return sender.Send(resp)
}

// Exit sets the exiting flag, sends the "exit" notification, and closes
// the transport. Idempotent.
func (c *Client) Exit() error {
	c.exitingMu.Lock()
	if c.exiting {
		c.exitingMu.Unlock()
		return nil
	}
	c.exiting = true
	c.exitingMu.Unlock()

	_ = c.SendNotification("exit", nil)
	sender, err := c.currentSender()
	if err != nil {
		return nil
	}
	return sender.Close()
}

func (c *Client) dropHandler(id int64) {
	c.mu.Lock()
	delete(c.handlers, id)
	c.mu.Unlock()
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// OnPayload is the Transport callback entry point: it classifies raw and
// dispatches it per spec.md §4.3's classification order. It must be
// called only from the transport's single reader goroutine, and with a
// context produced by ReaderContext so downstream deadlock checks work.
func (c *Client) OnPayload(ctx context.Context, raw json.RawMessage) {
	kind, env, err := protocol.Classify(raw)
	if err != nil {
		c.log.Error("rpc: unparsable payload: %v", err)
		return
	}

	switch kind {
	case protocol.KindRequest, protocol.KindNotification:
		c.dispatchMethod(ctx, kind, env)
	case protocol.KindResponse:
		c.dispatchResponse(env)
	case protocol.KindInvalid:
		c.log.Error("rpc: invalid response payload (both or neither of result/error present): %s", string(raw))
	default:
		c.log.Error("rpc: unknown payload type: %s", string(raw))
	}
}

func (c *Client) dispatchMethod(ctx context.Context, kind protocol.PayloadKind, env protocol.Envelope) {
	handler, ok := c.methodHandler(env.Method)
	if !ok {
		if kind == protocol.KindRequest {
			_ = c.SendErrorResponse(env.ID, protocol.MethodNotFound(env.Method))
		} else {
			c.log.Info("rpc: unhandled notification %s", env.Method)
		}
		return
	}

	result, protoErr := c.invokeMethodHandler(handler, ctx, env)

	if kind != protocol.KindRequest {
		return
	}
	if protoErr == DeferredResponse {
		return
	}
	if protoErr != nil {
		_ = c.SendErrorResponse(env.ID, protoErr)
		return
	}
	_ = c.SendResponse(env.ID, result)
}

// invokeMethodHandler recovers a panicking handler and synthesizes an
// InternalError from it, per spec.md §9's Go-native resolution of
// "exception-as-error in request handlers": only a genuine panic, not a
// returned *protocol.Error, becomes InternalError.
func (c *Client) invokeMethodHandler(handler MethodHandler, ctx context.Context, env protocol.Envelope) (result any, protoErr *protocol.Error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("rpc: method handler for %s panicked: %v", env.Method, r)
			protoErr = protocol.InternalErrorFrom(fmt.Errorf("%v", r))
			result = nil
		}
	}()
	return handler(ctx, env.ID, env.Params)
}

func (c *Client) dispatchResponse(env protocol.Envelope) {
	var id int64
	if err := json.Unmarshal(env.ID, &id); err != nil {
		c.log.Error("rpc: response with unparsable id %s: %v", string(env.ID), err)
		return
	}

	c.mu.Lock()
	pair, hasHandler := c.handlers[id]
	delete(c.handlers, id)
	slot, hasPending := c.pending[id]
	c.mu.Unlock()

	if !hasHandler && !hasPending {
		c.log.Info("rpc: response for unknown or already-delivered id %d dropped", id)
		return
	}

	if env.Error != nil {
		if hasHandler {
			if pair.onError != nil {
				pair.onError(env.Error)
			} else {
				c.log.Error("rpc: error response for id %d with no registered error handler: %v", id, env.Error)
			}
			return
		}
		slot.deliver(nil, env.Error)
		return
	}

	// success
	if hasHandler {
		if pair.onSuccess != nil {
			pair.onSuccess(env.Result)
		} else {
			c.log.Info("rpc: success response for id %d has no success handler registered", id)
		}
		return
	}

	slot.deliver(env.Result, nil)
}

// Shutdown invokes the error side of every still-registered async
// handler with a synthesized TransportClosed error and wakes every
// sync rendezvous waiter with the same error, draining both tables.
// Called once when the underlying Transport reports close (spec.md §9's
// recommended resolution of the pending-handler-sweep open question).
func (c *Client) Shutdown() {
	c.mu.Lock()
	handlers := c.handlers
	c.handlers = make(map[int64]handlerPair)
	pending := c.pending
	c.pending = make(map[int64]*syncResult)
	c.mu.Unlock()

	closedErr := protocol.TransportClosed()
	for _, slot := range pending {
		slot.deliver(nil, closedErr)
	}
	for id, pair := range handlers {
		if pair.onError != nil {
			pair.onError(closedErr)
		} else {
			c.log.Info("rpc: dropping handler for id %d with no error side during shutdown sweep", id)
		}
	}
}
