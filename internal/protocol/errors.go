package protocol

import "fmt"

// MethodNotFound builds the locally-originated protocol error returned
// for an unrecognized incoming request, per spec.md §4.3 rule 1.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: method}
}

// InternalErrorFrom wraps a non-protocol failure raised by a local
// request handler. The reply's message is the error's text prefixed
// with "internal error: ".
func InternalErrorFrom(err error) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf("internal error: %v", err)}
}

// TransportClosed is the synthesized error delivered to every still
// registered response handler when the transport closes before a real
// response arrives (spec.md §9's recommended resolution of the pending
// handler sweep open question).
func TransportClosed() *Error {
	return &Error{Code: CodeInternalError, Message: "transport closed before response arrived"}
}

// RequestCancelled builds the LSP request-cancelled error. It is not
// delivered to the sync rendezvous: when ClientConfig.CancelOnTimeout
// fires $/cancelRequest, the timed-out caller still receives rpc.ErrTimeout.
func RequestCancelled() *Error {
	return &Error{Code: CodeRequestCancelled, Message: "request cancelled"}
}
