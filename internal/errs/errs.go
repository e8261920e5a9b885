// Package errs defines the unified fault taxonomy shared by every
// component. Internal causes stay attached to the Error (see Unwrap) and
// only the sanitized outward message ever reaches the gateway or the UI.
// This package does no logging, and the gateway's fault writer does not
// log the internal cause either.
package errs

import "fmt"

// Kind names the external error code surfaced to API/gateway callers.
type Kind string

const (
	KindDatabase          Kind = "DATABASE"
	KindNetwork           Kind = "NETWORK"
	KindJSON              Kind = "JSON"
	KindNotFound          Kind = "NOT_FOUND"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindBadRequest        Kind = "BAD_REQUEST"
	KindAccountNotFound   Kind = "ACCOUNT_NOT_FOUND"
	KindAPI               Kind = "API"
	KindAuth              Kind = "AUTH"
	KindWebSocket         Kind = "WEBSOCKET"
	KindNoConnection      Kind = "NO_CONNECTION"
	KindConnectionClosed  Kind = "CONNECTION_CLOSED"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindKeychain          Kind = "KEYCHAIN"
	KindQueryFailed       Kind = "QUERY_FAILED"
)

// Error is the single error type passed between components. Endpoint and
// Status are only meaningful for Kind == KindAPI.
type Error struct {
	Kind     Kind
	Endpoint string
	Status   int
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Database(cause error) *Error {
	return &Error{Kind: KindDatabase, Message: "database operation failed", cause: cause}
}

func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "network request failed", cause: cause}
}

func JSON(cause error) *Error {
	return &Error{Kind: KindJSON, Message: "response parsing failed", cause: cause}
}

func AccountNotFound(accountID string) *Error {
	return &Error{Kind: KindAccountNotFound, Message: fmt.Sprintf("account not found: %s", accountID)}
}

func API(endpoint string, status int, message string) *Error {
	return &Error{Kind: KindAPI, Endpoint: endpoint, Status: status, Message: message}
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func WebSocket(cause error) *Error {
	return &Error{Kind: KindWebSocket, Message: "websocket error", cause: cause}
}

func NoConnection(accountID string) *Error {
	return &Error{Kind: KindNoConnection, Message: fmt.Sprintf("no connection for account: %s", accountID)}
}

func ConnectionClosed() *Error {
	return &Error{Kind: KindConnectionClosed, Message: "connection closed"}
}

func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func Keychain(cause error) *Error {
	return &Error{Kind: KindKeychain, Message: "keychain operation failed", cause: cause}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func QueryFailed(message string) *Error {
	return &Error{Kind: KindQueryFailed, Message: message}
}

// sanitizedKinds are folded to a generic message before ever leaving the
// process; their cause is never echoed outward.
var sanitizedKinds = map[Kind]string{
	KindDatabase:  "database operation failed",
	KindNetwork:   "network request failed",
	KindJSON:      "response parsing failed",
	KindWebSocket: "websocket error",
	KindKeychain:  "keychain operation failed",
}

// Sanitize returns the (code, message) pair that is safe to serialize to
// an external caller. API and Auth messages are composed by this process
// itself and pass through verbatim; everything else that wraps a raw
// internal fault is replaced by a short generic string.
func Sanitize(err error) (code string, message string) {
	e, ok := err.(*Error)
	if !ok {
		return string(KindDatabase), "internal error"
	}
	if generic, isSanitized := sanitizedKinds[e.Kind]; isSanitized {
		return string(e.Kind), generic
	}
	return string(e.Kind), e.Message
}

// HTTPStatus maps a Kind to the status code the gateway should respond with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound, KindAccountNotFound:
		return 404
	case KindUnauthorized, KindAuth:
		return 401
	case KindBadRequest, KindInvalidInput:
		return 400
	case KindQueryFailed:
		return 500
	default:
		return 500
	}
}
