package vault

import "fmt"

// Kind is the error taxonomy of spec.md §7. Every error this module
// returns across a package boundary can be matched against one of
// these with errors.As, regardless of how many internal layers wrapped
// it with additional context.
type Kind int

const (
	// KindNetwork is a transient transport error; the request pipeline
	// already retried within its budget before surfacing this.
	KindNetwork Kind = iota + 1
	// KindServer is a non-2xx response with a structured error body.
	KindServer
	// KindUnauthenticated means the api-key (or socket auth) was
	// rejected.
	KindUnauthenticated
	// KindConversion is a parse/decode failure at a boundary (JSON,
	// MessagePack, UUID, date).
	KindConversion
	// KindResponse means the server returned a semantically invalid
	// shape: a missing required field or an unrecognized enum value.
	KindResponse
	// KindInvalidState means the operation was invoked on a state that
	// cannot service it (a closed FileWriter, a disconnected socket).
	KindInvalidState
	// KindInvalidType means an operand was the wrong FSObject variant
	// (a file where a directory was required, or vice versa).
	KindInvalidType
	// KindIO is a local-filesystem error.
	KindIO
	// KindFileChangedDuringSync is an optimistic-concurrency violation:
	// the local file changed mid transfer.
	KindFileChangedDuringSync
	// KindUnsupported marks a feature this client does not implement on
	// this path (see DESIGN.md, the Copy operation).
	KindUnsupported
	// KindMetadataWasNotDecrypted means the caller asked for plaintext
	// of an object whose metadata envelope failed to decrypt.
	KindMetadataWasNotDecrypted
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindConversion:
		return "conversion"
	case KindResponse:
		return "response"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidType:
		return "invalid_type"
	case KindIO:
		return "io"
	case KindFileChangedDuringSync:
		return "file_changed_during_sync"
	case KindUnsupported:
		return "unsupported"
	case KindMetadataWasNotDecrypted:
		return "metadata_was_not_decrypted"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// Context is a short chain of "endpoint: operation"-style strings added
// by each business layer as the error propagates up, without ever
// changing Kind (spec.md §7 "Propagation policy").
type Error struct {
	Kind    Kind
	Code    string // HTTP status code of a rejected request, carried over from the transport error
	Context string
	Err     error
}

func (e *Error) Error() string {
	if e.Context == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Context, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, someKindSentinel) match on Kind alone, so
// callers can write errors.Is(err, vault.ErrInvalidType) without caring
// about the context chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil || t.Context != "" {
		return false
	}
	return e.Kind == t.Kind
}

// newErr constructs a new Error, optionally wrapping a cause.
func newErr(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Err: cause}
}

// wrapContext adds one more "operation" frame onto an existing *Error
// without changing its Kind, per spec.md §7's propagation policy.
// Non-*Error causes are wrapped fresh as KindResponse; causes that
// already went through classification (transport, codec, etc) arrive
// here as *Error and keep their Kind.
func wrapContext(err error, context string) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*Error); ok {
		if ve.Context == "" {
			return &Error{Kind: ve.Kind, Code: ve.Code, Context: context, Err: ve.Err}
		}
		return &Error{Kind: ve.Kind, Code: ve.Code, Context: context + ": " + ve.Context, Err: ve.Err}
	}
	return &Error{Kind: KindResponse, Context: context, Err: err}
}

// Sentinel zero-context errors usable with errors.Is, matching the
// taxonomy's eleven kinds. These mirror the teacher's sentinel package
// errors (EARGS, ENOENT, EBADRESP, EAGAIN, EMACMISMATCH,
// EWORKER_LIMIT_EXCEEDED) generalized to the full spec.md taxonomy.
var (
	ErrNetwork                 = &Error{Kind: KindNetwork}
	ErrServer                  = &Error{Kind: KindServer}
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
	ErrConversion              = &Error{Kind: KindConversion}
	ErrResponse                = &Error{Kind: KindResponse}
	ErrInvalidState            = &Error{Kind: KindInvalidState}
	ErrInvalidType             = &Error{Kind: KindInvalidType}
	ErrIO                      = &Error{Kind: KindIO}
	ErrFileChangedDuringSync   = &Error{Kind: KindFileChangedDuringSync}
	ErrUnsupported             = &Error{Kind: KindUnsupported}
	ErrMetadataWasNotDecrypted = &Error{Kind: KindMetadataWasNotDecrypted}

	// ErrArgs is kept as a thin alias over KindInvalidState for
	// argument-validation failures, matching the teacher's EARGS in
	// shape: "this call cannot be serviced as given".
	ErrArgs = &Error{Kind: KindInvalidState, Context: "invalid arguments"}
)

// InvalidTypeError carries the {expected, actual} pair spec.md §7
// requires for KindInvalidType.
type InvalidTypeError struct {
	Expected string
	Actual   string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

func newInvalidType(expected, actual string) error {
	return newErr(KindInvalidType, "", &InvalidTypeError{Expected: expected, Actual: actual})
}
