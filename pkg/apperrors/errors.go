package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStoreClosed     = errors.New("session store closed")
	ErrEmptyQuery      = errors.New("empty query")
)

// Kind classifies every failure the query pipeline can produce.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionLost
	KindTimeout
	KindPoolExhausted
	KindSyntaxError
	KindMissingRelation
	KindPermissionDenied
	KindValidatorRejection
	KindLLMUnavailable
	KindLLMMalformed
	KindCacheFailure
	KindSchemaUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindConnectionLost:     "connection_lost",
	KindTimeout:            "timeout",
	KindPoolExhausted:      "pool_exhausted",
	KindSyntaxError:        "syntax_error",
	KindMissingRelation:    "missing_relation",
	KindPermissionDenied:   "permission_denied",
	KindValidatorRejection: "validator_rejection",
	KindLLMUnavailable:     "llm_unavailable",
	KindLLMMalformed:       "llm_malformed",
	KindCacheFailure:       "cache_failure",
	KindSchemaUnavailable:  "schema_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether an operation failing with this kind may succeed
// when attempted again unchanged.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectionLost, KindTimeout, KindPoolExhausted:
		return true
	default:
		return false
	}
}

// Error is a classified failure with a message that is safe to show users.
// Cause keeps the underlying provider error for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable satisfies retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Kind.Retryable()
}

// New creates a classified error with a user-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause. An empty message falls back to the kind's default.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindUnknown
}

var defaultMessages = map[Kind]string{
	KindUnknown:            "Something went wrong while answering your question. Please try again.",
	KindConnectionLost:     "The system is busy right now, please try again in a moment.",
	KindTimeout:            "The system is busy right now, please try again in a moment.",
	KindPoolExhausted:      "The system is busy right now, please try again in a moment.",
	KindSyntaxError:        "I couldn't understand that request well enough to look it up. Could you rephrase it?",
	KindMissingRelation:    "I couldn't find that information. Could you rephrase your question?",
	KindPermissionDenied:   "You don't have access to that information.",
	KindValidatorRejection: "I couldn't build a safe query for that request. Could you rephrase it?",
	KindLLMUnavailable:     "The assistant is unavailable right now, please try again shortly.",
	KindLLMMalformed:       "I couldn't work out how to answer that. Could you rephrase your question?",
	KindCacheFailure:       "Something went wrong while answering your question. Please try again.",
	KindSchemaUnavailable:  "The database catalog is unavailable right now, please try again later.",
}

// UserMessage converts any error into a sentence that can be shown to the
// user. Classified errors keep their own message; anything else gets the
// generic fallback so provider details never leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		if appErr.Message != "" {
			return appErr.Message
		}
		return defaultMessages[appErr.Kind]
	}
	return defaultMessages[KindUnknown]
}

// DefaultMessage returns the canned user message for kind.
func DefaultMessage(kind Kind) string {
	if msg, ok := defaultMessages[kind]; ok {
		return msg
	}
	return defaultMessages[KindUnknown]
}
