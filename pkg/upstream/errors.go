package upstream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the canonical classification of an upstream failure.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindBotBlocked      ErrorKind = "bot_blocked"
	KindUserDeactivated ErrorKind = "user_deactivated"
	KindChatNotFound    ErrorKind = "chat_not_found"
	KindInvalidChatID   ErrorKind = "invalid_chat_id"
	KindForbidden       ErrorKind = "forbidden"
	KindBadRequest      ErrorKind = "bad_request"
	KindTimeout         ErrorKind = "timeout"
	KindNetwork         ErrorKind = "network"
	KindServer          ErrorKind = "server"
	KindOther           ErrorKind = "other"
)

// Error is a classified upstream failure. RetryAfter is only meaningful for
// KindRateLimited and is zero when the 429 did not carry retry_after.
type Error struct {
	Kind        ErrorKind
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("upstream %s (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Description)
}

// Skippable reports whether the failure means the recipient is permanently
// unreachable and the addressee should be marked skipped rather than failed.
func (e *Error) Skippable() bool {
	switch e.Kind {
	case KindBotBlocked, KindUserDeactivated, KindChatNotFound, KindInvalidChatID:
		return true
	}
	return false
}

// IsRateLimited extracts the 429 back-off hint from an error chain. The
// returned duration is zero when the upstream gave no retry_after.
func IsRateLimited(err error) (time.Duration, bool) {
	var ue *Error
	if errors.As(err, &ue) && ue.Kind == KindRateLimited {
		return ue.RetryAfter, true
	}
	return 0, false
}

// IsSkippable reports whether an error chain carries a skip-worthy upstream
// failure.
func IsSkippable(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Skippable()
}

// classify maps an upstream rejection onto a canonical kind. The textual
// description is authoritative for the semantic kinds because the upstream
// multiplexes them over 400 and 403.
func classify(statusCode int, description string, retryAfterSeconds int) *Error {
	e := &Error{
		StatusCode:  statusCode,
		Description: description,
	}
	desc := strings.ToLower(description)
	switch {
	case statusCode == 429:
		e.Kind = KindRateLimited
		e.RetryAfter = time.Duration(retryAfterSeconds) * time.Second
	case strings.Contains(desc, "bot was blocked"):
		e.Kind = KindBotBlocked
	case strings.Contains(desc, "user is deactivated"):
		e.Kind = KindUserDeactivated
	case strings.Contains(desc, "chat not found"):
		e.Kind = KindChatNotFound
	case strings.Contains(desc, "chat_id"):
		e.Kind = KindInvalidChatID
	case statusCode == 403:
		e.Kind = KindForbidden
	case statusCode == 400:
		e.Kind = KindBadRequest
	case statusCode >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindOther
	}
	return e
}
