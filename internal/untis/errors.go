package untis

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated means there is no usable session and no stored
// credentials to derive one from. The caller should prompt for login.
var ErrNotAuthenticated = errors.New("untis: not authenticated")

// ErrAuthExpired means the server rejected the session and the single
// silent re-login attempt did not recover it. Never retried further.
var ErrAuthExpired = errors.New("untis: session expired")

// FetchError wraps a transport or server failure that is neither an
// auth rejection nor a local problem. The cause is preserved for the
// orchestration layer, which uses it to decide on cache fallback.
type FetchError struct {
	Method string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("untis: %s failed: %v", e.Method, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
