package ratelimit

import (
	"errors"
	"fmt"
)

// LimitedError lets a handler report that an upstream service throttled it.
// The dispatcher turns it into a limit outcome instead of a failure.
type LimitedError struct {
	Decision Decision
	Reason   string
}

func (e *LimitedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Reason, e.Decision.WaitTime)
	}
	return fmt.Sprintf("rate limited: retry after %s", e.Decision.WaitTime)
}

// AsLimited unwraps err into a LimitedError.
func AsLimited(err error) (*LimitedError, bool) {
	var limited *LimitedError
	if errors.As(err, &limited) {
		return limited, true
	}
	return nil, false
}
