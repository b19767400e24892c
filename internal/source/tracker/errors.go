package tracker

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// FetchError is any failed REST call: network, timeout, non-2xx or undecodable body
type FetchError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("tracker %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("tracker %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err came from the tracker client
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
