package xqueue

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyQueue = errors.New("queue is empty")
	ErrRejected   = errors.New("xqueue rejected the request")
)

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server %s returned status_code=%d", e.URL, e.StatusCode)
}

type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("could not decode %s", e.What)
	}
	return fmt.Sprintf("could not decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
