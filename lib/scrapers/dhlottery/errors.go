package dhlottery

import (
	"errors"
	"fmt"
)

// ErrProxyExhausted means proxy routing is mandatory and no usable
// candidate remains.
var ErrProxyExhausted = errors.New("no usable proxy candidate")

// ResponseError surfaces once the retry budget is spent without a
// usable response. It never carries credential material.
type ResponseError struct {
	Operation string
	Status    int
	Outcome   Outcome
	Hint      string
}

func (e *ResponseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (status %d): %s",
			e.Operation, e.Outcome, e.Status, e.Hint)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Operation, e.Outcome, e.Status)
}
