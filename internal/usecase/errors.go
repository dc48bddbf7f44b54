package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrBackend    = errors.New("backend error")
	ErrSuperseded = errors.New("session superseded")
	ErrNoSession  = errors.New("no active session")
)

func wrapBackend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}
