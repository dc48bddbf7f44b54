package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrSuperseded = errors.New("session superseded")
