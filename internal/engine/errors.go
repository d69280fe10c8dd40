package engine

import "errors"

// ErrNotFound indicates the requested engine resource does not exist.
var ErrNotFound = errors.New("engine: resource not found")

// ErrComposeNotFound indicates no usable compose tooling is installed.
var ErrComposeNotFound = errors.New("engine: compose tooling not found")
