package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrStoreUnavailable means a backing store could not serve the request. The whole
	// operation can be retried; nothing was partially applied.
	ErrStoreUnavailable = goerr.New("store unavailable")

	// ErrNotFound means the requested memory does not exist
	ErrNotFound = goerr.New("not found")

	// ErrValidation means caller input was rejected before any store was touched
	ErrValidation = goerr.New("validation error")

	// ErrMalformedResponse means the language capability returned unparseable output
	ErrMalformedResponse = goerr.New("malformed capability response")
)
