package sqljob

import "errors"

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrJobNotFound       = errors.New("job definition not found")
)
