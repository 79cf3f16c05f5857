package model

import "github.com/rotisserie/eris"

// Error taxonomy shared by every component. Wrap these with eris and test
// with errors.Is.
var (
	ErrInvalidArgument     = eris.New("invalid argument")
	ErrNotFound            = eris.New("not found")
	ErrUpstreamUnavailable = eris.New("upstream unavailable")
)
