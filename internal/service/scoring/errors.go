package scoring

import "errors"

// ErrFinalized is returned when the scorer is used after its final pass.
var ErrFinalized = errors.New("scorer already finalized")
