package repository

import "errors"

// ErrInvalidLimit is returned when a listing is asked for a negative limit.
var ErrInvalidLimit = errors.New("invalid limit")
