package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("not found")
