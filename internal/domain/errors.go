package domain

import "errors"

// ErrNotFound indicates the referenced job does not exist. Handlers translate
// it to a 404 with errors.Is.
var ErrNotFound = errors.New("job not found")
