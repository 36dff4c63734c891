package storage

import "errors"

// ErrNotFound keeps storage-specific misses consistent across in-memory and
// future implementations. Services translate it into coded domain errors.
var ErrNotFound = errors.New("record not found")
