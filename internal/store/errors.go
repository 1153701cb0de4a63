package store

import "errors"

var ErrNotFound = errors.New("content not found")
