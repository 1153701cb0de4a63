package source

import "errors"

var ErrSourceNotFound = errors.New("source not found")
