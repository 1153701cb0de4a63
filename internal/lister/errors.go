package lister

import "errors"

var (
	ErrInvalidURL       = errors.New("invalid url")
	ErrUnexpectedStatus = errors.New("unexpected http status")
	ErrEmptyBody        = errors.New("empty response body")
	ErrNoMatch          = errors.New("no matches found for pattern")
	ErrInvalidToken     = errors.New("invalid url token")
	ErrNoLister         = errors.New("no lister for source kind")
)
