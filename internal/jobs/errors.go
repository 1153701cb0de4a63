package jobs

import "errors"

var (
	ErrEmptyTemplate     = errors.New("transfile template is empty")
	ErrTemplateHasFile   = errors.New("transfile template must not name a file")
	ErrMalformedTemplate = errors.New("malformed transfile template")
)
