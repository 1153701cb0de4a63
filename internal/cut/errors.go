package cut

import "errors"

var (
	ErrInvalidExpression = errors.New("invalid cut expression")
	ErrMalformedRange    = errors.New("malformed cut range")
	ErrOutOfBounds       = errors.New("cut range out of bounds")
)
