package schedule

import "errors"

var (
	ErrInvalidExpression  = errors.New("invalid schedule expression")
	ErrScheduleResolution = errors.New("no next execution for schedule")
)
