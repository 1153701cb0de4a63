package harvest

import "errors"

var ErrResumeUnsupported = errors.New("resume not supported by this file")
