package plan

import "errors"

var (
	ErrStepNotFound    = errors.New("step not found")
	ErrNotToolStep     = errors.New("step is not a tool step")
	ErrUnknownKind     = errors.New("unknown step type")
	ErrDuplicateStepID = errors.New("duplicate step id")
	ErrEmptyStepID     = errors.New("step id is empty")
)
