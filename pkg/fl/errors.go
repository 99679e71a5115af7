package fl

import "errors"

var (
	ErrNoUpdates      = errors.New("no updates provided for aggregation")
	ErrOverflow       = errors.New("sample count overflow during aggregation")
	ErrShapeMismatch  = errors.New("parameter shapes do not match")
	ErrEmptyParameter = errors.New("parameter set is empty")
)
