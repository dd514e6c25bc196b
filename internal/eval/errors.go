package eval

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// SchemaError reports a CSV that is readable but does not have the shape
// scoring requires: a mandatory column is missing, no usable score column
// exists, or the score column is not numeric. It is fatal for the single
// evaluation call that produced it.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return e.Reason }

func schemaErrorf(format string, args ...any) error {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// ErrNoMatchingIDs is returned when the inner join of ground truth and
// predictions is empty. It usually means a submission was paired with the
// wrong dataset.
var ErrNoMatchingIDs = eris.New("eval: no matching ids between ground truth and predictions")
