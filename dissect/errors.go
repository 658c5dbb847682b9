package dissect

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNeedMoreData is returned by a split function when the buffered bytes do
// not yet hold a complete message. The session re-buffers and waits for the
// next emission in the same direction; the error never surfaces past it.
var ErrNeedMoreData = errors.New("need more data")

// UnknownOpcodeError reports a message whose opcode has no registered
// handler. It surfaces to the caller of Session.Handle; log-and-continue is
// the caller's choice.
type UnknownOpcodeError struct {
	Codec  string
	Opcode int
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("%s: opcode %d unknown", e.Codec, e.Opcode)
}
