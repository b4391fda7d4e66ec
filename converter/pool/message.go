package pool

import "heicConverter/converter/codec"

// The control plane and an execution context communicate only through these
// messages. The variant set is closed: one type per protocol row, so every
// receive site can switch exhaustively.

type request interface{ isRequest() }

// initRequest asks the context to load its codec and report readiness.
type initRequest struct{}

// convertRequest starts one task. Ownership of input transfers to the
// context; the caller must not retain it after dispatch.
type convertRequest struct {
	input    []byte
	fileName string
	opts     codec.Options
}

func (initRequest) isRequest()    {}
func (convertRequest) isRequest() {}

type response interface{ isResponse() }

// readyResponse signals the context accepts tasks.
type readyResponse struct{}

// errorResponse signals init or task failure through the protocol.
type errorResponse struct{ err error }

// progressResponse is emitted zero or more times per task.
type progressResponse struct{ progress int }

// completeResponse is the terminal success message for one task.
type completeResponse struct{ result *codec.Result }

// crashResponse reports an out-of-band fault (a panic escaping the codec)
// rather than a protocol-level error.
type crashResponse struct{ reason error }

func (readyResponse) isResponse()    {}
func (errorResponse) isResponse()    {}
func (progressResponse) isResponse() {}
func (completeResponse) isResponse() {}
func (crashResponse) isResponse()    {}
