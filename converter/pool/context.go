package pool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"heicConverter/converter/codec"
)

// execContext wraps one isolated worker goroutine hosting a codec instance.
// All communication happens over the requests/responses channels; the worker
// shares no mutable state with the control plane.
//
// The busy/current/faults fields belong to the pool and are guarded by the
// pool mutex, not by the worker goroutine.
type execContext struct {
	id        int
	requests  chan request
	responses chan response
	stop      chan struct{}

	busy    bool
	current *Task
	faults  int
}

// newExecContext spawns the worker goroutine. The codec is constructed on
// the worker side when the init request arrives, so a slow or failing codec
// load never blocks the control plane.
func newExecContext(id int, newCodec CodecFactory, logger *zap.Logger) *execContext {
	ec := &execContext{
		id:       id,
		requests: make(chan request, 1),
		// Buffered so a late ready message (after the init timeout) cannot
		// wedge the worker.
		responses: make(chan response, 4),
		stop:      make(chan struct{}),
	}
	go ec.loop(newCodec, logger.With(zap.Int("context_id", id)))
	return ec
}

func (ec *execContext) loop(newCodec CodecFactory, logger *zap.Logger) {
	var c codec.Codec

	for {
		select {
		case <-ec.stop:
			return
		case req := <-ec.requests:
			switch r := req.(type) {
			case initRequest:
				built, err := newCodec()
				if err != nil {
					logger.Error("codec load failed", zap.Error(err))
					ec.send(errorResponse{err: err})
					continue
				}
				c = built
				ec.send(readyResponse{})
			case convertRequest:
				if c == nil {
					ec.send(errorResponse{err: ErrNotReady})
					continue
				}
				ec.runConvert(c, r, logger)
			}
		}
	}
}

// runConvert executes one task, translating the codec outcome into protocol
// messages. A panic escaping the codec becomes a crash response so the pool
// can distinguish it from an ordinary conversion error.
func (ec *execContext) runConvert(c codec.Codec, req convertRequest, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("codec panicked",
				zap.String("file", req.fileName),
				zap.Any("panic", r),
			)
			ec.send(crashResponse{reason: fmt.Errorf("execution context fault: %v", r)})
		}
	}()

	result, err := c.Encode(context.Background(), req.input, req.opts, func(pct int) {
		ec.send(progressResponse{progress: pct})
	})
	if err != nil {
		ec.send(errorResponse{err: err})
		return
	}
	ec.send(completeResponse{result: result})
}

// send delivers a response unless the context has been stopped.
func (ec *execContext) send(resp response) {
	select {
	case ec.responses <- resp:
	case <-ec.stop:
	}
}
