package pool

import (
	"sync"

	"heicConverter/converter/codec"
)

// Task is one scheduler-managed conversion request. It carries zero or more
// progress notifications followed by exactly one terminal settlement. After
// Terminate a task may never settle; callers waiting on Done must treat that
// as cancellation.
type Task struct {
	input      []byte
	fileName   string
	opts       codec.Options
	onProgress func(int)

	once   sync.Once
	done   chan struct{}
	result *codec.Result
	err    error
}

func newTask(input []byte, fileName string, opts codec.Options, onProgress func(int)) *Task {
	return &Task{
		input:      input,
		fileName:   fileName,
		opts:       opts,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}
}

// Done is closed when the task settles.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result blocks until the task settles and returns its terminal outcome.
func (t *Task) Result() (*codec.Result, error) {
	<-t.done
	return t.result, t.err
}

// settle records the terminal outcome exactly once.
func (t *Task) settle(result *codec.Result, err error) {
	t.once.Do(func() {
		t.result = result
		t.err = err
		close(t.done)
	})
}

func (t *Task) reportProgress(pct int) {
	if t.onProgress != nil {
		t.onProgress(pct)
	}
}
