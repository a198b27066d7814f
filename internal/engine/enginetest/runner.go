// Package enginetest provides a scripted engine.Runner for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/engine"
)

// Runner records every request and answers with Handle, or a zero Output
// when Handle is nil.
type Runner struct {
	Handle func(req engine.Request) (engine.Output, error)

	mu       sync.Mutex
	requests []engine.Request
}

func (r *Runner) Run(_ context.Context, req engine.Request) (engine.Output, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.Handle == nil {
		return engine.Output{}, nil
	}
	return r.Handle(req)
}

// Requests returns a copy of the recorded requests.
func (r *Runner) Requests() []engine.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Request(nil), r.requests...)
}

// Calls counts recorded requests for bin.
func (r *Runner) Calls(bin string) int {
	n := 0
	for _, req := range r.Requests() {
		if req.Bin == bin {
			n++
		}
	}
	return n
}

// Fail builds a failed Output with the given exit code and stderr.
func Fail(code int, stderr string) (engine.Output, error) {
	return engine.Output{Stderr: []byte(stderr), ExitCode: code}, errors.Newf("exit status %d", code)
}
