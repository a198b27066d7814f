// Package engine is the boundary to the external command-line tools: ffmpeg
// for trimming and rendering filter graphs, ffprobe for durations, and any
// other subprocess the pipelines launch.
package engine

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
)

// Request describes one subprocess invocation. When Stdout or Stderr is set
// the stream is copied there as well as being captured.
type Request struct {
	Bin    string
	Args   []string
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Output is what a finished subprocess produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes subprocesses. A non-zero exit is reported through
// Output.ExitCode together with a non-nil error.
type Runner interface {
	Run(ctx context.Context, req Request) (Output, error)
}

// ExecRunner runs requests with os/exec.
type ExecRunner struct{}

func NewExecRunner() ExecRunner {
	return ExecRunner{}
}

func (ExecRunner) Run(ctx context.Context, req Request) (Output, error) {
	cmd := exec.CommandContext(ctx, req.Bin, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, req.Stdout)
	cmd.Stderr = tee(&stderr, req.Stderr)

	log.WithFields(log.Fields{
		"bin":  req.Bin,
		"args": req.Args,
	}).Debug("running command")

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
		}
		return out, errors.Wrapf(err, "run %s", req.Bin)
	}
	return out, nil
}

func tee(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}
