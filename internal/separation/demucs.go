package separation

import (
	"context"
	"strconv"
	"strings"

	"github.com/apex/log"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/debuglog"
	"github.com/moodremix/api/internal/engine"
)

// Options tune one separation run.
type Options struct {
	Model    string
	Segment  int
	Shifts   int
	Overlap  float64
	Jobs     int
	TwoStems string
}

// Model is the source-separation capability. It writes
// <outputDir>/<Options.Model>/<track>/{stem}.wav.
type Model interface {
	Separate(ctx context.Context, inputPath, outputDir string, opts Options) error
}

// DemucsCLI runs demucs as a subprocess. Prefix is prepended to the demucs
// arguments, for wrappers like "patch_demucs.py" run through python.
type DemucsCLI struct {
	runner  engine.Runner
	command string
	prefix  []string
	debug   *debuglog.Log
}

func NewDemucsCLI(runner engine.Runner, command string, prefix []string, debug *debuglog.Log) *DemucsCLI {
	if strings.TrimSpace(command) == "" {
		command = "demucs"
	}
	if debug == nil {
		debug = debuglog.Discard()
	}
	return &DemucsCLI{runner: runner, command: command, prefix: prefix, debug: debug}
}

// Args renders the demucs argument list for a run.
func (d *DemucsCLI) Args(inputPath, outputDir string, opts Options) []string {
	args := append([]string(nil), d.prefix...)
	args = append(args,
		"-n", opts.Model,
		"-o", outputDir,
		"--segment", strconv.Itoa(opts.Segment),
		"--shifts", strconv.Itoa(opts.Shifts),
		"--overlap", formatFraction(opts.Overlap),
		"--jobs", strconv.Itoa(opts.Jobs),
	)
	if opts.TwoStems != "" {
		args = append(args, "--two-stems", opts.TwoStems)
	}
	return append(args, inputPath)
}

func (d *DemucsCLI) Separate(ctx context.Context, inputPath, outputDir string, opts Options) error {
	args := d.Args(inputPath, outputDir, opts)
	d.debug.WithFields(log.Fields{
		"command": d.command,
		"args":    strings.Join(args, " "),
	}).Info("running separation model")

	out, err := d.runner.Run(ctx, engine.Request{
		Bin:    d.command,
		Args:   args,
		Env:    map[string]string{"TORCHAUDIO_BACKEND": "soundfile"},
		Stdout: d.debug.Writer(),
		Stderr: d.debug.Writer(),
	})
	if err != nil {
		if out.ExitCode < 0 {
			return err
		}
		return apperrors.NewExternalProcessError(d.command, out.ExitCode, engine.DiagnosticTail(string(out.Stderr)), err)
	}
	return nil
}

func formatFraction(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
