package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/filtergraph"
)

// FFmpeg drives the ffmpeg and ffprobe binaries through a Runner.
type FFmpeg struct {
	runner     Runner
	ffmpegBin  string
	ffprobeBin string
}

func NewFFmpeg(runner Runner, ffmpegBin, ffprobeBin string) *FFmpeg {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpeg{runner: runner, ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin}
}

// Binary returns the configured ffmpeg executable.
func (f *FFmpeg) Binary() string {
	return f.ffmpegBin
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration of path in seconds.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	out, err := f.runner.Run(ctx, Request{
		Bin:  f.ffprobeBin,
		Args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "json", "--", path},
	})
	if err != nil {
		return 0, errors.Mark(
			errors.Wrapf(err, "ffprobe %s: %s", path, strings.TrimSpace(string(out.Stderr))),
			apperrors.ErrProbeFailed,
		)
	}

	var result probeResult
	if err := json.Unmarshal(out.Stdout, &result); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "parse ffprobe output"), apperrors.ErrProbeFailed)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "parse duration %q", result.Format.Duration), apperrors.ErrProbeFailed)
	}
	return seconds, nil
}

// Trim copies the first limitSeconds of src into dst without re-encoding.
func (f *FFmpeg) Trim(ctx context.Context, src, dst string, limitSeconds int) error {
	args := []string{"-y", "-i", src, "-t", strconv.Itoa(limitSeconds), "-c", "copy", dst}
	out, err := f.runner.Run(ctx, Request{Bin: f.ffmpegBin, Args: args})
	if err != nil {
		return apperrors.NewExternalProcessError(f.ffmpegBin, out.ExitCode, DiagnosticTail(string(out.Stderr)), err)
	}
	return nil
}

// Render runs a built mix command writing outputPath.
func (f *FFmpeg) Render(ctx context.Context, cmd filtergraph.Command, outputPath string) error {
	args := cmd.Args(outputPath)
	log.WithFields(log.Fields{
		"output": outputPath,
		"graph":  cmd.Graph.String(),
	}).Info("rendering filter graph")

	out, err := f.runner.Run(ctx, Request{Bin: f.ffmpegBin, Args: args})
	if err != nil {
		diag := string(out.Stderr)
		if strings.TrimSpace(diag) == "" {
			diag = string(out.Stdout)
		}
		return apperrors.NewExternalProcessError(f.ffmpegBin, out.ExitCode, DiagnosticTail(diag), err)
	}
	return nil
}

var diagnosticMarkers = []string{"Error", "Invalid", "failed"}

// DiagnosticTail picks the lines worth showing from an ffmpeg diagnostic
// stream: the last three lines mentioning an error marker, or failing that
// the last line.
func DiagnosticTail(stream string) string {
	lines := strings.Split(strings.ReplaceAll(stream, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	var matched []string
	for _, line := range lines {
		for _, marker := range diagnosticMarkers {
			if strings.Contains(line, marker) {
				matched = append(matched, line)
				break
			}
		}
	}
	if len(matched) == 0 {
		return lines[len(lines)-1]
	}
	if len(matched) > 3 {
		matched = matched[len(matched)-3:]
	}
	return strings.Join(matched, "\n")
}
