// Package separation splits tracks into stems with a pretrained source
// separation model.
//
// A run trims long inputs first, reuses stems already on disk, and decides
// success by whether the expected stem file exists afterwards, since the
// model can exit cleanly without writing anything. Runs targeting the same
// stems directory are serialized.
package separation

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
	"github.com/moodremix/api/internal/debuglog"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// PreviewLimitSeconds caps turbo preview runs.
	PreviewLimitSeconds = 15

	StemVocals = "vocals"
	StemDrums  = "drums"
	StemBass   = "bass"
	StemOther  = "other"
)

// Stems lists the canonical four-way stem names in mix order.
var Stems = []string{StemVocals, StemDrums, StemBass, StemOther}

// StemFile is the file name a stem is written under.
func StemFile(stem string) string {
	return stem + ".wav"
}

// Prober reports media durations.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Trimmer cuts a stream-copied prefix of a file.
type Trimmer interface {
	Trim(ctx context.Context, src, dst string, limitSeconds int) error
}

type Config struct {
	OutputDir string
	Model     string
	Segment   int
	Jobs      int
}

// Request is one separation call. OutputDir overrides Config.OutputDir.
type Request struct {
	InputPath     string
	OutputDir     string
	DurationLimit int
	VocalsOnly    bool
	TurboPreview  bool
}

type Result struct {
	Status   string `json:"status"`
	StemsDir string `json:"stems_dir,omitempty"`
	Message  string `json:"message,omitempty"`
	Cached   bool   `json:"cached,omitempty"`

	Err error `json:"-"`
}

// OK reports whether the separation produced stems.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

type Separator struct {
	cfg     Config
	model   Model
	prober  Prober
	trimmer Trimmer
	debug   *debuglog.Log
	locks   *keyedLocks
}

func NewSeparator(cfg Config, model Model, prober Prober, trimmer Trimmer, debug *debuglog.Log) *Separator {
	if cfg.Model == "" {
		cfg.Model = "htdemucs"
	}
	if cfg.Segment == 0 {
		cfg.Segment = 6
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = 1
	}
	if debug == nil {
		debug = debuglog.Discard()
	}
	return &Separator{
		cfg:     cfg,
		model:   model,
		prober:  prober,
		trimmer: trimmer,
		debug:   debug,
		locks:   newKeyedLocks(),
	}
}

// StemsDir is where the model writes the stems for inputPath.
func (s *Separator) StemsDir(outputDir, inputPath string) string {
	base := filepath.Base(inputPath)
	track := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, s.cfg.Model, track)
}

// TrimmedPath is the deterministic name of the trimmed copy of inputPath.
func TrimmedPath(inputPath string, limitSeconds int) string {
	return filepath.Join(filepath.Dir(inputPath), "trimmed_"+strconv.Itoa(limitSeconds)+"_"+filepath.Base(inputPath))
}

// Separate runs the pipeline. Failures are reported in the Result rather
// than returned.
func (s *Separator) Separate(ctx context.Context, req Request) Result {
	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = s.cfg.OutputDir
	}
	limit := req.DurationLimit
	if req.TurboPreview {
		limit = PreviewLimitSeconds
	}

	logger := s.debug.WithFields(log.Fields{
		"input":       req.InputPath,
		"limit":       limit,
		"vocals_only": req.VocalsOnly,
		"turbo":       req.TurboPreview,
	})

	if _, err := os.Stat(req.InputPath); err != nil {
		err = errors.Mark(errors.Wrapf(err, "input %s", req.InputPath), apperrors.ErrInputNotFound)
		logger.WithError(err).Error("input missing")
		return failure("Input file not found: "+filepath.Base(req.InputPath), err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return failure("Unexpected error: "+err.Error(), err)
	}

	input := s.limitDuration(ctx, logger, req.InputPath, limit)
	stemsDir := s.StemsDir(outputDir, input)
	logger = logger.WithField("stems_dir", stemsDir)

	if err := os.MkdirAll(filepath.Dir(stemsDir), 0o755); err != nil {
		return failure("Unexpected error: "+err.Error(), err)
	}
	release, err := s.locks.acquire(ctx, stemsDir)
	if err != nil {
		logger.WithError(err).Error("could not lock stems directory")
		return failure("Unexpected error: "+err.Error(), err)
	}
	defer release()

	target := StemFile(StemDrums)
	if req.VocalsOnly {
		target = StemFile(StemVocals)
	}
	if fileExists(filepath.Join(stemsDir, target)) {
		logger.Info("using cached stems")
		return Result{Status: StatusSuccess, StemsDir: stemsDir, Cached: true}
	}

	opts := Options{
		Model:   s.cfg.Model,
		Segment: s.cfg.Segment,
		Jobs:    s.cfg.Jobs,
		Shifts:  1,
		Overlap: 0.1,
	}
	if req.TurboPreview {
		opts.Shifts = 0
		opts.Overlap = 0
	}
	if req.VocalsOnly {
		opts.TwoStems = StemVocals
	}

	logger.Info("starting separation")
	if err := s.model.Separate(ctx, input, outputDir, opts); err != nil {
		if !errors.Is(err, apperrors.ErrExternalProcessFailed) {
			logger.WithError(err).Error("separation model could not run")
			return failure("Unexpected error: "+err.Error(), err)
		}
		logger.WithError(err).Warn("separation model exited with an error")
	}

	if !fileExists(filepath.Join(stemsDir, target)) {
		err := errors.Mark(errors.Newf("no %s under %s", target, stemsDir), apperrors.ErrSeparationOutputMissing)
		logger.Error("separation produced no output")
		return failure("Demucs failed to produce output. Check logs.", err)
	}

	logger.Info("separation complete")
	return Result{Status: StatusSuccess, StemsDir: stemsDir}
}

// limitDuration returns the path to separate: a trimmed copy when the input
// runs longer than limit, otherwise the input itself. Probe and trim errors
// only cost the trim.
func (s *Separator) limitDuration(ctx context.Context, logger *log.Entry, inputPath string, limit int) string {
	if limit <= 0 {
		return inputPath
	}
	duration, err := s.prober.Duration(ctx, inputPath)
	if err != nil {
		logger.WithError(err).Warn("could not probe duration, separating untrimmed")
		return inputPath
	}
	if duration <= float64(limit) {
		return inputPath
	}

	trimmed := TrimmedPath(inputPath, limit)
	logger.WithFields(log.Fields{
		"duration": strconv.FormatFloat(duration, 'f', 1, 64),
		"trimmed":  trimmed,
	}).Info("trimming input")

	release, err := s.locks.acquire(ctx, trimmed)
	if err != nil {
		logger.WithError(err).Warn("could not lock trimmed copy, separating untrimmed")
		return inputPath
	}
	defer release()

	if fileExists(trimmed) {
		return trimmed
	}
	if err := s.trimmer.Trim(ctx, inputPath, trimmed, limit); err != nil {
		_ = os.Remove(trimmed)
		logger.WithError(err).Warn("could not trim input, separating untrimmed")
		return inputPath
	}
	return trimmed
}

func failure(message string, err error) Result {
	return Result{Status: StatusError, Message: message, Err: err}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
