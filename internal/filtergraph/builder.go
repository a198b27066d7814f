package filtergraph

import (
	"math"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/moodremix/api/internal/apperrors"
)

// Input is one candidate track for a volume mix.
type Input struct {
	Label string
	Path  string
	Gain  float64
}

// Command is a built mix: the ordered input paths and the graph combining
// them into OutputLabel.
type Command struct {
	Inputs      []Input
	Graph       Graph
	OutputLabel string
}

// Args renders the engine argument list, without the binary name.
func (c Command) Args(outputPath string) []string {
	args := []string{"-y"}
	for _, in := range c.Inputs {
		args = append(args, "-i", in.Path)
	}
	return append(args,
		"-filter_complex", c.Graph.String(),
		"-map", "["+c.OutputLabel+"]",
		outputPath,
	)
}

// Builder assembles mix commands. Exists decides whether a candidate input
// is present; it defaults to a filesystem check.
type Builder struct {
	Exists func(path string) bool
}

func NewBuilder() *Builder {
	return &Builder{Exists: fileExists}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// BuildVolumeMix mixes the inputs that exist, each at its own gain, and
// applies the mood and genre fragments after the combine stage. It fails
// with apperrors.ErrNoInputs when no input survives.
func (b *Builder) BuildVolumeMix(inputs []Input, mood, genre string) (Command, error) {
	exists := b.Exists
	if exists == nil {
		exists = fileExists
	}

	var (
		kept   []Input
		stages []Stage
		labels []string
	)
	for _, in := range inputs {
		if !exists(in.Path) {
			continue
		}
		idx := len(kept)
		label := "a" + strconv.Itoa(idx)
		stages = append(stages, GainStage(idx, in.Gain, label))
		labels = append(labels, label)
		kept = append(kept, in)
	}
	if len(kept) == 0 {
		return Command{}, errors.WithStack(apperrors.ErrNoInputs)
	}

	stages = append(stages, CombineStage(labels, mood, genre))
	return Command{
		Inputs:      kept,
		Graph:       Graph{Stages: stages},
		OutputLabel: OutputLabel,
	}, nil
}

// DefaultBlendRatio weighs both tracks equally.
const DefaultBlendRatio = 0.5

// BuildTwoTrackBlend mixes trackA at 1-ratio against trackB at ratio. The
// ratio is clamped to [0, 1]; NaN falls back to DefaultBlendRatio.
func (b *Builder) BuildTwoTrackBlend(trackA, trackB string, ratio float64, mood, genre string) Command {
	switch {
	case math.IsNaN(ratio):
		ratio = DefaultBlendRatio
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	inputs := []Input{
		{Label: "a", Path: trackA, Gain: 1.0 - ratio},
		{Label: "b", Path: trackB, Gain: ratio},
	}
	return Command{
		Inputs: inputs,
		Graph: Graph{Stages: []Stage{
			GainStage(0, inputs[0].Gain, "a0"),
			GainStage(1, inputs[1].Gain, "a1"),
			CombineStage([]string{"a0", "a1"}, mood, genre),
		}},
		OutputLabel: OutputLabel,
	}
}
