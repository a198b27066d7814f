// Package filtergraph models ffmpeg filter graphs as typed stages and builds
// the mix graphs used by the remix pipelines. Graphs are only turned into
// ffmpeg's textual syntax at the boundary, by Graph.String and Command.Args.
package filtergraph

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// OutputLabel is the label every mix graph terminates in.
	OutputLabel = "out"

	chainSep = ","
	stageSep = ";"
)

var streamSpec = regexp.MustCompile(`^\d+:a$`)

// Stage is one filter chain: labelled inputs, an ordered list of filter
// fragments, and a single output label.
type Stage struct {
	Inputs  []string
	Filters []string
	Output  string
}

func (s Stage) String() string {
	var b strings.Builder
	for _, in := range s.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(strings.Join(s.Filters, chainSep))
	if s.Output != "" {
		b.WriteString("[" + s.Output + "]")
	}
	return b.String()
}

// Graph is an ordered set of stages.
type Graph struct {
	Stages []Stage
}

func (g Graph) String() string {
	parts := make([]string, len(g.Stages))
	for i, s := range g.Stages {
		parts[i] = s.String()
	}
	return strings.Join(parts, stageSep)
}

// Output returns the label produced by the final stage.
func (g Graph) Output() string {
	if len(g.Stages) == 0 {
		return ""
	}
	return g.Stages[len(g.Stages)-1].Output
}

// Validate checks that every referenced label is either an input stream
// specifier or produced by an earlier stage, that every intermediate label
// is consumed, and that the graph ends in exactly one output.
func (g Graph) Validate() error {
	if len(g.Stages) == 0 {
		return errors.New("filter graph has no stages")
	}
	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for i, s := range g.Stages {
		if len(s.Filters) == 0 {
			return errors.Newf("stage %d has no filters", i)
		}
		if s.Output == "" {
			return errors.Newf("stage %d has no output label", i)
		}
		for _, in := range s.Inputs {
			if streamSpec.MatchString(in) {
				continue
			}
			if !produced[in] {
				return errors.Newf("stage %d consumes unknown label %q", i, in)
			}
			if consumed[in] {
				return errors.Newf("label %q consumed twice", in)
			}
			consumed[in] = true
		}
		if produced[s.Output] {
			return errors.Newf("label %q produced twice", s.Output)
		}
		produced[s.Output] = true
	}
	final := g.Output()
	for label := range produced {
		if label != final && !consumed[label] {
			return errors.Newf("label %q is never consumed", label)
		}
	}
	if consumed[final] {
		return errors.Newf("final label %q is consumed inside the graph", final)
	}
	return nil
}

// GainStage scales input stream index into label.
func GainStage(index int, gain float64, label string) Stage {
	return Stage{
		Inputs:  []string{strconv.Itoa(index) + ":a"},
		Filters: []string{"volume=" + FormatGain(gain)},
		Output:  label,
	}
}

// CombineStage mixes labels with a longest-duration amix, or passes a single
// label through with anull, then appends the mood and genre fragments in that
// order. Empty fragments are skipped.
func CombineStage(labels []string, mood, genre string) Stage {
	var filters []string
	if len(labels) > 1 {
		filters = append(filters, "amix=inputs="+strconv.Itoa(len(labels))+":duration=longest")
	} else {
		filters = append(filters, "anull")
	}
	for _, fragment := range []string{mood, genre} {
		if fragment != "" {
			filters = append(filters, fragment)
		}
	}
	return Stage{Inputs: labels, Filters: filters, Output: OutputLabel}
}

// FormatGain renders a gain the way the volume filter has always been fed:
// shortest round-trip form, always with a fractional part.
func FormatGain(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
