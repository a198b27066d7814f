package service

import (
	"fmt"

	"github.com/moodremix/api/internal/filtergraph"
)

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// GeneratedName is the output file of a generation request.
func GeneratedName(mood, language string) string {
	return fmt.Sprintf("generated_%s_%s.wav", mood, language)
}

// MixedName is the output file of a stem mix.
func MixedName(mood string) string {
	return fmt.Sprintf("mixed_%s.wav", orDefault(mood, "custom"))
}

// BlendName is the output file of a two-file mix.
func BlendName(mood string, ratio float64) string {
	return fmt.Sprintf("mixed_%s_%s.wav", orDefault(mood, "blend"), filtergraph.FormatGain(ratio))
}

// SmartMixName is the output file of a smart mix.
func SmartMixName(mood, genre string) string {
	return fmt.Sprintf("smart_mix_%s_%s.wav", orDefault(mood, "remix"), orDefault(genre, "style"))
}
