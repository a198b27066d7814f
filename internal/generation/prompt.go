package generation

import (
	"strings"

	"github.com/moodremix/api/internal/preset"
)

const qualitySuffix = "high fidelity, 44.1khz, studio master"

var languageStyles = map[string]string{
	"tamil":     "Tamil film song, Kollywood style, carnatic elements, heavy percussion",
	"hindi":     "Bollywood pop, Indian fusion, rich orchestration, tabla beats",
	"malayalam": "Melodic Malayalam cinematic, lush strings, coastal folk",
	"telugu":    "Tollywood rhythm, high-energy masala dance track, percussive",
	"kannada":   "Sandalwood hit, traditional folk fusion, rhythmic theme",
	"english":   "Billboard top 100 pop, modern production, high quality vocals style",
}

// Looked up by the final prompt token; the two-word "hip hop" entry never
// matches.
var genreKeywords = map[string]string{
	"pop":        "catchy melody, commercial production, upbeat",
	"rock":       "distorted guitars, energetic drums, classic rock style",
	"hip hop":    "booming bass, trap beat, rhythmic flow",
	"jazz":       "saxophone, swing rhythm, lounge atmosphere, piano",
	"classical":  "orchestral, grand symphony, strings and woodwinds",
	"electronic": "synthesizers, digital beats, techno influence, rave",
	"lo-fi":      "chill beat, muffled sound, relaxed, vinyl crackle",
	"ambient":    "soothing, atmospheric, no heavy beats, ethereal",
	"folk":       "acoustic guitar, organic sound, traditional storytelling",
	"reggae":     "offbeat rhythm, deep bass, island vibe",
}

// GenreDescriptor looks up the last whitespace-separated token of prompt.
func GenreDescriptor(prompt string) string {
	fields := strings.Fields(prompt)
	if len(fields) == 0 {
		return ""
	}
	return genreKeywords[preset.Fold(fields[len(fields)-1])]
}

// LanguageStyle describes the regional style for language.
func LanguageStyle(language string) string {
	if style, ok := languageStyles[preset.Fold(language)]; ok {
		return style
	}
	return strings.TrimSpace(strings.TrimSpace(language) + " regional music style")
}

// BuildPrompt expands a short mood/genre prompt into the styled prompt fed to
// the model. Empty descriptors are left out.
func BuildPrompt(prompt, language string) string {
	parts := []string{strings.TrimSpace(prompt), GenreDescriptor(prompt), LanguageStyle(language), qualitySuffix}
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
