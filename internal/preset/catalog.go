// Package preset maps mood and genre keywords to ffmpeg filter-chain
// fragments. Lookups are case-insensitive and unknown keywords map to the
// empty fragment.
package preset

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var moods = map[string]string{
	"happy":      "equalizer=f=1000:width_type=h:width=200:g=2,equalizer=f=5000:width_type=h:width=500:g=3,aecho=0.8:0.88:60:0.4",
	"sad":        "equalizer=f=3000:width_type=h:width=1000:g=-6,lowpass=f=2000,aecho=0.8:0.9:1000:0.3",
	"energetic":  "compand=0.3 0.3:0.8 0.8:-70/-60 -20/-14:6:0:-90:0.2,equalizer=f=80:width_type=h:width=40:g=6,equalizer=f=12000:width_type=h:width=1000:g=3",
	"relaxed":    "lowpass=f=5000,aecho=0.8:0.9:1000:0.2,basstreble=bass=-2",
	"chill":      "lowpass=f=8000,aecho=0.8:0.88:60:0.2,equalizer=f=400:width_type=h:width=100:g=-3",
	"romantic":   "aecho=0.8:0.9:1000:0.4,equalizer=f=2000:width_type=h:width=500:g=2,aphaser=in_gain=0.4",
	"dark":       "lowpass=f=3000,equalizer=f=100:width_type=h:width=50:g=4,equalizer=f=2500:width_type=h:width=500:g=-5",
	"mysterious": "aecho=0.8:0.9:1000:0.6,equalizer=f=4000:width_type=h:width=1000:g=-4,vibrato=f=4:d=0.3",
	"cinematic":  "aecho=0.8:0.9:1000:0.3,compand,equalizer=f=100:width_type=h:width=50:g=3,equalizer=f=10000:width_type=h:width=1000:g=2",
	"epic":       "compand,equalizer=f=80:width_type=h:width=40:g=5,equalizer=f=5000:width_type=h:width=500:g=3,aecho=0.8:0.88:40:0.5",
}

var genres = map[string]string{
	"pop":        "equalizer=f=1000:width_type=h:width=500:g=2,equalizer=f=8000:width_type=h:width=1000:g=3",
	"rock":       "equalizer=f=400:width_type=h:width=200:g=3,equalizer=f=3000:width_type=h:width=500:g=4",
	"hip hop":    "equalizer=f=60:width_type=h:width=30:g=8,compand=0.3 0.3:0.8 0.8:-70/-60 -20/-14:6:0:-90:0.2",
	"jazz":       "equalizer=f=1000:width_type=h:width=500:g=-2,aecho=0.8:0.9:1000:0.2",
	"classical":  "compand,equalizer=f=5000:width_type=h:width=1000:g=2",
	"electronic": "equalizer=f=60:width_type=h:width=30:g=5,equalizer=f=12000:width_type=h:width=1000:g=5,aphaser=in_gain=0.5",
	"lo-fi":      "lowpass=f=4000,highpass=f=200,aecho=0.8:0.9:1000:0.1",
	"ambient":    "lowpass=f=3000,aecho=0.8:0.9:2000:0.6",
	"folk":       "equalizer=f=3000:width_type=h:width=500:g=2,equalizer=f=100:width_type=h:width=50:g=-2",
	"reggae":     "equalizer=f=80:width_type=h:width=40:g=6,aecho=0.8:0.9:300:0.4",
}

// Fold normalizes a keyword for lookup. A Caser holds state, so each call
// gets its own.
func Fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Mood returns the filter fragment for a mood keyword, or "".
func Mood(name string) string {
	return moods[Fold(name)]
}

// Genre returns the filter fragment for a genre keyword, or "".
func Genre(name string) string {
	return genres[Fold(name)]
}

// Moods lists the known mood keywords in sorted order.
func Moods() []string {
	return keys(moods)
}

// Genres lists the known genre keywords in sorted order.
func Genres() []string {
	return keys(genres)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
