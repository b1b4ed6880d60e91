// Package segmenter cleans raw document text and splits it into the
// ordered segments fed to the embedding provider.
package segmenter

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyInput is returned when no informative text survives cleanup.
var ErrEmptyInput = errors.New("no text to segment")

type Options struct {
	MaxSentences  int     // sentence-count ceiling per segment
	MaxCharacters int     // character budget per segment
	MinWords      int     // alphabetic words required per sentence
	MinAlphaRatio float64 // alphabetic share of alphanumeric characters
}

func DefaultOptions() Options {
	return Options{
		MaxSentences:  3,
		MaxCharacters: 1000,
		MinWords:      3,
		MinAlphaRatio: 0.5,
	}
}

// Result is a restartable segment sequence: cleanup and splitting run
// once, iteration can happen any number of times.
type Result struct {
	segments []string
}

func (r *Result) Count() int { return len(r.segments) }

// Segments returns the ordered segments. The returned slice is a copy;
// mutating it does not affect the Result.
func (r *Result) Segments() []string {
	out := make([]string, len(r.segments))
	copy(out, r.segments)
	return out
}

// Segment normalizes raw text, splits it into sentence-like units,
// drops uninformative ones and greedily packs the rest. Identical input
// always yields an identical sequence.
func Segment(raw string, opts Options) (*Result, error) {
	if opts.MaxSentences <= 0 {
		opts.MaxSentences = 3
	}
	if opts.MaxCharacters <= 0 {
		opts.MaxCharacters = 1000
	}

	cleaned := normalize(raw)
	if cleaned == "" {
		return nil, ErrEmptyInput
	}

	var kept []string
	for _, s := range splitSentences(cleaned) {
		if informative(s, opts.MinWords, opts.MinAlphaRatio) {
			kept = append(kept, s)
		}
	}

	segments := pack(kept, opts.MaxSentences, opts.MaxCharacters)
	if len(segments) == 0 {
		return nil, ErrEmptyInput
	}

	return &Result{segments: segments}, nil
}

// normalize strips control characters and collapses runs of whitespace
// into single spaces. Newlines become sentence boundaries downstream
// only through punctuation, so they are folded like any other space.
func normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if isTerminator(r) && (i+1 >= len(runes) || runes[i+1] == ' ') {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// informative rejects sentences that would add noise to the vector
// store: too few words, or mostly digits and symbols.
func informative(sentence string, minWords int, minAlphaRatio float64) bool {
	if minWords <= 0 && minAlphaRatio <= 0 {
		return true
	}

	words := 0
	for _, w := range strings.Fields(sentence) {
		if allAlpha(strings.TrimFunc(w, unicode.IsPunct)) {
			words++
		}
	}
	if words < minWords {
		return false
	}

	var alpha, alnum int
	for _, r := range sentence {
		if unicode.IsLetter(r) {
			alpha++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if alnum == 0 {
		return false
	}
	return float64(alpha)/float64(alnum) >= minAlphaRatio
}

func allAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// pack greedily groups consecutive sentences until either ceiling would
// be exceeded, then starts a new segment. Never emits an empty segment.
func pack(sentences []string, maxSentences, maxCharacters int) []string {
	var segments []string
	var buffer []string
	chars := 0

	for _, s := range sentences {
		projected := chars + len(s)
		if len(buffer) > 0 && (len(buffer) >= maxSentences || projected > maxCharacters) {
			segments = append(segments, strings.Join(buffer, " "))
			buffer = buffer[:0]
			chars = 0
		}
		buffer = append(buffer, s)
		chars += len(s)
	}

	if len(buffer) > 0 {
		segments = append(segments, strings.Join(buffer, " "))
	}
	return segments
}
