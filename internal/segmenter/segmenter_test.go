package segmenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t\n", "\x00\x01\x02"} {
		_, err := Segment(raw, DefaultOptions())
		assert.ErrorIs(t, err, ErrEmptyInput, "raw=%q", raw)
	}
}

func TestSegmentThreeSentencesOneSegment(t *testing.T) {
	raw := "The quick brown fox jumps. It jumps over the lazy dog. The dog does not mind at all."

	res, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())
	assert.Equal(t,
		"The quick brown fox jumps. It jumps over the lazy dog. The dog does not mind at all.",
		res.Segments()[0])
}

func TestSegmentSentenceCeiling(t *testing.T) {
	raw := strings.Repeat("Every good sentence has several words. ", 7)

	res, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	// 7 sentences, 3 per segment.
	assert.Equal(t, 3, res.Count())
}

func TestSegmentCharacterBudget(t *testing.T) {
	long := "This sentence is stretched with filler words " + strings.Repeat("again and again ", 10) + "until it ends."
	raw := long + " " + long

	opts := DefaultOptions()
	opts.MaxCharacters = len(long) + 10

	res, err := Segment(raw, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count())
	for _, s := range res.Segments() {
		assert.NotEmpty(t, s)
	}
}

func TestSegmentDeterministicAndRestartable(t *testing.T) {
	raw := "First sentence goes here today. Second sentence follows right behind. Third sentence closes things out. Fourth sentence starts a new group."

	a, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	b, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a.Segments(), b.Segments())

	// Re-iteration yields the same sequence, and callers cannot mutate
	// the underlying result.
	first := a.Segments()
	first[0] = "mutated"
	assert.Equal(t, b.Segments(), a.Segments())
}

func TestSegmentFiltersUninformativeSentences(t *testing.T) {
	raw := "1234567890. ???. Real content sentences survive the filter. +++---."

	res, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, res.Count())
	assert.Equal(t, "Real content sentences survive the filter.", res.Segments()[0])
}

func TestSegmentNeverEmitsEmptySegment(t *testing.T) {
	raw := "One two three four. . .  Five six seven eight."

	res, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)
	for _, s := range res.Segments() {
		assert.NotEmpty(t, strings.TrimSpace(s))
	}
}

func TestSegmentOrderPreserved(t *testing.T) {
	raw := "Alpha words come first here. Beta words come second here. Gamma words come third here. Delta words come fourth here. Epsilon words come fifth here. Zeta words come sixth here."

	res, err := Segment(raw, DefaultOptions())
	require.NoError(t, err)

	joined := strings.Join(res.Segments(), " ")
	prev := -1
	for _, marker := range []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon", "Zeta"} {
		idx := strings.Index(joined, marker)
		require.Greater(t, idx, prev, "segment order must match input order")
		prev = idx
	}
}
