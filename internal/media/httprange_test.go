package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomchat/loom/internal/bridge"
)

func TestParseRange_NoHeader(t *testing.T) {
	t.Parallel()

	r, err := ParseRange("", 100)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestParseRange_Valid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		size   int64
		want   ByteRange
	}{
		{"first hundred", "bytes=0-99", 1000, ByteRange{0, 99}},
		{"open ended", "bytes=500-", 1000, ByteRange{500, 999}},
		{"end clamped", "bytes=900-5000", 1000, ByteRange{900, 999}},
		{"suffix", "bytes=-100", 1000, ByteRange{900, 999}},
		{"suffix larger than blob", "bytes=-100", 50, ByteRange{0, 49}},
		{"single byte", "bytes=0-0", 1, ByteRange{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseRange(tc.header, tc.size)
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, tc.want, *r)
		})
	}
}

func TestParseRange_FirstHundredBytesExact(t *testing.T) {
	t.Parallel()

	r, err := ParseRange("bytes=0-99", 2048)
	require.NoError(t, err)
	assert.EqualValues(t, 100, r.Length())
	assert.Equal(t, "bytes 0-99/2048", r.ContentRange(2048))
}

func TestParseRange_Unsatisfiable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string
		size   int64
	}{
		{"start equals size", "bytes=1000-", 1000},
		{"start beyond size", "bytes=2000-2100", 1000},
		{"inverted", "bytes=50-10", 1000},
		{"not bytes", "items=0-5", 1000},
		{"multiple ranges", "bytes=0-5,10-15", 1000},
		{"garbage start", "bytes=abc-", 1000},
		{"garbage end", "bytes=0-xyz", 1000},
		{"zero suffix", "bytes=-0", 1000},
		{"bare dash", "bytes=-", 1000},
		{"no dash", "bytes=17", 1000},
		{"suffix on empty blob", "bytes=-5", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRange(tc.header, tc.size)
			assert.ErrorIs(t, err, bridge.ErrRangeNotSatisfiable)
		})
	}
}
