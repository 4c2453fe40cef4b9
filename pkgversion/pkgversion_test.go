package pkgversion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSynthesizeNoTag(t *testing.T) {
	c := New()
	v, err := c.Synthesize(time.UnixMilli(1000), "")
	require.NoError(t, err)
	require.Equal(t, "0.0.0-pkglab.1000", v)
	require.True(t, IsMarker(v))

	ts, ok := ExtractTimestamp(v)
	require.True(t, ok)
	require.EqualValues(t, 1000, ts)
	require.Equal(t, "", ExtractTag(v))
}

func TestSynthesizeWithTag(t *testing.T) {
	c := New()
	v, err := c.Synthesize(time.UnixMilli(2000), "feature/foo bar")
	require.NoError(t, err)
	require.Equal(t, "0.0.0-pkglab-feature-foobar.2000", v)
	require.Equal(t, "feature-foobar", ExtractTag(v))
}

func TestSynthesizeMonotonicUnderClockRegression(t *testing.T) {
	c := New()
	v1, err := c.Synthesize(time.UnixMilli(5000), "")
	require.NoError(t, err)
	v2, err := c.Synthesize(time.UnixMilli(100), "")
	require.NoError(t, err)

	ts1, _ := ExtractTimestamp(v1)
	ts2, _ := ExtractTimestamp(v2)
	require.Greater(t, ts2, ts1)
}

func TestSynthesizeRapidCallsStrictlyIncreasing(t *testing.T) {
	c := New()
	now := time.UnixMilli(9000)
	seen := map[int64]bool{}
	for i := 0; i < 50; i++ {
		v, err := c.Synthesize(now, "")
		require.NoError(t, err)
		ts, ok := ExtractTimestamp(v)
		require.True(t, ok)
		require.False(t, seen[ts], "timestamp %d reused", ts)
		seen[ts] = true
	}
}

func TestIsMarkerRejectsForeignVersions(t *testing.T) {
	require.False(t, IsMarker("1.2.3"))
	require.False(t, IsMarker("0.0.0-other.123"))
	require.False(t, IsMarker(""))
}

func TestExtractTimestampOnNonMarker(t *testing.T) {
	_, ok := ExtractTimestamp("1.2.3")
	require.False(t, ok)
}

func TestSanitizeTag(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"feature/foo", "feature-foo"},
		{"a//b", "a-b"},
		{"  weird!!chars??", "weirdchars"},
		{"-leading-and-trailing-", "leading-and-trailing"},
	}
	for _, c := range cases {
		got, err := SanitizeTag(c.in)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestSanitizeTagTruncatesAt50(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got, err := SanitizeTag(long)
	require.NoError(t, err)
	require.LessOrEqual(t, len(got), 50)
}

func TestSanitizeTagEmptyResultFails(t *testing.T) {
	_, err := SanitizeTag("!!!///")
	require.Error(t, err)
}
