package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"PT2M1S", 121},
		{"PT2M2S", 122},
		{"PT59S", 59},
		{"PT1H", 3600},
		{"PT1H3M", 3780},
		{"P1DT2H", 93600},
		{"1:02:03", 3723},
		{"2:01", 121},
		{"45", 45},
	}
	for _, tc := range cases {
		got, err := ParseDurationSeconds(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseDurationSecondsInvalid(t *testing.T) {
	for _, in := range []string{"", "PTXS", "1:2:3:4", "abc"} {
		_, err := ParseDurationSeconds(in)
		assert.Error(t, err, in)
	}
}

func TestIsLongForm(t *testing.T) {
	// 121 seconds is the Shorts ceiling, inclusive.
	assert.False(t, IsLongForm("PT2M1S"))
	assert.True(t, IsLongForm("PT2M2S"))
	assert.False(t, IsLongForm("PT30S"))
	assert.True(t, IsLongForm("PT10M"))

	// Unparseable durations default to long-form.
	assert.True(t, IsLongForm(""))
	assert.True(t, IsLongForm("garbage"))
}
