package firewall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHumanDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"48h", 48 * time.Hour},
		{"5h 30m", 5*time.Hour + 30*time.Minute},
		{"2d", 48 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"500ms", 500 * time.Millisecond},
		{"1.5h", 90 * time.Minute},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHumanDuration(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseHumanDurationErrors(t *testing.T) {
	_, err := ParseHumanDuration("")
	assert.Error(t, err)

	_, err = ParseHumanDuration("abc")
	assert.Error(t, err)

	_, err = ParseHumanDuration("5fortnights")
	assert.Error(t, err)
}
