package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want PragmaticSemver
	}{
		{"bare major.minor.patch", "1.2.3", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"short form defaults trailing to zero", "1.2", PragmaticSemver{Major: 1, Minor: 2}},
		{"five components", "1.2.3.4.5", PragmaticSemver{Major: 1, Minor: 2, Patch: 3, Fourth: 4, Fifth: 5}},
		{"leading v", "v1.2.3", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"leading r with space", "r 1.2.3", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"pre-release lowercased", "1.2.3-RC1", PragmaticSemver{Major: 1, Minor: 2, Patch: 3, Pre: "rc1", HasPre: true}},
		{"build tag retained", "1.2.3+build5", PragmaticSemver{Major: 1, Minor: 2, Patch: 3, Build: "build5"}},
		{"trailing dot ignored", "1.2.3.", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"unrecognized trailing garbage becomes pre-release", "1.2.3rc1", PragmaticSemver{Major: 1, Minor: 2, Patch: 3, Pre: "rc1", HasPre: true}},
		{"lone trailing dash collapses to no pre-release", "1.2.3-", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"dash-only trailing tag collapses to no pre-release", "1.2.3-----", PragmaticSemver{Major: 1, Minor: 2, Patch: 3}},
		{"trailing dashes after pre-release are trimmed", "1.2.3-alpha---", PragmaticSemver{Major: 1, Minor: 2, Patch: 3, Pre: "alpha", HasPre: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmptyString)

	_, err = Parse("not-a-version")
	assert.ErrorIs(t, err, ErrUnexpectedNumberEnd)

	_, err = Parse("99999999999999999999.0.0")
	assert.ErrorIs(t, err, ErrOverflowNumber)
}

func TestPragmaticSemverCompare(t *testing.T) {
	v1, _ := Parse("1.2.3")
	v2, _ := Parse("1.2.4")
	assert.True(t, v1.Less(v2))
	assert.False(t, v2.Less(v1))
	assert.True(t, v1.Equal(v1))

	withPre, _ := Parse("1.2.3-rc1")
	assert.True(t, withPre.Less(v1), "a pre-release orders before the same release")

	dashOnly, _ := Parse("1.2.3-----")
	assert.True(t, dashOnly.Equal(v1), "a dash-only trailing tag is not a real pre-release")
	assert.False(t, dashOnly.Less(v1))
}

func TestPragmaticSemverEqualIgnoresBuild(t *testing.T) {
	a, _ := Parse("1.2.3+build1")
	b, _ := Parse("1.2.3+build2")
	assert.True(t, a.Equal(b))
}

func TestPragmaticSemverString(t *testing.T) {
	v, err := Parse("1.2.3-rc1+build5")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.0.0-rc1+build5", v.String())
}
