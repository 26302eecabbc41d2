package spec

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testDefaults = Defaults{Root: "/srv/shellpm", Ref: "master"}

func TestParseDefaults(t *testing.T) {
	ps := Parse("zsh-users/zsh-autosuggestions", "", testDefaults)

	assert.Equal(t, KindSource, ps.As)
	assert.Equal(t, OriginGit, ps.From)
	assert.Equal(t, "master", ps.At)
	assert.Equal(t, FlagFalse, ps.Frozen)
	assert.Equal(t, filepath.Join("/srv/shellpm", "repos", "zsh-users", "zsh-autosuggestions"), ps.Dir)
	assert.Empty(t, ps.Of)
	assert.Empty(t, ps.On)
	assert.Empty(t, ps.Commit)
	assert.Equal(t, "zsh-autosuggestions", ps.Name())
}

func TestParseShortForms(t *testing.T) {
	ps := Parse("junegunn/fzf", "as:cmd,from:gh-r,frozen:1,file:fzf,at:v0.50.0", testDefaults)

	assert.Equal(t, KindCommand, ps.As)
	assert.Equal(t, OriginGitHubReleases, ps.From)
	assert.True(t, ps.Frozen.Bool())
	assert.Equal(t, "fzf", ps.File)
	assert.Equal(t, "v0.50.0", ps.At)
}

func TestParseUnknownValuesPassThrough(t *testing.T) {
	ps := Parse("a/b", "as:bogus,from:sourceforge,frozen:maybe", testDefaults)

	assert.Equal(t, Kind("bogus"), ps.As)
	assert.Equal(t, Origin("sourceforge"), ps.From)
	assert.Equal(t, Flag("maybe"), ps.Frozen)
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	ps := Parse("a/b", "color:blue,of:bin/*", testDefaults)
	assert.Equal(t, "bin/*", ps.Of)
}

func TestParseKeepsSpecifiersBeforeMalformedOne(t *testing.T) {
	ps := Parse("a/b", "as:cmd,file:tool,bogus,at:v2", testDefaults)
	assert.Equal(t, KindCommand, ps.As)
	assert.Equal(t, "tool", ps.File)
	assert.Equal(t, testDefaults.Ref, ps.At)
}

func TestParseEmptyValuesStayEmpty(t *testing.T) {
	ps := Parse("a/b", "of:,file:,doHook:", testDefaults)
	assert.Equal(t, "", ps.Of)
	assert.Equal(t, "", ps.File)
	assert.Equal(t, "", ps.DoHook)
	assert.Equal(t, "master", ps.At, "empty at keeps the default ref")
}

func TestParseQuotedValues(t *testing.T) {
	ps := Parse("a/b", `doHook:"make, make install",ifCond:'os == "linux"'`, testDefaults)
	assert.Equal(t, "make, make install", ps.DoHook)
	assert.Equal(t, `os == "linux"`, ps.IfCond)
}

func TestShallow(t *testing.T) {
	assert.True(t, Parse("a/b", "at:dev", testDefaults).Shallow(true))
	assert.False(t, Parse("a/b", "commit:abc123", testDefaults).Shallow(true))
	assert.False(t, Parse("a/b", "", testDefaults).Shallow(false))
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"owner/name", true},
		{"Own.er_1/na-me.zsh", true},
		{"owner", false},
		{"owner/name/extra", false},
		{"/name", false},
		{"owner/", false},
		{"../name", false},
		{"owner/..", false},
		{"own er/name", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidID(tt.id))
		})
	}
}

func TestMergeLaterValueWins(t *testing.T) {
	first, err := SplitSpecifiers("as:cmd,of:bin/foo")
	require.NoError(t, err)
	second, err := SplitSpecifiers("at:dev,as:src")
	require.NoError(t, err)

	merged := Merge(first, second)
	ps := Parse("a/b", Join(merged), testDefaults)

	assert.Equal(t, KindSource, ps.As)
	assert.Equal(t, "bin/foo", ps.Of)
	assert.Equal(t, "dev", ps.At)
	assert.Len(t, merged, 3)
}

func TestSplitSpecifiersErrors(t *testing.T) {
	_, err := SplitSpecifiers("as")
	require.Error(t, err)

	_, err = SplitSpecifiers(`doHook:"unterminated`)
	require.Error(t, err)

	_, err = SplitSpecifiers(":value")
	require.Error(t, err)
}

func TestJoinRoundTripsAwkwardValues(t *testing.T) {
	in := []Specifier{
		{Key: KeyDoHook, Value: `echo "a, b" \ done`},
		{Key: KeyOf, Value: ""},
		{Key: KeyIfCond, Value: `env["HOME"] != ""`},
	}
	out, err := SplitSpecifiers(Join(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseIsDeterministic(t *testing.T) {
	keys := append([]string{"unknown"}, Keys...)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		specifiers := make([]Specifier, 0, n)
		for i := 0; i < n; i++ {
			specifiers = append(specifiers, Specifier{
				Key:   rapid.SampledFrom(keys).Draw(t, "key"),
				Value: rapid.StringMatching(`[a-zA-Z0-9 ,:'"/*._-]{0,12}`).Draw(t, "value"),
			})
		}
		raw := Join(specifiers)

		first := Parse("owner/name", raw, testDefaults)
		second := Parse("owner/name", raw, testDefaults)
		if first != second {
			t.Fatalf("parse not deterministic for %q: %+v vs %+v", raw, first, second)
		}

		reparsed, err := SplitSpecifiers(raw)
		if err != nil {
			t.Fatalf("joined specifiers failed to split: %q: %v", raw, err)
		}
		if len(reparsed) != len(specifiers) {
			t.Fatalf("round trip changed count for %q: %d vs %d", raw, len(reparsed), len(specifiers))
		}
		for i := range specifiers {
			if reparsed[i] != specifiers[i] {
				t.Fatalf("round trip changed %+v into %+v", specifiers[i], reparsed[i])
			}
		}
	})
}
