package spec

import (
	"fmt"
	"strings"
)

// Specifier is one key:value pair from a declaration.
type Specifier struct {
	Key   string
	Value string
}

func (s Specifier) String() string {
	return s.Key + ":" + quoteValue(s.Value)
}

// Parse derives a PluginSpec from id and its accumulated raw specifier text.
// Unknown keys are ignored; unknown values of enumerated keys are kept as-is.
func Parse(id, raw string, d Defaults) PluginSpec {
	ref := d.Ref
	if ref == "" {
		ref = DefaultRef
	}
	ps := PluginSpec{
		ID:     id,
		As:     KindSource,
		From:   OriginGit,
		At:     ref,
		Frozen: FlagFalse,
		Dir:    PluginDir(d.Root, id),
	}
	// Registry.Declare rejects text that does not tokenize. Anything else
	// reaching here keeps the specifiers read before the first bad one.
	specifiers, _ := SplitSpecifiers(raw)
	for _, s := range specifiers {
		switch s.Key {
		case KeyAs:
			ps.As = normalizeKind(s.Value)
		case KeyOf:
			ps.Of = s.Value
		case KeyFrom:
			ps.From = normalizeOrigin(s.Value)
		case KeyIfCond:
			ps.IfCond = s.Value
		case KeyFile:
			ps.File = s.Value
		case KeyAt:
			if s.Value != "" {
				ps.At = s.Value
			}
		case KeyDoHook:
			ps.DoHook = s.Value
		case KeyFrozen:
			ps.Frozen = normalizeFlag(s.Value)
		case KeyOn:
			ps.On = s.Value
		case KeyCommit:
			ps.Commit = s.Value
		}
	}
	return ps
}

func normalizeKind(v string) Kind {
	switch v {
	case "src", "source":
		return KindSource
	case "cmd", "command":
		return KindCommand
	}
	return Kind(v)
}

func normalizeOrigin(v string) Origin {
	switch v {
	case "":
		return OriginGit
	case "gh-r", "github-releases":
		return OriginGitHubReleases
	}
	return Origin(v)
}

func normalizeFlag(v string) Flag {
	switch v {
	case "1", "true":
		return FlagTrue
	case "0", "false":
		return FlagFalse
	}
	return Flag(v)
}

// Merge folds the specifiers of update into base. Keys present in update
// replace their earlier value in place; new keys are appended.
func Merge(base, update []Specifier) []Specifier {
	out := make([]Specifier, len(base), len(base)+len(update))
	copy(out, base)
	for _, s := range update {
		replaced := false
		for i := range out {
			if out[i].Key == s.Key {
				out[i].Value = s.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, s)
		}
	}
	return out
}

// Join renders specifiers back into raw specifier text.
func Join(specifiers []Specifier) string {
	parts := make([]string, 0, len(specifiers))
	for _, s := range specifiers {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}

// SplitSpecifiers tokenizes comma separated key:value text. Values may be
// wrapped in single or double quotes to carry commas; a backslash escapes the
// next character inside double quotes.
func SplitSpecifiers(raw string) ([]Specifier, error) {
	fields, err := splitFields(raw)
	if err != nil {
		return nil, err
	}
	out := make([]Specifier, 0, len(fields))
	for _, f := range fields {
		key, value, ok := strings.Cut(f, ":")
		if !ok {
			return out, fmt.Errorf("specifier %q: missing ':'", f)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return out, fmt.Errorf("specifier %q: empty key", f)
		}
		out = append(out, Specifier{Key: key, Value: unquote(strings.TrimSpace(value))})
	}
	return out, nil
}

func splitFields(raw string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		quote  rune
		escape bool
	)
	flush := func() {
		f := strings.TrimSpace(cur.String())
		if f != "" {
			fields = append(fields, f)
		}
		cur.Reset()
	}
	for _, r := range raw {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case quote == '"' && r == '\\':
			cur.WriteRune(r)
			escape = true
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			cur.WriteRune(r)
			quote = r
		case r == ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote in %q", quote, raw)
	}
	flush()
	return fields, nil
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	switch {
	case v[0] == '\'' && v[len(v)-1] == '\'':
		return v[1 : len(v)-1]
	case v[0] == '"' && v[len(v)-1] == '"':
		inner := v[1 : len(v)-1]
		var b strings.Builder
		escaped := false
		for _, r := range inner {
			if escaped {
				b.WriteRune(r)
				escaped = false
				continue
			}
			if r == '\\' {
				escaped = true
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}
	return v
}

func quoteValue(v string) string {
	if !strings.ContainsAny(v, ",'\"\\ \t") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}
