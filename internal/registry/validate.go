package registry

import (
	"fmt"

	"shellpm/internal/spec"
)

// Diagnostic describes one entry dropped by Validate.
type Diagnostic struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: invalid value %q for %s", d.ID, d.Value, d.Key)
}

var allowedKinds = map[spec.Kind]struct{}{
	spec.KindSource:  {},
	spec.KindCommand: {},
}

var allowedOrigins = map[spec.Origin]struct{}{
	spec.OriginGit:            {},
	spec.OriginGitHubReleases: {},
}

var allowedFlags = map[spec.Flag]struct{}{
	spec.FlagTrue:  {},
	spec.FlagFalse: {},
}

// Validate checks every entry's enumerated fields and removes entries that
// fall outside their domain. It returns the number of removed entries.
func (r *Registry) Validate() (int, []Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var diags []Diagnostic
	var drop []string
	for _, id := range r.order {
		ps := spec.Parse(id, spec.Join(r.entries[id].specifiers), spec.Defaults{})
		d, ok := check(ps)
		if ok {
			continue
		}
		diags = append(diags, d)
		drop = append(drop, id)
	}
	for _, id := range drop {
		r.remove(id)
	}
	return len(drop), diags
}

func check(ps spec.PluginSpec) (Diagnostic, bool) {
	if _, ok := allowedKinds[ps.As]; !ok {
		return Diagnostic{ID: ps.ID, Key: spec.KeyAs, Value: string(ps.As)}, false
	}
	if _, ok := allowedOrigins[ps.From]; !ok {
		return Diagnostic{ID: ps.ID, Key: spec.KeyFrom, Value: string(ps.From)}, false
	}
	if _, ok := allowedFlags[ps.Frozen]; !ok {
		return Diagnostic{ID: ps.ID, Key: spec.KeyFrozen, Value: string(ps.Frozen)}, false
	}
	return Diagnostic{}, true
}
