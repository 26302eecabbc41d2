package status

import (
	"context"

	slogcontext "github.com/veqryn/slog-context"

	"shellpm/internal/fsutil"
	"shellpm/internal/registry"
	"shellpm/internal/scheduler"
	"shellpm/internal/source"
	"shellpm/internal/spec"
)

type State string

const (
	UpToDate         State = "up-to-date"
	LocalOutOfDate   State = "local-out-of-date"
	FastForwardable  State = "fast-forwardable"
	NotOnAnyBranch   State = "not-on-any-branch"
	NotInitialized   State = "not-initialized"
	Unmanaged        State = "unmanaged"
	Unknown          State = "unknown"
	StateNotDeclared State = "not-declared"
)

type Record struct {
	ID     string `json:"id"`
	State  State  `json:"state"`
	Branch string `json:"branch,omitempty"`
	Remote string `json:"remote,omitempty"`
	Merge  string `json:"mergeBranch,omitempty"`
	URL    string `json:"url,omitempty"`
	Ahead  int    `json:"ahead,omitempty"`
	Behind int    `json:"behind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type Service struct {
	Root      string
	Registry  *registry.Registry
	Defaults  spec.Defaults
	Repo      source.Repository
	Transport source.Transport
	Pool      scheduler.Pool
}

// Check returns the selected ids (all when empty) that are not installed or
// whose dependency is not installed, in registry order.
func (s *Service) Check(ids []string) (missing []string, unknown []string) {
	known, unknown := s.Registry.Select(ids)
	for _, id := range known {
		ps, _ := s.Registry.Spec(id, s.Defaults)
		if !fsutil.IsDir(ps.Dir) {
			missing = append(missing, id)
			continue
		}
		if ps.On != "" && !fsutil.IsDir(spec.PluginDir(s.Root, ps.On)) {
			missing = append(missing, id)
		}
	}
	return missing, unknown
}

// Status compares every selected plugin with its remote. Records come back in
// registry order; undeclared ids are reported as not-declared.
func (s *Service) Status(ctx context.Context, ids []string) ([]Record, error) {
	known, unknown := s.Registry.Select(ids)
	records := make([]Record, len(known))
	err := s.Pool.Run(ctx, len(known), func(ctx context.Context, i int) {
		ps, _ := s.Registry.Spec(known[i], s.Defaults)
		records[i] = s.classify(ctx, ps)
	})
	for i, id := range known {
		if records[i].ID == "" {
			records[i] = Record{ID: id, State: Unknown, Detail: "interrupted"}
		}
	}
	for _, id := range unknown {
		records = append(records, Record{ID: id, State: StateNotDeclared})
	}
	return records, err
}

func (s *Service) classify(ctx context.Context, ps spec.PluginSpec) Record {
	rec := Record{ID: ps.ID}
	switch {
	case !fsutil.Exists(ps.Dir):
		rec.State = Unmanaged
		rec.URL = s.Transport.CloneURL(ps.ID)
		return rec
	case ps.From == spec.OriginGitHubReleases:
		rec.State = Unknown
		rec.Detail = "release artifact"
		return rec
	case !source.IsGitRepo(ps.Dir):
		rec.State = NotInitialized
		return rec
	}

	info, err := s.Repo.RemoteInfo(ctx, ps.Dir)
	if err != nil {
		rec.State = Unknown
		rec.Detail = err.Error()
		return rec
	}
	rec.Branch = info.Branch
	rec.Remote = info.Remote
	rec.Merge = info.MergeBranch
	rec.URL = info.URL
	if info.Detached {
		rec.State = NotOnAnyBranch
		return rec
	}
	if info.RemoteHead != "" && !info.RemoteHeadKnown {
		rec.State = LocalOutOfDate
		rec.Detail = "remote HEAD " + shortRev(info.RemoteHead) + " not fetched"
		return rec
	}
	switch info.Relation {
	case "up to date":
		rec.State = UpToDate
		return rec
	case "fast-forwardable":
		rec.State = FastForwardable
		return rec
	case "local out of date":
		rec.State = LocalOutOfDate
		return rec
	}

	tracking := info.TrackingRef()
	if tracking == "" {
		rec.State = Unknown
		rec.Detail = "no upstream configured"
		return rec
	}
	ahead, behind, err := s.Repo.AheadBehind(ctx, ps.Dir, info.Branch, tracking)
	if err != nil {
		slogcontext.FromCtx(ctx).Debug("ahead/behind failed", "plugin", ps.ID, "error", err)
		rec.State = Unknown
		rec.Detail = err.Error()
		return rec
	}
	rec.Ahead, rec.Behind = ahead, behind
	switch {
	case ahead == 0 && behind == 0:
		rec.State = UpToDate
	case behind > 0:
		rec.State = LocalOutOfDate
	case ahead > 0:
		rec.State = FastForwardable
	default:
		rec.State = Unknown
	}
	return rec
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
