package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	slogcontext "github.com/veqryn/slog-context"

	"shellpm/internal/cond"
	"shellpm/internal/fsutil"
	"shellpm/internal/registry"
	"shellpm/internal/scheduler"
	"shellpm/internal/spec"
	"shellpm/internal/store"
)

type Service struct {
	Root     string
	Registry *registry.Registry
	Defaults spec.Defaults
	Cond     *cond.Evaluator
	Vars     cond.Vars
	Pool     scheduler.Pool
	// Globs are tried in order for source plugins without an of pattern.
	Globs []string
}

// Env is the part of the calling shell's environment Load depends on.
type Env struct {
	Path string
}

type Diagnostic struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string { return d.ID + ": " + d.Reason }

type Link struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Target string `json:"target"`
}

type Plan struct {
	BinDir     string       `json:"binDir"`
	ExportPath bool         `json:"exportPath"`
	Sources    []string     `json:"sources"`
	Links      []Link       `json:"links"`
	Skipped    []Diagnostic `json:"skipped,omitempty"`
	Failed     []Diagnostic `json:"failed,omitempty"`
}

// Script renders the plan as POSIX shell. Scripts removed since Load ran are
// left out.
func (p Plan) Script() string {
	var b strings.Builder
	if p.ExportPath {
		fmt.Fprintf(&b, "export PATH=%s:\"$PATH\"\n", shellQuote(p.BinDir))
	}
	for _, path := range p.Sources {
		if !fsutil.Exists(path) {
			continue
		}
		fmt.Fprintf(&b, "source %s\n", shellQuote(path))
	}
	return b.String()
}

// Load activates the selected plugins (all when ids is empty) in registry
// order.
func (s *Service) Load(ctx context.Context, ids []string, env Env) (Plan, error) {
	logger := slogcontext.FromCtx(ctx).With("operation", "load")
	plan := Plan{BinDir: store.BinRoot(s.Root)}
	known, unknown := s.Registry.Select(ids)
	for _, id := range unknown {
		plan.Skipped = append(plan.Skipped, Diagnostic{ID: id, Reason: "not declared"})
	}

	linkIndex := map[string]int{}
	for _, id := range known {
		ps, _ := s.Registry.Spec(id, s.Defaults)
		if reason := s.guard(ctx, ps); reason != "" {
			plan.Skipped = append(plan.Skipped, Diagnostic{ID: id, Reason: reason})
			continue
		}
		switch ps.As {
		case spec.KindSource:
			files, err := scripts(ps, s.Globs)
			if err != nil {
				plan.Failed = append(plan.Failed, Diagnostic{ID: id, Reason: err.Error()})
				continue
			}
			if len(files) == 0 {
				plan.Skipped = append(plan.Skipped, Diagnostic{ID: id, Reason: "no script to source"})
				continue
			}
			plan.Sources = append(plan.Sources, files...)
		case spec.KindCommand:
			exe, err := executable(ps)
			if err != nil {
				plan.Failed = append(plan.Failed, Diagnostic{ID: id, Reason: err.Error()})
				continue
			}
			if exe == "" {
				plan.Skipped = append(plan.Skipped, Diagnostic{ID: id, Reason: "no executable found"})
				continue
			}
			name := ps.File
			if name == "" {
				name = filepath.Base(exe)
			}
			link := Link{ID: id, Name: name, Target: exe}
			if prev, ok := linkIndex[name]; ok {
				plan.Skipped = append(plan.Skipped, Diagnostic{ID: plan.Links[prev].ID, Reason: fmt.Sprintf("link %q taken over by %s", name, id)})
				plan.Links[prev] = link
				continue
			}
			linkIndex[name] = len(plan.Links)
			plan.Links = append(plan.Links, link)
		default:
			plan.Skipped = append(plan.Skipped, Diagnostic{ID: id, Reason: fmt.Sprintf("unsupported kind %q", ps.As)})
		}
	}

	if len(plan.Links) > 0 {
		if err := os.MkdirAll(plan.BinDir, 0o755); err != nil {
			return plan, fmt.Errorf("LOAD_BIN: %w", err)
		}
		failed := make([]error, len(plan.Links))
		err := s.Pool.Run(ctx, len(plan.Links), func(_ context.Context, i int) {
			failed[i] = s.link(plan.BinDir, plan.Links[i])
		})
		kept := plan.Links[:0]
		for i, l := range plan.Links {
			if failed[i] != nil {
				plan.Failed = append(plan.Failed, Diagnostic{ID: l.ID, Reason: failed[i].Error()})
				continue
			}
			kept = append(kept, l)
		}
		plan.Links = kept
		if err != nil {
			return plan, err
		}
		plan.ExportPath = !onPath(env.Path, plan.BinDir)
	}

	for _, d := range plan.Skipped {
		logger.Debug("plugin skipped", "plugin", d.ID, "reason", d.Reason)
	}
	for _, d := range plan.Failed {
		logger.Warn("plugin not activated", "plugin", d.ID, "error", d.Reason)
	}
	return plan, nil
}

func (s *Service) guard(ctx context.Context, ps spec.PluginSpec) string {
	if s.Cond != nil {
		ok, err := s.Cond.Eval(ctx, ps.IfCond, s.Vars)
		if err != nil {
			return err.Error()
		}
		if !ok {
			return "ifCond is false"
		}
	}
	if ps.On != "" && !fsutil.IsDir(spec.PluginDir(s.Root, ps.On)) {
		return fmt.Sprintf("dependency %s is not installed", ps.On)
	}
	if !fsutil.Exists(ps.Dir) {
		return "not installed"
	}
	return ""
}

// link sets the exec bit on the target when missing; it is the only change
// Load makes inside a plugin tree.
func (s *Service) link(binDir string, l Link) error {
	info, err := os.Stat(l.Target)
	if err != nil {
		return fmt.Errorf("LOAD_LINK: %w", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		if err := os.Chmod(l.Target, info.Mode().Perm()|0o755); err != nil {
			return fmt.Errorf("LOAD_LINK: %w", err)
		}
	}
	if err := fsutil.AtomicSymlink(l.Target, filepath.Join(binDir, l.Name)); err != nil {
		return fmt.Errorf("LOAD_LINK: %s: %w", l.Name, err)
	}
	return nil
}

func onPath(path, dir string) bool {
	clean := filepath.Clean(dir)
	for _, p := range filepath.SplitList(path) {
		if p != "" && filepath.Clean(p) == clean {
			return true
		}
	}
	return false
}

// shellQuote wraps v in single quotes for POSIX shells.
func shellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
