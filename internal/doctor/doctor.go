package doctor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"shellpm/internal/cond"
	"shellpm/internal/config"
	"shellpm/internal/registry"
	"shellpm/internal/spec"
	"shellpm/internal/store"
)

const (
	LevelError = "error"
	LevelWarn  = "warn"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
	Plugins  int       `json:"plugins"`
}

type Service struct {
	ConfigPath string
	Root       string
	Registry   *registry.Registry
	Cond       *cond.Evaluator
	// PathEnv is the PATH of the calling shell.
	PathEnv  string
	LookPath func(string) (string, error)
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}
	add := func(code, level, msg string) {
		findings = append(findings, Finding{Code: code, Level: level, Message: msg})
	}

	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath("git"); err != nil {
		add("DOC_GIT_MISSING", LevelError, "git executable not found: "+err.Error())
	}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		add("DOC_CONFIG_MISSING", LevelError, err.Error())
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		add("DOC_CONFIG_INVALID", LevelError, err.Error())
	}

	if _, err := store.LoadState(s.Root); err != nil {
		add("DOC_STATE_INVALID", LevelError, err.Error())
	}

	plugins := 0
	if s.Registry != nil {
		plugins = s.Registry.Len()
		for _, id := range s.Registry.Keys() {
			ps, _ := s.Registry.Spec(id, spec.Defaults{Root: s.Root})
			if s.Cond != nil && ps.IfCond != "" {
				if err := s.Cond.Check(ps.IfCond); err != nil {
					add("DOC_COND_INVALID", LevelWarn, id+": "+err.Error())
				}
			}
			if ps.On != "" && !s.Registry.Has(ps.On) {
				add("DOC_DEPENDENCY_UNDECLARED", LevelWarn, id+" depends on undeclared "+ps.On)
			}
		}
	}
	if plugins == 0 {
		add("DOC_REGISTRY_EMPTY", LevelWarn, "no plugins declared")
	}

	binDir := store.BinRoot(s.Root)
	entries, err := os.ReadDir(binDir)
	if err == nil {
		for _, e := range entries {
			link := filepath.Join(binDir, e.Name())
			if _, err := os.Stat(link); err != nil {
				add("DOC_LINK_DANGLING", LevelWarn, link+": "+err.Error())
			}
		}
		if len(entries) > 0 && !onPath(s.PathEnv, binDir) {
			add("DOC_BIN_NOT_ON_PATH", LevelWarn, binDir+" is not on PATH; add eval \"$(shellpm load)\" to your shell rc")
		}
	}

	healthy := true
	for _, f := range findings {
		if f.Level == LevelError {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, Plugins: plugins}
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
