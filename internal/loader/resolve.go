package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"

	"shellpm/internal/spec"
)

func compile(pattern string) (glob.Glob, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("LOAD_GLOB: %q: %w", pattern, err)
	}
	return g, nil
}

// walkMatches returns regular files below dir whose slash separated relative
// path matches pattern, in lexical order. .git trees are not descended.
func walkMatches(dir, pattern string) ([]string, error) {
	g, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		if g.Match(filepath.ToSlash(rel)) && isFile(path) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// directMatches returns regular files directly inside dir matching pattern.
func directMatches(dir, pattern string) ([]string, error) {
	g, err := compile(pattern)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if g.Match(e.Name()) && isFile(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// scripts resolves the files a source plugin contributes: the of glob when
// set, else the first default glob with any match.
func scripts(ps spec.PluginSpec, defaults []string) ([]string, error) {
	if ps.Of != "" {
		return walkMatches(ps.Dir, ps.Of)
	}
	for _, pattern := range defaults {
		files, err := directMatches(ps.Dir, pattern)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return files, nil
		}
	}
	return nil, nil
}

// executable resolves the file a command plugin links to. Candidates are
// tried in order: dir/<name>, dir/<of> (glob allowed), dir/<of>/<name>, the
// plugin path itself when it is a file. Release plugins finally fall back to
// any file called <name> in the unpacked tree.
func executable(ps spec.PluginSpec) (string, error) {
	name := ps.Name()
	if p := filepath.Join(ps.Dir, name); isFile(p) {
		return p, nil
	}
	if ps.Of != "" {
		matches, err := walkMatches(ps.Dir, ps.Of)
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
		if p := filepath.Join(ps.Dir, filepath.FromSlash(ps.Of), name); isFile(p) {
			return p, nil
		}
	}
	if isFile(ps.Dir) {
		return ps.Dir, nil
	}
	if ps.From == spec.OriginGitHubReleases {
		matches, err := walkMatches(ps.Dir, "**/"+glob.QuoteMeta(name))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
