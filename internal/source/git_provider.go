package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"shellpm/internal/proc"
)

type gitExecFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// GitRepository drives the git binary. Prompts are disabled and the locale is
// pinned so that porcelain output can be parsed.
type GitRepository struct {
	execGit gitExecFunc
}

func NewGitRepository() *GitRepository {
	return &GitRepository{execGit: defaultGitExec}
}

func defaultGitExec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := proc.Command(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (g *GitRepository) Clone(ctx context.Context, opts CloneOptions) error {
	if opts.URL == "" || opts.Dir == "" {
		return fmt.Errorf("SRC_GIT_CLONE: url and dir are required")
	}
	args := []string{"clone", "--quiet", "--recurse-submodules"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth), "--shallow-submodules")
	}
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	args = append(args, opts.URL, opts.Dir)
	if _, err := g.execGit(ctx, "", args...); err != nil {
		if ctx.Err() == nil && missingRemote(err) {
			return fmt.Errorf("SRC_GIT_CLONE: %s: %w: %w", opts.URL, ErrNotFound, err)
		}
		return fmt.Errorf("SRC_GIT_CLONE: %w", err)
	}
	return nil
}

// missingRemote reports whether git failed because the repository or the
// requested branch does not exist.
func missingRemote(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "repository not found"),
		strings.Contains(msg, "does not appear to be a git repository"),
		strings.Contains(msg, "not found in upstream"):
		return true
	case strings.Contains(msg, "fatal: repository '") && strings.Contains(msg, "' not found"):
		return true
	}
	return false
}

// Fetch updates dir from origin. With FastForward set the checkout follows
// the fetched tip: a merge --ff-only on full clones, a hard reset on shallow
// ones since they carry no common history to merge against.
func (g *GitRepository) Fetch(ctx context.Context, dir string, opts FetchOptions) error {
	args := []string{"fetch", "--quiet"}
	switch {
	case opts.Depth > 0:
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	case isShallow(dir):
		args = append(args, "--unshallow")
	}
	args = append(args, "origin")
	if opts.Ref != "" {
		args = append(args, opts.Ref)
	}
	if _, err := g.execGit(ctx, dir, args...); err != nil {
		return fmt.Errorf("SRC_GIT_FETCH: %w", err)
	}
	if !opts.FastForward {
		return nil
	}
	if opts.Depth > 0 {
		if _, err := g.execGit(ctx, dir, "reset", "--quiet", "--hard", "FETCH_HEAD"); err != nil {
			return fmt.Errorf("SRC_GIT_FETCH: reset failed: %w", err)
		}
		return nil
	}
	if _, err := g.execGit(ctx, dir, "merge", "--quiet", "--ff-only", "FETCH_HEAD"); err != nil {
		return fmt.Errorf("SRC_GIT_FETCH: fast-forward failed: %w", err)
	}
	return nil
}

func (g *GitRepository) Checkout(ctx context.Context, dir, rev string) error {
	if _, err := g.execGit(ctx, dir, "checkout", "--quiet", rev); err != nil {
		return fmt.Errorf("SRC_GIT_CHECKOUT: %w", err)
	}
	return nil
}

func (g *GitRepository) RevParse(ctx context.Context, dir, rev string) (string, error) {
	out, err := g.execGit(ctx, dir, "rev-parse", "--verify", rev)
	if err != nil {
		return "", fmt.Errorf("SRC_GIT_REV: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitRepository) RemoteInfo(ctx context.Context, dir string) (RemoteInfo, error) {
	var info RemoteInfo
	out, err := g.execGit(ctx, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		info.Detached = true
		return info, nil
	}
	info.Branch = strings.TrimSpace(string(out))
	info.Remote = g.configValue(ctx, dir, "branch."+info.Branch+".remote")
	info.MergeBranch = strings.TrimPrefix(g.configValue(ctx, dir, "branch."+info.Branch+".merge"), "refs/heads/")
	if info.Remote == "" {
		return info, nil
	}
	info.URL = g.configValue(ctx, dir, "remote."+info.Remote+".url")

	if out, err := g.execGit(ctx, dir, "remote", "show", info.Remote); err == nil {
		info.Relation = parseRelation(string(out), info.Branch)
	}
	if out, err := g.execGit(ctx, dir, "ls-remote", info.Remote, "HEAD"); err == nil {
		if fields := strings.Fields(string(out)); len(fields) > 0 {
			info.RemoteHead = fields[0]
			_, err := g.execGit(ctx, dir, "cat-file", "-e", info.RemoteHead+"^{commit}")
			info.RemoteHeadKnown = err == nil
		}
	}
	return info, nil
}

func (g *GitRepository) AheadBehind(ctx context.Context, dir, local, upstream string) (int, int, error) {
	out, err := g.execGit(ctx, dir, "rev-list", "--left-right", "--count", local+"..."+upstream)
	if err != nil {
		return 0, 0, fmt.Errorf("SRC_GIT_REVLIST: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("SRC_GIT_REVLIST: unexpected output %q", strings.TrimSpace(string(out)))
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("SRC_GIT_REVLIST: %w", err)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("SRC_GIT_REVLIST: %w", err)
	}
	return ahead, behind, nil
}

// configValue returns "" for unset keys; git exits 1 in that case.
func (g *GitRepository) configValue(ctx context.Context, dir, key string) string {
	out, err := g.execGit(ctx, dir, "config", "--get", key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// parseRelation extracts the parenthesised state from the
// "<branch> pushes to <branch> (<state>)" line of `git remote show`.
func parseRelation(out, branch string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != branch || fields[1] != "pushes" || fields[2] != "to" {
			continue
		}
		line = strings.TrimSpace(line)
		open := strings.LastIndex(line, "(")
		if open < 0 || !strings.HasSuffix(line, ")") {
			return ""
		}
		return line[open+1 : len(line)-1]
	}
	return ""
}

// IsGitRepo checks whether the directory contains a .git entry.
func IsGitRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func isShallow(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git", "shallow"))
	return err == nil
}
