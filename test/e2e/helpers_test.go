package e2e

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"shellpm/internal/config"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("resolve repo root failed: %v", err)
	}
	return root
}

func buildCLI(t *testing.T, home string) (string, []string) {
	t.Helper()
	root := repoRoot(t)
	goModCache := filepath.Join(os.TempDir(), "shellpm-gomodcache")
	goCache := filepath.Join(os.TempDir(), "shellpm-gocache")
	if err := os.MkdirAll(goModCache, 0o755); err != nil {
		t.Fatalf("create mod cache failed: %v", err)
	}
	if err := os.MkdirAll(goCache, 0o755); err != nil {
		t.Fatalf("create go cache failed: %v", err)
	}

	env := append(os.Environ(),
		"HOME="+home,
		"NO_COLOR=1",
		"GOMODCACHE="+goModCache,
		"GOCACHE="+goCache,
	)
	bin := filepath.Join(home, "tools", "shellpm")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatalf("create bin dir failed: %v", err)
	}
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/shellpm")
	cmd.Dir = root
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build cli failed: %v\n%s", err, string(out))
	}
	return bin, env
}

// writeConfig stores a config under home whose storage root and declaration
// file live next to it.
func writeConfig(t *testing.T, home, declarations string, mutate func(*config.Config)) (cfgPath, root string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = filepath.Join(home, ".shellpm")
	cfg.Declarations.File = filepath.Join(home, ".shellpm", "plugins")
	cfg.Logging.Level = "warn"
	if mutate != nil {
		mutate(&cfg)
	}
	cfgPath = filepath.Join(home, ".shellpm", "config.toml")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	if err := os.WriteFile(cfg.Declarations.File, []byte(declarations), 0o644); err != nil {
		t.Fatalf("write declarations failed: %v", err)
	}
	return cfgPath, cfg.Storage.Root
}

func runCLI(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()
	return runCLIWithEnv(t, bin, env, nil, args...)
}

func runCLIWithEnv(t *testing.T, bin string, env []string, extra map[string]string, args ...string) string {
	t.Helper()
	out, code := execCLI(bin, mergeEnv(env, extra), args...)
	if code != 0 {
		t.Fatalf("command failed with exit %d\nargs=%v\noutput=%s", code, args, out)
	}
	return out
}

// runCLIExpectFail returns the combined output and the exit code of a
// command that must not succeed.
func runCLIExpectFail(t *testing.T, bin string, env []string, args ...string) (string, int) {
	t.Helper()
	return runCLIExpectFailWithEnv(t, bin, env, nil, args...)
}

func runCLIExpectFailWithEnv(t *testing.T, bin string, env []string, extra map[string]string, args ...string) (string, int) {
	t.Helper()
	out, code := execCLI(bin, mergeEnv(env, extra), args...)
	if code == 0 {
		t.Fatalf("expected command to fail\nargs=%v\noutput=%s", args, out)
	}
	return out, code
}

func execCLI(bin string, env []string, args ...string) (string, int) {
	cmd := exec.Command(bin, args...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode()
	}
	if err != nil {
		return string(out) + err.Error(), -1
	}
	return string(out), 0
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	values := map[string]string{}
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[parts[0]] = parts[1]
	}
	for k, v := range extra {
		values[k] = v
	}
	out := make([]string, 0, len(values))
	for k, v := range values {
		out = append(out, k+"="+v)
	}
	return out
}

func assertContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

// gitRun runs git in dir with a fixed identity.
func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, string(out))
	}
	return string(out)
}

// mirrorRepo is a plugin published as a bare repository below a mirror root.
// Commits go to the work tree and are pushed to the bare copy.
type mirrorRepo struct {
	t    *testing.T
	work string
	bare string
}

func setupBareRepoE2E(t *testing.T, mirrorRoot, id string, files map[string]string) *mirrorRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
	r := &mirrorRepo{
		t:    t,
		work: filepath.Join(t.TempDir(), "work"),
		bare: filepath.Join(mirrorRoot, filepath.FromSlash(id)),
	}
	if err := os.MkdirAll(r.work, 0o755); err != nil {
		t.Fatalf("mkdir work failed: %v", err)
	}
	gitRun(t, r.work, "init", "-b", "main")
	r.write(files)
	gitRun(t, r.work, "add", "-A")
	gitRun(t, r.work, "commit", "-m", "initial")
	if err := os.MkdirAll(filepath.Dir(r.bare), 0o755); err != nil {
		t.Fatalf("mkdir mirror failed: %v", err)
	}
	gitRun(t, r.work, "clone", "--bare", r.work, r.bare)
	return r
}

func (r *mirrorRepo) write(files map[string]string) {
	r.t.Helper()
	for relPath, content := range files {
		fullPath := filepath.Join(r.work, relPath)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			r.t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			r.t.Fatalf("write file failed: %v", err)
		}
	}
}

// publish commits files and pushes main to the bare repository.
func (r *mirrorRepo) publish(message string, files map[string]string) {
	r.t.Helper()
	r.write(files)
	gitRun(r.t, r.work, "add", "-A")
	gitRun(r.t, r.work, "commit", "-m", message)
	gitRun(r.t, r.work, "push", r.bare, "main")
}

func tarGz(t *testing.T, name string, body []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}
