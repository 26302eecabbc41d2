package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"shellpm/internal/app"
	"shellpm/internal/config"
	"shellpm/internal/installer"
	"shellpm/internal/spec"
	"shellpm/internal/status"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()
	return buf.String()
}

// writeConfig stores a config rooted in a temp dir and returns its path, the
// storage root and the declarations file.
func writeConfig(t *testing.T, declarations string, mutate func(*config.Config)) (string, string, string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg := config.DefaultConfig()
	cfg.Storage.Root = filepath.Join(home, "shellpm")
	cfg.Declarations.File = filepath.Join(home, "plugins")
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(&cfg)
	}
	cfgPath := filepath.Join(home, "config.toml")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	if err := os.WriteFile(cfg.Declarations.File, []byte(declarations), 0o644); err != nil {
		t.Fatalf("write declarations failed: %v", err)
	}
	return cfgPath, cfg.Storage.Root, cfg.Declarations.File
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var err error
	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		err = cmd.ExecuteContext(context.Background())
	})
	return out, err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ex ExitCoder
	if errors.As(err, &ex) {
		return ex.ExitCode()
	}
	return 1
}

func boolPtr(v bool) *bool { return &v }

func TestNewRootCmdIncludesCoreCommands(t *testing.T) {
	cmd := newRootCmd()
	got := map[string]bool{}
	for _, c := range cmd.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{"version", "install", "update", "load", "list", "check", "status", "validate", "doctor"} {
		if !got[want] {
			t.Fatalf("expected command %q", want)
		}
	}
	for _, flag := range []string{"config", "json", "log-level", "log-format"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("expected global flag --%s", flag)
		}
	}
}

func TestUpdateSelfRejectsIdsBeforeService(t *testing.T) {
	called := false
	cmd := newUpdateCmd(func() (*app.Service, error) {
		called = true
		return nil, errors.New("should not be called")
	}, boolPtr(false))
	cmd.SetArgs([]string{"--self", "a/b"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--self") {
		t.Fatalf("expected --self usage error, got %v", err)
	}
	if called {
		t.Fatalf("newSvc should not be called for invalid flags")
	}
}

func TestPrintMessageAndJSON(t *testing.T) {
	msgOut := captureStdout(t, func() {
		if err := print(false, nil, "ok-message"); err != nil {
			t.Fatalf("print message failed: %v", err)
		}
	})
	if !strings.Contains(msgOut, "ok-message") {
		t.Fatalf("expected message output, got %q", msgOut)
	}

	jsonOut := captureStdout(t, func() {
		if err := print(true, map[string]string{"k": "v"}, "ignored"); err != nil {
			t.Fatalf("print json failed: %v", err)
		}
	})
	var parsed map[string]string
	if err := json.Unmarshal([]byte(jsonOut), &parsed); err != nil {
		t.Fatalf("expected valid json output, got %q: %v", jsonOut, err)
	}
	if parsed["k"] != "v" {
		t.Fatalf("unexpected json payload: %+v", parsed)
	}
}

func TestConfirmer(t *testing.T) {
	var prompt bytes.Buffer
	confirm := confirmer(strings.NewReader("y\nno\n"), &prompt)
	if !confirm("a/one") {
		t.Fatalf("expected first answer to confirm")
	}
	if confirm("a/two") {
		t.Fatalf("expected second answer to decline")
	}
	if confirm("a/three") {
		t.Fatalf("expected EOF to decline")
	}
	if !strings.Contains(prompt.String(), "a/two is frozen") {
		t.Fatalf("unexpected prompt %q", prompt.String())
	}
}

func TestFinishReportExitCodes(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	failed := installer.Report{
		Results: []installer.JobResult{
			{ID: "a/one", Outcome: installer.NotInstalled, Code: installer.CodeFailed, Error: "INS_CLONE: boom"},
			{ID: "a/two", Outcome: installer.Installed},
		},
		Failed: 1,
	}
	var err error
	out := captureStdout(t, func() { err = finishReport(cmd, failed, nil, false, false) })
	if exitCode(err) != 1 {
		t.Fatalf("expected exit 1, got %v", err)
	}
	if !strings.Contains(out, "a/one") || !strings.Contains(out, "INS_CLONE: boom") || !strings.Contains(out, "1 failed") {
		t.Fatalf("unexpected report output %q", out)
	}

	_ = captureStdout(t, func() { err = finishReport(cmd, installer.Report{Interrupted: 2}, context.Canceled, false, false) })
	if exitCode(err) != exitInterrupted {
		t.Fatalf("expected exit %d, got %v", exitInterrupted, err)
	}

	boom := errors.New("APP_REGISTRY: no plugins declared")
	if err := finishReport(cmd, installer.Report{}, boom, false, false); !errors.Is(err, boom) {
		t.Fatalf("expected service error to pass through, got %v", err)
	}
}

func TestValidateCommandFailsOnInvalidEntries(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "a/good\na/bad, as:bogus\n", nil)
	out, err := runCLI(t, "--config", cfgPath, "validate")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit 1, got %v", err)
	}
	if !strings.Contains(out, "a/bad") {
		t.Fatalf("expected diagnostic for a/bad, got %q", out)
	}

	cfgPath, _, _ = writeConfig(t, "a/good\n", nil)
	out, err = runCLI(t, "--config", cfgPath, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "validation passed (1 declared)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestInstallEmptyRegistryIsGenericFailure(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "", nil)
	_, err := runCLI(t, "--config", cfgPath, "install")
	if !errors.Is(err, app.ErrEmptyRegistry) || exitCode(err) != 1 {
		t.Fatalf("expected empty registry failure, got %v", err)
	}
}

func TestCheckReportsMissing(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "a/missing\n", nil)
	out, err := runCLI(t, "--config", cfgPath, "check", "--verbose", "a/missing", "x/undeclared")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit 1, got %v", err)
	}
	if !strings.Contains(out, "a/missing: not installed") || !strings.Contains(out, "x/undeclared: not declared") {
		t.Fatalf("unexpected check output %q", out)
	}
}

func TestListShowsDeclaredPlugins(t *testing.T) {
	cfgPath, _, _ := writeConfig(t, "zsh-users/zsh-autosuggestions\njunegunn/fzf, as:cmd, from:gh-r\n", nil)
	out, err := runCLI(t, "--config", cfgPath, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, want := range []string{"zsh-users/zsh-autosuggestions", "junegunn/fzf", "command/github-releases", "missing"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in list output %q", want, out)
		}
	}

	_, err = runCLI(t, "--config", cfgPath, "list", "x/nope")
	if exitCode(err) != 1 {
		t.Fatalf("expected undeclared id to fail, got %v", err)
	}
}

func TestInstallLoadStatusAgainstLocalMirror(t *testing.T) {
	mirror := t.TempDir()
	setupBareRepo(t, mirror, "owner/plug", map[string]string{
		"plug.plugin.zsh": "echo plug\n",
		"bin/plugtool":    "#!/bin/sh\necho tool\n",
	})
	setupBareRepo(t, mirror, "owner/tool", map[string]string{
		"tool": "#!/bin/sh\necho tool\n",
	})
	cfgPath, root, _ := writeConfig(t, "owner/plug\nowner/tool, as:cmd, file:mytool\n", func(c *config.Config) {
		c.Git.Mirror = "file://" + mirror
		c.Install.DefaultRef = "main"
		c.Install.Jobs = 2
	})

	out, err := runCLI(t, "--config", cfgPath, "install")
	if err != nil {
		t.Fatalf("install failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 failed") {
		t.Fatalf("unexpected install output %q", out)
	}
	plugDir := spec.PluginDir(root, "owner/plug")
	if _, err := os.Stat(filepath.Join(plugDir, "plug.plugin.zsh")); err != nil {
		t.Fatalf("expected cloned plugin: %v", err)
	}

	out, err = runCLI(t, "--config", cfgPath, "install", "--verbose")
	if err != nil {
		t.Fatalf("second install failed: %v", err)
	}
	if !strings.Contains(out, "owner/plug: already installed") {
		t.Fatalf("expected idempotent install, got %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "load")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(out, "source '"+filepath.Join(plugDir, "plug.plugin.zsh")+"'") {
		t.Fatalf("expected source line, got %q", out)
	}
	if strings.Count(out, "export PATH=") != 1 {
		t.Fatalf("expected one PATH export, got %q", out)
	}
	if _, err := os.Readlink(filepath.Join(root, "bin", "mytool")); err != nil {
		t.Fatalf("expected mytool link: %v", err)
	}

	out, err = runCLI(t, "--config", cfgPath, "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "all plugins installed") {
		t.Fatalf("unexpected check output %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "--json", "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var records []status.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode status failed: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %+v", records)
	}
	for _, r := range records {
		if r.State != status.UpToDate {
			t.Fatalf("expected %s up-to-date, got %+v", r.ID, r)
		}
	}

	out, err = runCLI(t, "--config", cfgPath, "update")
	if err != nil {
		t.Fatalf("update failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 failed") {
		t.Fatalf("unexpected update output %q", out)
	}
}
