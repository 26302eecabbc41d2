package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"shellpm/internal/config"
	"shellpm/internal/proc"
)

var ErrDenied = errors.New("hooks are denied by policy")

// passthroughEnv lists the only variables a hook inherits.
var passthroughEnv = []string{
	"PATH", "HOME", "USER", "LOGNAME", "SHELL", "TERM", "TMPDIR",
	"LANG", "LC_ALL", "LC_CTYPE",
}

type Runner interface {
	Run(ctx context.Context, dir string, env []string, command string) error
}

type execRunner struct{}

func (r execRunner) Run(ctx context.Context, dir string, env []string, command string) error {
	cmd := proc.Command(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	// Jobs the hook left running would keep writing into the plugin dir.
	proc.Reap(cmd)
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

type Service struct {
	policy  string
	timeout time.Duration
	runner  Runner
}

func New(policy string, timeout time.Duration) *Service {
	return &Service{policy: policy, timeout: timeout, runner: execRunner{}}
}

func FromConfig(cfg config.Config) *Service {
	return New(cfg.Hooks.Policy, cfg.HookTimeout())
}

// Run executes command for plugin id with dir as working directory.
func (s *Service) Run(ctx context.Context, id, dir, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	if s.policy == config.HookPolicyDeny {
		return fmt.Errorf("HOOK_DENIED: %s: %w", id, ErrDenied)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.runner.Run(ctx, dir, Env(id, dir), command)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("HOOK_TIMEOUT: %s: exceeded %s: %w", id, s.timeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return fmt.Errorf("HOOK_CANCELLED: %s: %w", id, ctx.Err())
	}
	return fmt.Errorf("HOOK_FAILED: %s: %w", id, err)
}

// Env is the environment handed to a hook.
func Env(id, dir string) []string {
	env := make([]string, 0, len(passthroughEnv)+2)
	for _, k := range passthroughEnv {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return append(env, "SHELLPM_PLUGIN_ID="+id, "SHELLPM_PLUGIN_DIR="+dir)
}
