package cond

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

type Vars struct {
	OS       string
	Arch     string
	Shell    string
	Hostname string
	Env      map[string]string
}

// HostVars describes the running process.
func HostVars() Vars {
	host, _ := os.Hostname()
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	var shell string
	if s := os.Getenv("SHELL"); s != "" {
		shell = filepath.Base(s)
	}
	return Vars{OS: runtime.GOOS, Arch: runtime.GOARCH, Shell: shell, Hostname: host, Env: env}
}

func (v Vars) activation() map[string]any {
	env := v.Env
	if env == nil {
		env = map[string]string{}
	}
	return map[string]any{
		"os":       v.OS,
		"arch":     v.Arch,
		"shell":    v.Shell,
		"hostname": v.Hostname,
		"env":      env,
	}
}

// Evaluator compiles each distinct expression once. It is safe for
// concurrent use.
type Evaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("os", cel.StringType),
		cel.Variable("arch", cel.StringType),
		cel.Variable("shell", cel.StringType),
		cel.Variable("hostname", cel.StringType),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("COND_ENV: %w", err)
	}
	return &Evaluator{env: env, programs: map[string]cel.Program{}}, nil
}

// Eval reports whether expr holds for vars. An empty expression holds.
func (e *Evaluator) Eval(ctx context.Context, expr string, vars Vars) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	val, _, err := prg.ContextEval(ctx, vars.activation())
	if err != nil {
		return false, fmt.Errorf("COND_EVAL: %q: %w", expr, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("COND_TYPE: %q yields %s, want bool", expr, val.Type().TypeName())
	}
	return b, nil
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues.Err() != nil {
		return nil, fmt.Errorf("COND_COMPILE: %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("COND_TYPE: %q yields %s, want bool", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("COND_PROGRAM: %q: %w", expr, err)
	}
	e.programs[expr] = prg
	return prg, nil
}
