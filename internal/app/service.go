package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"shellpm/internal/audit"
	"shellpm/internal/cond"
	"shellpm/internal/config"
	"shellpm/internal/doctor"
	"shellpm/internal/fsutil"
	"shellpm/internal/hook"
	"shellpm/internal/installer"
	"shellpm/internal/loader"
	"shellpm/internal/registry"
	"shellpm/internal/scheduler"
	"shellpm/internal/selfupdate"
	"shellpm/internal/source"
	"shellpm/internal/spec"
	"shellpm/internal/status"
	"shellpm/internal/store"
)

// ErrEmptyRegistry is returned by operations that need at least one
// declared plugin.
var ErrEmptyRegistry = errors.New("no plugins declared")

type Options struct {
	ConfigPath string
	// DeclarationsPath overrides declarations.file from the config.
	DeclarationsPath string
	HTTPClient       *http.Client
	// LogOutput defaults to stderr. LogLevel and LogFormat override the
	// config when set.
	LogOutput io.Writer
	LogLevel  string
	LogFormat string
}

type Service struct {
	ConfigPath       string
	Config           config.Config
	Root             string
	DeclarationsPath string
	Registry         *registry.Registry
	Declared         registry.LoadReport
	Logger           *slog.Logger

	Sources    *source.Manager
	Installer  *installer.Service
	Loader     *loader.Service
	Status     *status.Service
	Doctor     *doctor.Service
	SelfUpdate *selfupdate.Service
	Audit      *audit.Logger
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := NewLogger(out, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	root, err := config.ResolveStorageRoot(cfg)
	if err != nil {
		return nil, fmt.Errorf("APP_ROOT: %w", err)
	}
	if err := store.EnsureLayout(root); err != nil {
		return nil, fmt.Errorf("APP_ROOT: %w", err)
	}
	declPath := opts.DeclarationsPath
	if declPath == "" {
		declPath, err = config.ResolveDeclarationsFile(cfg)
		if err != nil {
			return nil, fmt.Errorf("APP_DECLARATIONS: %w", err)
		}
	}
	reg := registry.New()
	declared, err := reg.ReadFile(declPath)
	if err != nil {
		return nil, err
	}
	for _, lineErr := range declared.Errors {
		logger.Warn("declaration rejected", "file", declPath, "error", lineErr)
	}
	for _, d := range declared.Diagnostics {
		logger.Warn("declaration dropped", "file", declPath, "plugin", d.ID, "reason", d.String())
	}

	evaluator, err := cond.New()
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	sources := source.NewManager(httpClient, cfg)
	auditLog := audit.New(store.AuditPath(root))
	defaults := spec.Defaults{Root: root, Ref: cfg.Install.DefaultRef}
	pool := scheduler.New(cfg.Install.Jobs)
	vars := cond.HostVars()

	return &Service{
		ConfigPath:       configPath,
		Config:           cfg,
		Root:             root,
		DeclarationsPath: declPath,
		Registry:         reg,
		Declared:         declared,
		Logger:           logger,
		Sources:          sources,
		Installer: &installer.Service{
			Root:     root,
			Registry: reg,
			Defaults: defaults,
			Sources:  sources,
			Hooks:    hook.FromConfig(cfg),
			Cond:     evaluator,
			Vars:     vars,
			Pool:     pool,
			Shallow:  cfg.Install.Shallow,
			Audit:    auditLog,
		},
		Loader: &loader.Service{
			Root:     root,
			Registry: reg,
			Defaults: defaults,
			Cond:     evaluator,
			Vars:     vars,
			Pool:     pool,
			Globs:    cfg.Load.DefaultGlobs,
		},
		Status: &status.Service{
			Root:      root,
			Registry:  reg,
			Defaults:  defaults,
			Repo:      sources.Repo,
			Transport: sources.Transport,
			Pool:      pool,
		},
		Doctor: &doctor.Service{
			ConfigPath: configPath,
			Root:       root,
			Registry:   reg,
			Cond:       evaluator,
			PathEnv:    os.Getenv("PATH"),
		},
		SelfUpdate: selfupdate.New(sources.Releases, httpClient, cfg.Self.Repo),
		Audit:      auditLog,
	}, nil
}

// Context attaches the service logger to ctx.
func (s *Service) Context(ctx context.Context) context.Context {
	return slogcontext.NewCtx(ctx, s.Logger)
}

func (s *Service) requirePlugins() error {
	if s.Registry.Len() == 0 {
		return fmt.Errorf("APP_REGISTRY: %w in %s", ErrEmptyRegistry, s.DeclarationsPath)
	}
	return nil
}

func (s *Service) Install(ctx context.Context, ids []string, opts installer.Options) (installer.Report, error) {
	if err := s.requirePlugins(); err != nil {
		return installer.Report{}, err
	}
	return s.Installer.Install(s.Context(ctx), ids, opts)
}

func (s *Service) Update(ctx context.Context, ids []string, opts installer.Options) (installer.Report, error) {
	if err := s.requirePlugins(); err != nil {
		return installer.Report{}, err
	}
	return s.Installer.Update(s.Context(ctx), ids, opts)
}

func (s *Service) UpdateSelf(ctx context.Context) (selfupdate.Result, error) {
	return s.SelfUpdate.Update(s.Context(ctx), config.Version)
}

func (s *Service) Load(ctx context.Context, ids []string, env loader.Env) (loader.Plan, error) {
	return s.Loader.Load(s.Context(ctx), ids, env)
}

// Entry is one line of the plugin listing.
type Entry struct {
	ID        string     `json:"id"`
	Spec      string     `json:"spec,omitempty"`
	Kind      spec.Kind  `json:"kind"`
	Origin    string     `json:"from,omitempty"`
	Frozen    bool       `json:"frozen,omitempty"`
	Installed bool       `json:"installed"`
	Revision  string     `json:"revision,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// List describes the selected plugins in registry order together with the
// receipt of their last install or update.
func (s *Service) List(ids []string) ([]Entry, []string, error) {
	st, err := store.LoadState(s.Root)
	if err != nil {
		return nil, nil, err
	}
	known, unknown := s.Registry.Select(ids)
	entries := make([]Entry, 0, len(known))
	for _, id := range known {
		ps, _ := s.Registry.Spec(id, s.Installer.Defaults)
		raw, _ := s.Registry.Raw(id)
		e := Entry{
			ID:        id,
			Spec:      raw,
			Kind:      ps.As,
			Origin:    string(ps.From),
			Frozen:    ps.Frozen.Bool(),
			Installed: fsutil.Exists(ps.Dir),
		}
		if rec, ok := store.FindReceipt(st, id); ok {
			e.Revision = rec.Revision
			if rec.Release != "" {
				e.Revision = rec.Release
			}
			if !rec.UpdatedAt.IsZero() {
				at := rec.UpdatedAt
				e.UpdatedAt = &at
			}
		}
		entries = append(entries, e)
	}
	return entries, unknown, nil
}

type CheckResult struct {
	Missing   []string          `json:"missing"`
	Unknown   []string          `json:"unknown,omitempty"`
	Installed *installer.Report `json:"installed,omitempty"`
}

// Check reports plugins that are not installed. With install set the missing
// plugins are installed and checked again.
func (s *Service) Check(ctx context.Context, ids []string, install bool, opts installer.Options) (CheckResult, error) {
	if err := s.requirePlugins(); err != nil {
		return CheckResult{}, err
	}
	missing, unknown := s.Status.Check(ids)
	res := CheckResult{Missing: missing, Unknown: unknown}
	if !install || len(missing) == 0 {
		return res, nil
	}
	report, err := s.Installer.Install(s.Context(ctx), missing, opts)
	res.Installed = &report
	if err != nil {
		return res, err
	}
	res.Missing, _ = s.Status.Check(ids)
	return res, nil
}

func (s *Service) PluginStatus(ctx context.Context, ids []string) ([]status.Record, error) {
	if err := s.requirePlugins(); err != nil {
		return nil, err
	}
	return s.Status.Status(s.Context(ctx), ids)
}

type ValidateResult struct {
	Declared    int                   `json:"declared"`
	Removed     int                   `json:"removed"`
	Diagnostics []registry.Diagnostic `json:"diagnostics,omitempty"`
	Errors      []string              `json:"errors,omitempty"`
}

func (r ValidateResult) Failures() int {
	return r.Removed + len(r.Errors)
}

// Validate reports what reading the declaration file rejected or dropped,
// plus any ifCond expression that does not compile.
func (s *Service) Validate() ValidateResult {
	res := ValidateResult{
		Declared:    s.Declared.Declared,
		Removed:     s.Declared.Removed,
		Diagnostics: s.Declared.Diagnostics,
	}
	for _, err := range s.Declared.Errors {
		res.Errors = append(res.Errors, err.Error())
	}
	removed, diags := s.Registry.Validate()
	res.Removed += removed
	res.Diagnostics = append(res.Diagnostics, diags...)
	for _, id := range s.Registry.Keys() {
		ps, _ := s.Registry.Spec(id, s.Installer.Defaults)
		if ps.IfCond == "" {
			continue
		}
		if err := s.Installer.Cond.Check(ps.IfCond); err != nil {
			res.Errors = append(res.Errors, id+": "+err.Error())
		}
	}
	return res
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(s.Context(ctx))
}
