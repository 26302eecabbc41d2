package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"shellpm/internal/audit"
	"shellpm/internal/cond"
	"shellpm/internal/fsutil"
	"shellpm/internal/hook"
	"shellpm/internal/registry"
	"shellpm/internal/scheduler"
	"shellpm/internal/source"
	"shellpm/internal/spec"
	"shellpm/internal/store"
)

type Options struct {
	Verbose bool
	// Confirm is asked before an explicitly named frozen plugin is updated.
	// A nil Confirm allows it.
	Confirm func(id string) bool
}

type Service struct {
	Root     string
	Registry *registry.Registry
	Defaults spec.Defaults
	Sources  *source.Manager
	Hooks    *hook.Service
	Cond     *cond.Evaluator
	Vars     cond.Vars
	Pool     scheduler.Pool
	Shallow  bool
	Audit    *audit.Logger

	// OS and Arch select release assets; empty means the running platform.
	OS   string
	Arch string
}

type mode int

const (
	modeInstall mode = iota
	modeUpdate
)

func (m mode) String() string {
	if m == modeUpdate {
		return "update"
	}
	return "install"
}

func (m mode) success() Outcome {
	if m == modeUpdate {
		return Updated
	}
	return Installed
}

func (m mode) failure() Outcome {
	if m == modeUpdate {
		return NotUpdated
	}
	return NotInstalled
}

// Install clones or downloads every selected plugin whose directory does not
// exist yet. With no ids every declared plugin is selected.
func (s *Service) Install(ctx context.Context, ids []string, opts Options) (Report, error) {
	known, unknown := s.Registry.Select(ids)
	var report Report
	var jobs []spec.PluginSpec
	for _, id := range known {
		ps, _ := s.Registry.Spec(id, s.Defaults)
		if fsutil.Exists(ps.Dir) {
			report.Present = append(report.Present, id)
			continue
		}
		jobs = append(jobs, ps)
	}
	return s.run(ctx, modeInstall, jobs, unknown, report, opts)
}

// Update fetches every selected plugin. Frozen plugins are skipped unless
// named explicitly.
func (s *Service) Update(ctx context.Context, ids []string, opts Options) (Report, error) {
	known, unknown := s.Registry.Select(ids)
	explicit := len(ids) > 0
	var report Report
	var jobs []spec.PluginSpec
	for _, id := range known {
		ps, _ := s.Registry.Spec(id, s.Defaults)
		if ps.Frozen.Bool() {
			if !explicit {
				report.Results = append(report.Results, JobResult{ID: id, Outcome: SkippedFrozen, Note: "frozen"})
				continue
			}
			if opts.Confirm != nil && !opts.Confirm(id) {
				report.Results = append(report.Results, JobResult{ID: id, Outcome: SkippedFrozen, Note: "frozen, update declined"})
				continue
			}
		}
		jobs = append(jobs, ps)
	}
	return s.run(ctx, modeUpdate, jobs, unknown, report, opts)
}

func (s *Service) run(ctx context.Context, m mode, jobs []spec.PluginSpec, unknown []string, report Report, opts Options) (Report, error) {
	logger := slogcontext.FromCtx(ctx).With("operation", m.String())
	start := time.Now()
	if err := store.EnsureLayout(s.Root); err != nil {
		return Report{}, fmt.Errorf("INS_LAYOUT: %w", err)
	}
	s.audit(audit.Event{Operation: m.String(), Phase: "start", Status: "ok", Message: fmt.Sprintf("jobs=%d", len(jobs))})

	for _, id := range unknown {
		report.Results = append(report.Results, JobResult{
			ID: id, Outcome: NotFound, Code: CodeNotFound,
			Err: fmt.Errorf("INS_UNDECLARED: %s: %w", id, ErrNotFound),
		})
	}

	results := make([]JobResult, len(jobs))
	receipts := make([]*store.Receipt, len(jobs))
	started := make([]bool, len(jobs))
	poolErr := s.Pool.Run(ctx, len(jobs), func(ctx context.Context, i int) {
		started[i] = true
		ps := jobs[i]
		jobLogger := logger.With("plugin", ps.ID)
		jobStart := time.Now()
		res, rec := s.job(slogcontext.NewCtx(ctx, jobLogger), m, ps)
		res.ID = ps.ID
		res.Elapsed = time.Since(jobStart)
		if res.Err != nil && ctx.Err() != nil && res.Outcome == m.failure() {
			res.Outcome = Interrupted
			res.Note = "interrupted"
		}
		results[i] = res
		receipts[i] = rec
		s.logJob(jobLogger, m, res, opts.Verbose)
	})
	for i := range jobs {
		if !started[i] {
			results[i] = JobResult{ID: jobs[i].ID, Outcome: Interrupted, Note: "not started"}
		}
	}
	report.Results = append(report.Results, results...)
	report.Elapsed = time.Since(start)
	report.tally()

	if err := s.saveReceipts(receipts); err != nil {
		return report, err
	}
	s.audit(audit.Event{Operation: m.String(), Phase: "commit", Status: "ok",
		Message: fmt.Sprintf("failed=%d interrupted=%d", report.Failed, report.Interrupted)})
	if poolErr != nil {
		return report, poolErr
	}
	return report, nil
}

func (s *Service) job(ctx context.Context, m mode, ps spec.PluginSpec) (JobResult, *store.Receipt) {
	if m == modeUpdate && !fsutil.Exists(ps.Dir) {
		return JobResult{Outcome: NotFound, Code: CodeNotFound,
			Err: fmt.Errorf("INS_NOT_INSTALLED: %s: %w", ps.ID, ErrNotFound)}, nil
	}
	if s.Cond != nil {
		ok, err := s.Cond.Eval(ctx, ps.IfCond, s.Vars)
		if err != nil {
			return JobResult{Outcome: m.failure(), Code: CodeFailed, Err: err}, nil
		}
		if !ok {
			return JobResult{Outcome: SkippedCondition, Note: "ifCond is false"}, nil
		}
	}

	var (
		rec     *store.Receipt
		changed bool
		note    string
		err     error
	)
	if ps.From == spec.OriginGitHubReleases {
		rec, changed, note, err = s.fetchRelease(ctx, m, ps)
	} else {
		rec, changed, note, err = s.fetchRepo(ctx, m, ps)
	}
	if err != nil {
		if errors.Is(err, source.ErrNotFound) && ctx.Err() == nil {
			return JobResult{Outcome: NotFound, Code: CodeNotFound, Err: err}, nil
		}
		return JobResult{Outcome: m.failure(), Code: CodeFailed, Err: err}, nil
	}
	rec.Outcome = string(m.success())
	res := JobResult{Outcome: m.success(), Note: note}

	if changed && ps.DoHook != "" && s.Hooks != nil {
		if err := s.Hooks.Run(ctx, ps.ID, ps.Dir, ps.DoHook); err != nil {
			res.Code = CodeFailed
			res.Err = err
			s.audit(audit.Event{Operation: m.String(), Plugin: ps.ID, Phase: "hook", Status: "failed", Code: hookCode(err), Message: err.Error()})
		}
	}
	return res, rec
}

func (s *Service) fetchRepo(ctx context.Context, m mode, ps spec.PluginSpec) (*store.Receipt, bool, string, error) {
	repo := s.Sources.Repo
	depth := 0
	if ps.Shallow(s.Shallow) {
		depth = 1
	}

	if m == modeUpdate {
		before, _ := repo.RevParse(ctx, ps.Dir, "HEAD")
		if err := repo.Fetch(ctx, ps.Dir, source.FetchOptions{Ref: ps.At, Depth: depth, FastForward: ps.Commit == ""}); err != nil {
			return nil, false, "", fmt.Errorf("INS_FETCH: %s: %w", ps.ID, err)
		}
		if ps.Commit != "" {
			if err := repo.Checkout(ctx, ps.Dir, ps.Commit); err != nil {
				return nil, false, "", fmt.Errorf("INS_CHECKOUT: %s: %w", ps.ID, err)
			}
		}
		after, err := repo.RevParse(ctx, ps.Dir, "HEAD")
		if err != nil {
			return nil, false, "", fmt.Errorf("INS_REVISION: %s: %w", ps.ID, err)
		}
		rec := &store.Receipt{ID: ps.ID, Revision: after}
		if before == after {
			return rec, false, "up to date", nil
		}
		return rec, true, shortRev(before) + ".." + shortRev(after), nil
	}

	stage, cleanup, err := s.stage(ps.ID)
	if err != nil {
		return nil, false, "", err
	}
	defer cleanup()
	url := s.Sources.Transport.CloneURL(ps.ID)
	slogcontext.FromCtx(ctx).Debug("cloning", "url", url, "ref", ps.At, "depth", depth)
	if err := repo.Clone(ctx, source.CloneOptions{URL: url, Dir: stage, Ref: ps.At, Depth: depth}); err != nil {
		return nil, false, "", fmt.Errorf("INS_CLONE: %s: %w", ps.ID, err)
	}
	if ps.Commit != "" {
		if err := repo.Checkout(ctx, stage, ps.Commit); err != nil {
			return nil, false, "", fmt.Errorf("INS_CHECKOUT: %s: %w", ps.ID, err)
		}
	}
	rev, err := repo.RevParse(ctx, stage, "HEAD")
	if err != nil {
		return nil, false, "", fmt.Errorf("INS_REVISION: %s: %w", ps.ID, err)
	}
	if err := commitDir(stage, ps.Dir); err != nil {
		return nil, false, "", fmt.Errorf("INS_COMMIT: %s: %w", ps.ID, err)
	}
	return &store.Receipt{ID: ps.ID, Revision: rev}, true, "", nil
}

func (s *Service) fetchRelease(ctx context.Context, m mode, ps spec.PluginSpec) (*store.Receipt, bool, string, error) {
	tag := ps.At
	if tag == s.Defaults.Ref || tag == spec.DefaultRef {
		tag = ""
	}
	rel, err := s.Sources.Releases.Release(ctx, ps.ID, tag)
	if err != nil {
		return nil, false, "", fmt.Errorf("INS_RELEASE: %w", err)
	}
	rec := &store.Receipt{ID: ps.ID, Release: rel.Tag}
	if m == modeUpdate {
		if prev, ok := s.receipt(ps.ID); ok && prev.Release == rel.Tag {
			return rec, false, "up to date", nil
		}
	}
	asset, err := source.SelectAsset(rel.Assets, s.goos(), s.goarch())
	if err != nil {
		return nil, false, "", fmt.Errorf("INS_RELEASE: %s %s: %w", ps.ID, rel.Tag, err)
	}
	stage, cleanup, err := s.stage(ps.ID)
	if err != nil {
		return nil, false, "", err
	}
	defer cleanup()
	slogcontext.FromCtx(ctx).Debug("downloading", "asset", asset.Name, "tag", rel.Tag)
	if err := s.Sources.Releases.Download(ctx, asset, stage, ps.Name()); err != nil {
		return nil, false, "", fmt.Errorf("INS_DOWNLOAD: %w", err)
	}
	if err := commitDir(stage, ps.Dir); err != nil {
		return nil, false, "", fmt.Errorf("INS_COMMIT: %s: %w", ps.ID, err)
	}
	return rec, true, rel.Tag, nil
}

// stage returns a fresh, not yet existing path under the staging root.
func (s *Service) stage(id string) (string, func(), error) {
	tmp, err := os.MkdirTemp(store.StagingRoot(s.Root), safeEntryName(id)+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("INS_STAGE_CREATE: %w", err)
	}
	return filepath.Join(tmp, "tree"), func() { _ = os.RemoveAll(tmp) }, nil
}

// commitDir moves staged into final. An existing final is kept aside until
// the rename succeeds and restored otherwise.
func commitDir(staged, final string) error {
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return err
	}
	var backup string
	if fsutil.Exists(final) {
		backup = final + ".bak-" + fmt.Sprintf("%d", time.Now().UnixNano())
		if err := os.Rename(final, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(staged, final); err != nil {
		if backup != "" {
			_ = os.Rename(backup, final)
		}
		return err
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

func (s *Service) receipt(id string) (store.Receipt, bool) {
	st, err := store.LoadState(s.Root)
	if err != nil {
		return store.Receipt{}, false
	}
	return store.FindReceipt(st, id)
}

func (s *Service) saveReceipts(receipts []*store.Receipt) error {
	var dirty bool
	st, err := store.LoadState(s.Root)
	if err != nil {
		return fmt.Errorf("INS_STATE_LOAD: %w", err)
	}
	now := time.Now().UTC()
	for _, rec := range receipts {
		if rec == nil {
			continue
		}
		rec.UpdatedAt = now
		store.UpsertReceipt(&st, *rec)
		dirty = true
	}
	if !dirty {
		return nil
	}
	if err := store.SaveState(s.Root, st); err != nil {
		return fmt.Errorf("INS_STATE_SAVE: %w", err)
	}
	return nil
}

func (s *Service) logJob(logger *slog.Logger, m mode, res JobResult, verbose bool) {
	args := []any{"outcome", res.Outcome, "code", res.Code, "elapsed", res.Elapsed.Round(time.Millisecond)}
	if res.Note != "" {
		args = append(args, "note", res.Note)
	}
	status := "ok"
	switch {
	case res.Err != nil:
		status = "failed"
		logger.Warn("job failed", append(args, "error", res.Err)...)
	case verbose:
		logger.Info("job done", args...)
	default:
		logger.Debug("job done", args...)
	}
	ev := audit.Event{Operation: m.String(), Plugin: res.ID, Phase: "job", Status: status, Message: string(res.Outcome),
		Fields: map[string]string{"elapsed": res.Elapsed.String()}}
	if res.Err != nil {
		ev.Code = errorCode(res.Err)
		ev.Message = res.Err.Error()
	}
	s.audit(ev)
}

func (s *Service) audit(ev audit.Event) {
	if s.Audit != nil {
		_ = s.Audit.Log(ev)
	}
}

func (s *Service) goos() string {
	if s.OS != "" {
		return s.OS
	}
	return runtime.GOOS
}

func (s *Service) goarch() string {
	if s.Arch != "" {
		return s.Arch
	}
	return runtime.GOARCH
}

// errorCode returns the leading upper-case code of an error message.
func errorCode(err error) string {
	code, _, ok := strings.Cut(err.Error(), ":")
	if !ok || code == "" || strings.ToUpper(code) != code || strings.ContainsAny(code, " /") {
		return ""
	}
	return code
}

func hookCode(err error) string {
	if errors.Is(err, hook.ErrDenied) {
		return "HOOK_DENIED"
	}
	return errorCode(err)
}

func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	if rev == "" {
		return "?"
	}
	return rev
}

func safeEntryName(v string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "@", "_", " ", "-")
	out := r.Replace(v)
	if out == "" {
		return "unknown"
	}
	return out
}
