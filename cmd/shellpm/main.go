package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"shellpm/internal/app"
	"shellpm/internal/installer"
	"shellpm/internal/loader"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()
	if err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		var ex ExitCoder
		if errors.As(err, &ex) {
			os.Exit(ex.ExitCode())
		}
		if interrupted {
			os.Exit(exitInterrupted)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool
	var logLevel string
	var logFormat string

	newSvc := func() (*app.Service, error) {
		return app.New(app.Options{
			ConfigPath: configPath,
			LogLevel:   logLevel,
			LogFormat:  logFormat,
		})
	}

	cmd := &cobra.Command{
		Use:           "shellpm",
		Short:         "Parallel plugin manager for interactive shells",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if jsonOutput || !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != "" {
				text.DisableColors()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text|json")

	cmd.AddCommand(newVersionCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newInstallCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newUpdateCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newLoadCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newListCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newCheckCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newStatusCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newValidateCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))

	return cmd
}

func newInstallCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:     "install [ids...]",
		Aliases: []string{"i", "add"},
		Short:   "Install declared plugins that are not on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report, err := svc.Install(cmd.Context(), args, installer.Options{Verbose: verbose})
			return finishReport(cmd, report, err, *jsonOutput, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also report plugins that are already installed")
	return cmd
}

func newUpdateCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var self bool
	var yes bool
	cmd := &cobra.Command{
		Use:     "update [--self | ids...]",
		Aliases: []string{"up", "upgrade"},
		Short:   "Fetch and fast-forward installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if self && len(args) > 0 {
				return fmt.Errorf("--self does not take plugin ids")
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			if self {
				res, err := svc.UpdateSelf(cmd.Context())
				if err != nil {
					return err
				}
				msg := fmt.Sprintf("shellpm %s is the latest release", res.Current)
				if res.Updated {
					msg = fmt.Sprintf("updated shellpm %s -> %s (%s)", res.Current, res.Latest, res.Executable)
				}
				return print(*jsonOutput, res, msg)
			}
			opts := installer.Options{}
			if !yes {
				opts.Confirm = confirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
			}
			report, err := svc.Update(cmd.Context(), args, opts)
			return finishReport(cmd, report, err, *jsonOutput, true)
		},
	}
	cmd.Flags().BoolVar(&self, "self", false, "update the shellpm binary from its latest release")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "update named frozen plugins without asking")
	return cmd
}

// confirmer asks on out and reads the answer from in.
func confirmer(in io.Reader, out io.Writer) func(string) bool {
	reader := bufio.NewReader(in)
	return func(id string) bool {
		fmt.Fprintf(out, "%s is frozen, update anyway? [y/N] ", id)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

// finishReport prints an install/update report and turns it into the
// command's exit status.
func finishReport(cmd *cobra.Command, report installer.Report, err error, jsonOutput, verbose bool) error {
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !cancelled {
		return err
	}
	if err := printReport(report, jsonOutput, verbose); err != nil {
		return err
	}
	if cancelled || cmd.Context().Err() != nil {
		return &exitError{code: exitInterrupted, msg: "interrupted"}
	}
	if code := report.ExitCode(); code > 0 {
		return &exitError{code: code, msg: fmt.Sprintf("%d plugin(s) failed", report.Failed)}
	}
	return nil
}

func newLoadCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [ids...]",
		Short: "Print shell code that activates installed plugins",
		Long:  "Print shell code that activates installed plugins. Add eval \"$(shellpm load)\" to your shell rc.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			plan, err := svc.Load(cmd.Context(), args, loader.Env{Path: os.Getenv("PATH")})
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, plan, "")
			}
			fmt.Print(plan.Script())
			return nil
		},
	}
	return cmd
}

func newListCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [ids...]",
		Aliases: []string{"ls"},
		Short:   "List declared plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			entries, unknown, err := svc.List(args)
			if err != nil {
				return err
			}
			if *jsonOutput {
				if err := print(true, map[string]any{"plugins": entries, "unknown": unknown}, ""); err != nil {
					return err
				}
			} else if len(entries) == 0 && len(unknown) == 0 {
				fmt.Println("no plugins declared")
			} else {
				renderList(os.Stdout, entries)
			}
			if len(unknown) > 0 {
				return &exitError{code: 1, msg: "not declared: " + strings.Join(unknown, ", ")}
			}
			return nil
		},
	}
	return cmd
}

func newCheckCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	var verbose bool
	var install bool
	cmd := &cobra.Command{
		Use:   "check [ids...]",
		Short: "Report declared plugins that are not installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res, err := svc.Check(cmd.Context(), args, install, installer.Options{Verbose: verbose})
			if res.Installed != nil && !*jsonOutput {
				if perr := printReport(*res.Installed, false, verbose); perr != nil {
					return perr
				}
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return &exitError{code: exitInterrupted, msg: "interrupted"}
				}
				return err
			}
			if *jsonOutput {
				if err := print(true, res, ""); err != nil {
					return err
				}
			} else {
				if verbose {
					for _, id := range res.Missing {
						fmt.Printf("%s: not installed\n", id)
					}
				}
				for _, id := range res.Unknown {
					fmt.Printf("%s: not declared\n", id)
				}
				if len(res.Missing) == 0 && len(res.Unknown) == 0 {
					fmt.Println("all plugins installed")
				}
			}
			if res.Installed != nil && res.Installed.ExitCode() > 0 {
				return &exitError{code: res.Installed.ExitCode(), msg: fmt.Sprintf("%d plugin(s) failed", res.Installed.Failed)}
			}
			if len(res.Missing) > 0 || len(res.Unknown) > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d plugin(s) not installed", len(res.Missing)+len(res.Unknown))}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "name every missing plugin")
	cmd.Flags().BoolVar(&install, "install", false, "install missing plugins")
	return cmd
}

func newStatusCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status [ids...]",
		Aliases: []string{"st"},
		Short:   "Compare installed plugins with their remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			records, err := svc.PluginStatus(cmd.Context(), args)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if *jsonOutput {
				if perr := print(true, records, ""); perr != nil {
					return perr
				}
			} else {
				renderStatus(os.Stdout, records)
			}
			if err != nil {
				return &exitError{code: exitInterrupted, msg: "interrupted"}
			}
			return nil
		},
	}
	return cmd
}

func newValidateCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validate",
		Aliases: []string{"lint"},
		Short:   "Validate the declaration file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			res := svc.Validate()
			if *jsonOutput {
				if err := print(true, res, ""); err != nil {
					return err
				}
			} else {
				for _, e := range res.Errors {
					fmt.Printf("- %s\n", e)
				}
				for _, d := range res.Diagnostics {
					fmt.Printf("- %s\n", d.String())
				}
			}
			if n := res.Failures(); n > 0 {
				return &exitError{code: 1, msg: fmt.Sprintf("%d invalid declaration(s) in %s", n, svc.DeclarationsPath)}
			}
			if !*jsonOutput {
				fmt.Printf("validation passed (%d declared)\n", svc.Registry.Len())
			}
			return nil
		},
	}
	return cmd
}

func newDoctorCmd(newSvc func() (*app.Service, error), jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			report := svc.DoctorRun(cmd.Context())
			if *jsonOutput {
				if err := print(true, report, ""); err != nil {
					return err
				}
			} else if len(report.Findings) == 0 {
				fmt.Println("healthy")
			} else {
				for _, f := range report.Findings {
					fmt.Printf("- [%s] %s: %s\n", levelColor(f.Level).Sprint(f.Level), f.Code, f.Message)
				}
			}
			if !report.Healthy {
				return &exitError{code: 1, msg: "issues found"}
			}
			return nil
		},
	}
	return cmd
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
