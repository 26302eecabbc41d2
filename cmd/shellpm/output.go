package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"shellpm/internal/app"
	"shellpm/internal/doctor"
	"shellpm/internal/installer"
	"shellpm/internal/status"
)

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}

func printReport(report installer.Report, jsonOutput, verbose bool) error {
	if jsonOutput {
		return print(true, report, "")
	}
	if verbose {
		for _, id := range report.Present {
			fmt.Printf("%s: already installed\n", id)
		}
	}
	for _, r := range report.Results {
		if !verbose && r.Code == installer.CodeOK && r.Outcome != installer.Installed && r.Outcome != installer.Updated {
			continue
		}
		line := fmt.Sprintf("%s %s (%s)", outcomeColor(r).Sprint(string(r.Outcome)), r.ID, r.Elapsed.Round(time.Millisecond))
		if r.Note != "" {
			line += " " + r.Note
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("%d job(s), %d failed, %d interrupted in %s\n",
		len(report.Results), report.Failed, report.Interrupted, report.Elapsed.Round(time.Millisecond))
	return nil
}

func outcomeColor(r installer.JobResult) text.Color {
	switch {
	case r.Outcome == installer.Interrupted:
		return text.FgYellow
	case r.Failed():
		return text.FgRed
	case r.Outcome == installer.Installed || r.Outcome == installer.Updated:
		return text.FgGreen
	}
	return text.FgHiBlack
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

func renderList(w io.Writer, entries []app.Entry) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Plugin", "Kind", "State", "Revision", "Spec"})
	for _, e := range entries {
		state := text.FgRed.Sprint("missing")
		if e.Installed {
			state = text.FgGreen.Sprint("installed")
		}
		if e.Frozen {
			state += " (frozen)"
		}
		t.AppendRow(table.Row{e.ID, kindLabel(e), state, shortRevision(e.Revision), e.Spec})
	}
	t.Render()
}

func kindLabel(e app.Entry) string {
	if e.Origin != "" {
		return string(e.Kind) + "/" + e.Origin
	}
	return string(e.Kind)
}

func shortRevision(rev string) string {
	if len(rev) == 40 && !strings.HasPrefix(rev, "v") {
		return rev[:7]
	}
	return rev
}

func renderStatus(w io.Writer, records []status.Record) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Plugin", "State", "Branch", "Tracking", "Detail"})
	for _, r := range records {
		tracking := ""
		if r.Remote != "" {
			tracking = r.Remote + "/" + r.Merge
		}
		detail := r.Detail
		switch {
		case r.State == status.Unmanaged:
			detail = "clone from " + r.URL
		case r.Ahead > 0 || r.Behind > 0:
			detail = fmt.Sprintf("ahead %d, behind %d", r.Ahead, r.Behind)
		}
		t.AppendRow(table.Row{r.ID, stateColor(r.State).Sprint(string(r.State)), r.Branch, tracking, detail})
	}
	t.Render()
}

func stateColor(s status.State) text.Color {
	switch s {
	case status.UpToDate:
		return text.FgGreen
	case status.LocalOutOfDate, status.FastForwardable:
		return text.FgYellow
	case status.NotOnAnyBranch, status.NotInitialized, status.StateNotDeclared:
		return text.FgRed
	}
	return text.FgHiBlack
}

func levelColor(level string) text.Color {
	if level == doctor.LevelError {
		return text.FgRed
	}
	return text.FgYellow
}
