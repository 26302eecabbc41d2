package installer

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("target not found")

type Outcome string

const (
	Installed        Outcome = "Installed"
	Updated          Outcome = "Updated"
	NotInstalled     Outcome = "NotInstalled"
	NotUpdated       Outcome = "NotUpdated"
	NotFound         Outcome = "NotFound"
	SkippedFrozen    Outcome = "SkippedFrozen"
	SkippedCondition Outcome = "SkippedCondition"
	Interrupted      Outcome = "Interrupted"
)

// Job result codes.
const (
	CodeOK       = 0
	CodeFailed   = 1
	CodeNotFound = 2
)

// maxExitCode keeps the failure count clear of the shell's signal range.
const maxExitCode = 125

type JobResult struct {
	ID      string        `json:"id"`
	Outcome Outcome       `json:"outcome"`
	Code    int           `json:"code"`
	Elapsed time.Duration `json:"elapsed"`
	Note    string        `json:"note,omitempty"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

func (r JobResult) Failed() bool {
	return r.Outcome != Interrupted && r.Code != CodeOK
}

type Report struct {
	Results []JobResult `json:"results"`
	// Present lists install targets skipped because their directory exists.
	Present     []string      `json:"present,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Failed      int           `json:"failed"`
	Interrupted int           `json:"interrupted"`
}

func (r Report) ExitCode() int {
	if r.Failed > maxExitCode {
		return maxExitCode
	}
	return r.Failed
}

func (r *Report) tally() {
	r.Failed, r.Interrupted = 0, 0
	for i := range r.Results {
		res := &r.Results[i]
		if res.Err != nil && res.Error == "" {
			res.Error = res.Err.Error()
		}
		switch {
		case res.Outcome == Interrupted:
			r.Interrupted++
		case res.Failed():
			r.Failed++
		}
	}
}
