package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"shellpm/internal/spec"
)

// LineError is a declaration failure tied to its position in a file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// LoadReport summarises reading a declaration file.
type LoadReport struct {
	Declared    int          `json:"declared"`
	Removed     int          `json:"removed"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Errors      []error      `json:"-"`
}

// Failures is the count surfaced as the declaration exit status.
func (r LoadReport) Failures() int {
	return r.Removed + len(r.Errors)
}

// DeclareLine applies one DSL line. A line is either a single declaration
// ("owner/name, key:value, ...") or a producer/consumer pair joined by '|'
// where the consumer receives on:<producer>. The validator runs after each
// declaration.
func (r *Registry) DeclareLine(line string) (LoadReport, error) {
	var rep LoadReport
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rep, nil
	}
	hops := splitPipe(line)
	if len(hops) > 2 {
		return rep, fmt.Errorf("DSL_PIPE: %w: more than one dependency hop in %q", ErrDeclaration, line)
	}
	var producer string
	for _, hop := range hops {
		id, specifiers, err := splitDeclaration(hop)
		if err != nil {
			return rep, err
		}
		if producer != "" {
			if hasKey(specifiers, spec.KeyOn) {
				return rep, fmt.Errorf("DSL_PIPE: %w: %s already declares on: and is piped from %s", ErrDeclaration, id, producer)
			}
			specifiers = append(specifiers, spec.KeyOn+":"+producer)
		}
		if err := r.Declare(id, specifiers...); err != nil {
			return rep, err
		}
		rep.Declared++
		removed, diags := r.Validate()
		rep.Removed += removed
		rep.Diagnostics = append(rep.Diagnostics, diags...)
		producer = id
	}
	return rep, nil
}

// Read applies every line of a declaration file. Bad lines are collected and
// reading continues.
func (r *Registry) Read(in io.Reader) (LoadReport, error) {
	var rep LoadReport
	scanner := bufio.NewScanner(in)
	n := 0
	for scanner.Scan() {
		n++
		one, err := r.DeclareLine(scanner.Text())
		rep.Declared += one.Declared
		rep.Removed += one.Removed
		rep.Diagnostics = append(rep.Diagnostics, one.Diagnostics...)
		if err != nil {
			rep.Errors = append(rep.Errors, &LineError{Line: n, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		return rep, fmt.Errorf("DSL_READ: %w", err)
	}
	return rep, nil
}

// ReadFile applies the declaration file at path. A missing file leaves the
// registry empty.
func (r *Registry) ReadFile(path string) (LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return LoadReport{}, nil
		}
		return LoadReport{}, fmt.Errorf("DSL_READ: %w", err)
	}
	defer f.Close()
	return r.Read(f)
}

func splitDeclaration(text string) (string, []string, error) {
	text = strings.TrimSpace(text)
	id, rest, _ := strings.Cut(text, ",")
	id = strings.Trim(strings.TrimSpace(id), `"'`)
	if id == "" {
		return "", nil, fmt.Errorf("DSL_DECLARE: %w: missing plugin id", ErrDeclaration)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return id, nil, nil
	}
	return id, []string{rest}, nil
}

// splitPipe splits on '|' outside of quotes, honouring backslash escapes
// inside double quotes the same way spec.SplitSpecifiers does.
func splitPipe(line string) []string {
	var (
		parts  []string
		quote  rune
		escape bool
		start  int
	)
	for i, c := range line {
		switch {
		case escape:
			escape = false
		case quote == '"' && c == '\\':
			escape = true
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '|':
			parts = append(parts, line[start:i])
			start = i + 1
		}
	}
	return append(parts, line[start:])
}

func hasKey(specifiers []string, key string) bool {
	for _, raw := range specifiers {
		items, _ := spec.SplitSpecifiers(raw)
		for _, s := range items {
			if s.Key == key {
				return true
			}
		}
	}
	return false
}
