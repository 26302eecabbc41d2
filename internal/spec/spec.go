// Package spec turns a plugin's raw specifier text into a PluginSpec.
package spec

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// Kind says how an installed plugin is activated.
type Kind string

const (
	KindSource  Kind = "source"
	KindCommand Kind = "command"
)

// Origin says where a plugin's files come from.
type Origin string

const (
	OriginGit            Origin = ""
	OriginGitHubReleases Origin = "github-releases"
)

// Flag is a boolean specifier value. It stays a string so that values outside
// {true,false} survive parsing and can be reported by the validator.
type Flag string

const (
	FlagTrue  Flag = "true"
	FlagFalse Flag = "false"
)

func (f Flag) Bool() bool { return f == FlagTrue }

// Specifier keys accepted in declarations.
const (
	KeyAs     = "as"
	KeyOf     = "of"
	KeyFrom   = "from"
	KeyIfCond = "ifCond"
	KeyFile   = "file"
	KeyAt     = "at"
	KeyDoHook = "doHook"
	KeyFrozen = "frozen"
	KeyOn     = "on"
	KeyCommit = "commit"
)

// Keys lists every specifier key a declaration may use, in documentation order.
var Keys = []string{KeyAs, KeyOf, KeyFrom, KeyIfCond, KeyFile, KeyAt, KeyDoHook, KeyFrozen, KeyOn, KeyCommit}

// ReservedKeys may never be set by a declaration.
var ReservedKeys = []string{"dir", "to"}

const DefaultRef = "master"

var ErrInvalidID = errors.New("invalid plugin id")

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)

// ValidID reports whether id has the owner/name form.
func ValidID(id string) bool {
	if !idPattern.MatchString(id) {
		return false
	}
	owner, name, _ := strings.Cut(id, "/")
	return owner != "." && owner != ".." && name != "." && name != ".."
}

// KnownKey reports whether key is a declarable specifier key.
func KnownKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ReservedKey reports whether key is reserved for derived fields.
func ReservedKey(key string) bool {
	for _, k := range ReservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Defaults carries the environment-dependent inputs of Parse.
type Defaults struct {
	Root string
	Ref  string
}

// PluginSpec is the derived, never persisted view of one declaration.
type PluginSpec struct {
	ID     string
	As     Kind
	Of     string
	From   Origin
	IfCond string
	Dir    string
	File   string
	At     string
	DoHook string
	Frozen Flag
	On     string
	Commit string
}

// Name is the last path element of the plugin id.
func (s PluginSpec) Name() string {
	_, name, _ := strings.Cut(s.ID, "/")
	return name
}

// Shallow reports whether fetches for this plugin should be depth limited.
func (s PluginSpec) Shallow(globalShallow bool) bool {
	return globalShallow && s.Commit == ""
}

// PluginDir returns the managed directory for id under root.
func PluginDir(root, id string) string {
	owner, name, _ := strings.Cut(id, "/")
	return filepath.Join(root, "repos", owner, name)
}
