package source

import (
	"context"
	"errors"
)

// ErrNotFound reports a remote object (repository, release, asset) that does
// not exist.
var ErrNotFound = errors.New("not found")

type CloneOptions struct {
	URL   string
	Dir   string
	Ref   string
	Depth int
}

type FetchOptions struct {
	Ref   string
	Depth int
	// FastForward moves the checked out branch to the fetched tip.
	FastForward bool
}

// RemoteInfo is what the drift comparator needs to know about a clone.
type RemoteInfo struct {
	Branch      string
	Detached    bool
	Remote      string
	MergeBranch string
	URL         string
	// Relation is the push/pull relation git reports for the branch
	// ("up to date", "fast-forwardable", "local out of date"), or "".
	Relation string
	// RemoteHead is the commit the remote advertises as HEAD, or "".
	RemoteHead      string
	RemoteHeadKnown bool
}

// TrackingRef is the local ref that mirrors the remote merge branch.
func (i RemoteInfo) TrackingRef() string {
	if i.Remote == "" || i.MergeBranch == "" {
		return ""
	}
	return "refs/remotes/" + i.Remote + "/" + i.MergeBranch
}

// Repository is the narrow set of VCS operations the installer and the drift
// comparator rely on.
type Repository interface {
	Clone(ctx context.Context, opts CloneOptions) error
	Fetch(ctx context.Context, dir string, opts FetchOptions) error
	Checkout(ctx context.Context, dir, rev string) error
	RevParse(ctx context.Context, dir, rev string) (string, error)
	RemoteInfo(ctx context.Context, dir string) (RemoteInfo, error)
	AheadBehind(ctx context.Context, dir, local, upstream string) (ahead, behind int, err error)
}

type Release struct {
	Tag    string  `json:"tag_name"`
	Assets []Asset `json:"assets"`
}

type Asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
	Size int64  `json:"size"`
}

// Releases fetches prebuilt artifacts published as repository releases.
type Releases interface {
	// Release returns the release tagged tag, or the latest one when tag is "".
	Release(ctx context.Context, id, tag string) (Release, error)
	// Download stores asset into dir, unpacking archives. A bare binary is
	// written as dir/binName.
	Download(ctx context.Context, asset Asset, dir, binName string) error
}
