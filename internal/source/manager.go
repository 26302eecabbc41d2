package source

import (
	"net/http"

	"shellpm/internal/config"
)

// Manager bundles the backends a plugin can be fetched from.
type Manager struct {
	Repo      Repository
	Releases  Releases
	Transport Transport
}

func NewManager(httpClient *http.Client, cfg config.Config) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		Repo:      NewGitRepository(),
		Releases:  ReleasesFromConfig(httpClient, cfg),
		Transport: TransportFromConfig(cfg),
	}
}
