package source

import (
	"fmt"

	"shellpm/internal/config"
)

// Transport builds clone URLs from plugin ids.
type Transport struct {
	Protocol string
	Host     string
	Mirror   string
}

func TransportFromConfig(cfg config.Config) Transport {
	return Transport{Protocol: cfg.Install.Protocol, Host: cfg.Git.Host, Mirror: cfg.Git.Mirror}
}

// CloneURL returns the URL for id. HTTPS URLs carry an empty "git" user so
// that a typo or a private repository fails instead of prompting for
// credentials.
func (t Transport) CloneURL(id string) string {
	if t.Mirror != "" {
		return t.Mirror + "/" + id
	}
	host := t.Host
	if host == "" {
		host = "github.com"
	}
	if t.Protocol == config.ProtocolSSH {
		return fmt.Sprintf("git@%s:%s.git", host, id)
	}
	return fmt.Sprintf("https://git::@%s/%s.git", host, id)
}
