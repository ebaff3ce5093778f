// ABOUTME: Named server profile loading for gate-tui
// ABOUTME: Loads TOML profiles from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Profiles maps short names to server endpoints so one machine can talk to
// several gateways without editing the main config.
type Profiles struct {
	Default string             `toml:"default"`
	Servers map[string]Profile `toml:"servers"`
}

type Profile struct {
	BaseURL string `toml:"base_url"`
}

// defaultProfilesPath returns the profiles file location.
// Priority: GATE_PROFILES env var > XDG_CONFIG_HOME/cocogate/profiles.toml > ~/.config/cocogate/profiles.toml
func defaultProfilesPath() string {
	if path := os.Getenv("GATE_PROFILES"); path != "" {
		return path
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "profiles.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "cocogate", "profiles.toml")
}

// loadProfiles reads the profiles file, expanding environment variables.
// A missing file is not an error; it yields an empty profile set.
func loadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Profiles{Servers: map[string]Profile{}}, nil
		}
		return nil, fmt.Errorf("reading profiles file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var p Profiles
	if _, err := toml.Decode(expanded, &p); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	if p.Servers == nil {
		p.Servers = map[string]Profile{}
	}

	for name, srv := range p.Servers {
		if srv.BaseURL == "" {
			return nil, fmt.Errorf("profile %q: base_url is required", name)
		}
		u, err := url.Parse(srv.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("profile %q: base_url is not a valid URL: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("profile %q: base_url must use http or https scheme", name)
		}
	}

	return &p, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Resolve returns the base URL for the named profile. An empty name falls
// back to the file's default profile, then to the empty string, which tells
// the caller to use the main config's server.
func (p *Profiles) Resolve(name string) (string, error) {
	if name == "" {
		name = p.Default
	}
	if name == "" {
		return "", nil
	}
	srv, ok := p.Servers[name]
	if !ok {
		return "", fmt.Errorf("unknown profile %q (known: %s)", name, strings.Join(p.Names(), ", "))
	}
	return srv.BaseURL, nil
}

// Names returns the defined profile names, sorted.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Servers))
	for name := range p.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
