package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const defaultBaseDir = ".askbot"

// Paths locates askbot's files. Everything lives under Base, which is
// $ASKBOT_HOME or ~/.askbot.
type Paths struct {
	Base   string
	Config string // config.yaml
	Env    string // .env
	Data   string // audit database
	Logs   string // rotated log files
}

// ResolvePaths derives Paths from $ASKBOT_HOME, falling back to the home directory.
func ResolvePaths() (Paths, error) {
	base, ok := os.LookupEnv("ASKBOT_HOME")
	if !ok || base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("locating home directory: %w", err)
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	under := func(name string) string { return filepath.Join(base, name) }
	return Paths{
		Base:   base,
		Config: under("config.yaml"),
		Env:    under(".env"),
		Data:   under("data"),
		Logs:   under("logs"),
	}, nil
}

// EnsureDirs creates Base, Data and Logs with owner-only permissions.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// KeyPath addresses a value in the raw config tree, e.g. "gateway.rateLimit.rps".
type KeyPath []string

// ParseKeyPath splits a dotted key. Empty keys and empty segments are rejected.
func ParseKeyPath(raw string) (KeyPath, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config key"}
	}
	kp := KeyPath(strings.Split(raw, "."))
	if slices.Contains(kp, "") {
		return nil, &ConfigError{Message: fmt.Sprintf("config key %q has an empty segment", raw)}
	}
	return kp, nil
}

func (kp KeyPath) String() string { return strings.Join(kp, ".") }

// parent walks to the map holding the last segment. With create set, missing
// or non-map intermediates are replaced by empty maps.
func (kp KeyPath) parent(root map[string]any, create bool) map[string]any {
	node := root
	for _, seg := range kp[:len(kp)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	return node
}

func (kp KeyPath) leaf() string { return kp[len(kp)-1] }

// Get returns the value at kp.
func (kp KeyPath) Get(root map[string]any) (any, bool) {
	node := kp.parent(root, false)
	if node == nil {
		return nil, false
	}
	v, ok := node[kp.leaf()]
	return v, ok
}

// Set stores v at kp, creating intermediate maps.
func (kp KeyPath) Set(root map[string]any, v any) {
	kp.parent(root, true)[kp.leaf()] = v
}

// Unset removes the value at kp and reports whether it was present.
func (kp KeyPath) Unset(root map[string]any) bool {
	node := kp.parent(root, false)
	if node == nil {
		return false
	}
	if _, ok := node[kp.leaf()]; !ok {
		return false
	}
	delete(node, kp.leaf())
	return true
}
