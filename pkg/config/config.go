// Package config loads MCP server definitions from YAML or JSON files.
//
// A file holds a single "servers" map keyed by server id:
//
//	servers:
//	  github:
//	    command: github-mcp
//	    env: {GITHUB_TOKEN: "..."}
//	  search:
//	    type: websocket
//	    url: ws://localhost:9000/mcp
//
// Servers are enabled unless they set enabled: false.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/jg-phare/mcpconn/pkg/types"
)

// DefaultPattern selects config files in LoadDir.
const DefaultPattern = "**/*.{yaml,yml,json}"

const lockTimeout = 5 * time.Second

// ErrLockTimeout is returned when the file lock could not be acquired in time.
var ErrLockTimeout = errors.New("config: lock timeout")

// File is the on-disk layout.
type File struct {
	Servers map[string]types.ServerConfig `json:"servers" yaml:"servers"`
}

// Load reads one config file. Each server gets its map key as id, defaults
// applied and is validated. The read happens under a shared lock on
// <path>.lock so a concurrent Save is never seen half-written.
func Load(path string) (map[string]types.ServerConfig, error) {
	var data []byte
	err := withLock(path, false, func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return parse(path, data)
}

// LoadDir loads every file under dir matching pattern (doublestar syntax,
// DefaultPattern if empty) and merges them. An id defined in two files is
// an error.
func LoadDir(dir, pattern string) (map[string]types.ServerConfig, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("config: glob %s: %w", pattern, err)
	}
	sort.Strings(matches)

	merged := make(map[string]types.ServerConfig)
	from := make(map[string]string)
	for _, rel := range matches {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		servers, err := Load(path)
		if err != nil {
			return nil, err
		}
		for id, cfg := range servers {
			if prev, ok := from[id]; ok {
				return nil, fmt.Errorf("config: server %q defined in both %s and %s", id, prev, path)
			}
			from[id] = path
			merged[id] = cfg
		}
	}
	return merged, nil
}

// Save writes servers to path as YAML (JSON for a .json path) under an
// exclusive lock. The file is replaced atomically.
func Save(path string, servers map[string]types.ServerConfig) error {
	f := File{Servers: servers}
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	return withLock(path, true, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
}

func parse(path string, data []byte) (map[string]types.ServerConfig, error) {
	raw, err := decodeEntries(path, data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	servers := make(map[string]types.ServerConfig, len(raw))
	for id, decode := range raw {
		cfg := types.ServerConfig{Enabled: true}
		if err := decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: %s: server %q: %w", path, id, err)
		}
		if cfg.ID == "" {
			cfg.ID = id
		}
		if cfg.ID != id {
			return nil, fmt.Errorf("config: %s: server %q declares id %q", path, id, cfg.ID)
		}
		cfg = cfg.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		servers[id] = cfg
	}
	return servers, nil
}

// decodeEntries splits the servers map into per-server decoders, so each
// entry can be decoded over a pre-filled ServerConfig.
func decodeEntries(path string, data []byte) (map[string]func(*types.ServerConfig) error, error) {
	out := make(map[string]func(*types.ServerConfig) error)
	if isJSON(path) {
		var f struct {
			Servers map[string]json.RawMessage `json:"servers"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		for id, raw := range f.Servers {
			out[id] = func(cfg *types.ServerConfig) error { return json.Unmarshal(raw, cfg) }
		}
		return out, nil
	}

	var f struct {
		Servers map[string]yaml.Node `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for id, node := range f.Servers {
		out[id] = func(cfg *types.ServerConfig) error { return node.Decode(cfg) }
	}
	return out, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// withLock runs fn while holding the lock file next to path.
func withLock(path string, exclusive bool, fn func() error) error {
	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, 50*time.Millisecond)
	} else {
		locked, err = fl.TryRLockContext(ctx, 50*time.Millisecond)
	}
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && !locked) {
		return ErrLockTimeout
	}
	if err != nil {
		return fmt.Errorf("config: lock %s: %w", path, err)
	}
	defer fl.Unlock()

	return fn()
}
