package seeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Package seeds contains pluggable seed configs (YAML/JSON) and the discovery
// implementations that turn them into post stubs.

// Supported seed types.
const (
	TypeSearch   = "search"
	TypeUser     = "user"
	TypeFeed     = "feed"
	TypeTrending = "trending"
)

const defaultMaxPosts = 100

// Seed is a single discovery entry declared in config files.
type Seed struct {
	ID       string   `json:"id" yaml:"id"`
	Type     string   `json:"type" yaml:"type"`
	Query    string   `json:"query" yaml:"query"`
	Actor    string   `json:"actor" yaml:"actor"`
	Actors   []string `json:"actors" yaml:"actors"`
	FeedURI  string   `json:"feed_uri" yaml:"feed_uri"`
	MaxPosts int      `json:"max_posts" yaml:"max_posts"`
	Since    string   `json:"since" yaml:"since"`
	Until    string   `json:"until" yaml:"until"`

	SinceTime time.Time `json:"-" yaml:"-"`
	UntilTime time.Time `json:"-" yaml:"-"`
}

// AllActors merges the single and plural actor fields, deduplicated in order.
func (s Seed) AllActors() []string {
	var out []string
	seen := make(map[string]bool, len(s.Actors)+1)
	for _, a := range append([]string{s.Actor}, s.Actors...) {
		a = strings.TrimSpace(strings.TrimPrefix(a, "@"))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// configFile represents the structure of the seeds configuration file.
type configFile struct {
	Seeds []Seed `json:"seeds" yaml:"seeds"`
}

// Registry materializes seed definitions loaded from config files.
type Registry struct {
	mu    sync.RWMutex
	seeds []Seed
	idx   map[string]Seed
}

// LoadRegistry loads the seed registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("seeds file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seeds file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read seeds file: %w", err)
	}

	fileReg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(fileReg.Seeds) == 0 {
		return nil, errors.New("seeds file contains no seed entries")
	}

	reg := &Registry{
		seeds: make([]Seed, len(fileReg.Seeds)),
		idx:   make(map[string]Seed, len(fileReg.Seeds)),
	}
	for i := range fileReg.Seeds {
		s, err := sanitizeSeed(fileReg.Seeds[i])
		if err != nil {
			return nil, fmt.Errorf("seeds[%d]: %w", i, err)
		}
		if err := validateSeed(s); err != nil {
			return nil, fmt.Errorf("seeds[%d]: %w", i, err)
		}
		if _, exists := reg.idx[s.ID]; exists {
			return nil, fmt.Errorf("duplicate seed id %q", s.ID)
		}
		reg.seeds[i] = s
		reg.idx[s.ID] = s
	}

	return reg, nil
}

// All returns a copy of the loaded seed entries.
func (r *Registry) All() []Seed {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Seed, len(r.seeds))
	copy(out, r.seeds)
	return out
}

// SeedByID returns the seed entry for the given id, if loaded.
func (r *Registry) SeedByID(id string) (Seed, bool) {
	if r == nil {
		return Seed{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.idx[strings.TrimSpace(id)]
	return s, ok
}

// parseRegistry attempts to decode the seeds file content.
func parseRegistry(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg configFile
		if err := d.fn(data, &reg); err != nil {
			return configFile{}, fmt.Errorf("decode %s seeds: %w", d.name, err)
		}
		return reg, nil
	}

	return configFile{}, errors.New("seeds file format not recognized (expected YAML or JSON)")
}

func sanitizeSeed(s Seed) (Seed, error) {
	s.ID = strings.TrimSpace(s.ID)
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	s.Query = strings.TrimSpace(s.Query)
	s.Actor = strings.TrimSpace(s.Actor)
	s.FeedURI = strings.TrimSpace(s.FeedURI)
	if s.MaxPosts <= 0 {
		s.MaxPosts = defaultMaxPosts
	}

	var err error
	if s.SinceTime, err = parseWindowTime(s.Since); err != nil {
		return s, fmt.Errorf("since: %w", err)
	}
	if s.UntilTime, err = parseWindowTime(s.Until); err != nil {
		return s, fmt.Errorf("until: %w", err)
	}
	if !s.SinceTime.IsZero() && !s.UntilTime.IsZero() && s.UntilTime.Before(s.SinceTime) {
		return s, errors.New("until precedes since")
	}
	return s, nil
}

// parseWindowTime accepts RFC3339 or a date-only form for the since/until filter.
func parseWindowTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func validateSeed(s Seed) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	switch s.Type {
	case TypeSearch:
		if s.Query == "" {
			return fmt.Errorf("query is required for search seed %q", s.ID)
		}
	case TypeUser:
		if len(s.AllActors()) == 0 {
			return fmt.Errorf("actor or actors is required for user seed %q", s.ID)
		}
	case TypeFeed:
		if s.FeedURI == "" {
			return fmt.Errorf("feed_uri is required for feed seed %q", s.ID)
		}
	case TypeTrending:
		// Feed URI defaults to the what's-hot generator.
	case "":
		return fmt.Errorf("type is required for seed %q", s.ID)
	default:
		return fmt.Errorf("unsupported seed type %q for seed %q", s.Type, s.ID)
	}
	return nil
}

// InWindow reports whether a post created at ts passes the seed's optional
// timestamp filter.
func (s Seed) InWindow(ts time.Time) bool {
	if ts.IsZero() {
		return s.SinceTime.IsZero() && s.UntilTime.IsZero()
	}
	if !s.SinceTime.IsZero() && ts.Before(s.SinceTime) {
		return false
	}
	if !s.UntilTime.IsZero() && ts.After(s.UntilTime) {
		return false
	}
	return true
}
