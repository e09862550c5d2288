// Package registry maps agent ids to the base URL of the process serving
// them. An id without an entry runs in-process.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	entries map[string]string
}

// Entry is one remote mapping, used for display.
type Entry struct {
	AgentID string `json:"agent_id"`
	BaseURL string `json:"base_url"`
}

func New(mapping map[string]string) *Registry {
	entries := make(map[string]string, len(mapping))
	for id, url := range mapping {
		url = normalizeURL(url)
		if id == "" || url == "" {
			continue
		}
		entries[id] = url
	}
	return &Registry{entries: entries}
}

// Load reads a JSON or YAML mapping file. A missing file is an empty
// registry. A malformed file is also an empty registry, returned alongside
// the parse error so the caller can log it.
func Load(path string) (*Registry, error) {
	empty := New(nil)
	if path == "" {
		return empty, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return empty, fmt.Errorf("read registry: %w", err)
	}

	// JSON first, then YAML for hand-written files.
	var raw map[string]any
	if jsonErr := json.Unmarshal(data, &raw); jsonErr != nil {
		raw = nil
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return empty, fmt.Errorf("parse registry %s: %w", path, jsonErr)
		}
	}

	mapping := make(map[string]string, len(raw))
	for id, v := range raw {
		if v == nil {
			continue
		}
		mapping[id] = fmt.Sprint(v)
	}
	return New(mapping), nil
}

// Resolve returns the base URL serving agentID, if any.
func (r *Registry) Resolve(agentID string) (string, bool) {
	if r == nil {
		return "", false
	}
	url, ok := r.entries[agentID]
	return url, ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Entries returns the mappings sorted by agent id.
func (r *Registry) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, 0, len(r.entries))
	for id, url := range r.entries {
		out = append(out, Entry{AgentID: id, BaseURL: url})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.AgentID, b.AgentID)
	})
	return out
}

func normalizeURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}
