// Package config merges layered configuration maps. Four precedence
// levels apply, lowest to highest: global defaults, provider defaults,
// publisher overrides, per-call overrides. The core consumes resolved
// values only; loading them from files or the environment is the caller's
// concern.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/pquerna/ffjson/ffjson"
	"golang.org/x/sync/singleflight"
)

// appendSuffix on a key marks a list override as append-instead-of-replace.
const appendSuffix = "!append"

// Resolver merges and validates config layers, memoizing results by a
// fingerprint of the inputs.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]map[string]any
	group singleflight.Group
}

// NewResolver returns an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]map[string]any)}
}

// Resolve merges the four layers and validates the result. Any layer may
// be nil. The returned map is owned by the cache: callers must not
// mutate it.
func (r *Resolver) Resolve(global, provider, publisher, call map[string]any) (map[string]any, error) {
	for i, layer := range []map[string]any{global, provider, publisher, call} {
		if err := Validate(layer); err != nil {
			return nil, fmt.Errorf("config layer %d: %w", i, err)
		}
	}

	key, err := fingerprint(global, provider, publisher, call)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		merged := Merge(Merge(Merge(global, provider), publisher), call)
		if err := Validate(merged); err != nil {
			return nil, fmt.Errorf("merged config: %w", err)
		}
		r.mu.Lock()
		r.cache[key] = merged
		r.mu.Unlock()
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// ClearCache drops all memoized resolutions.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]map[string]any)
	r.mu.Unlock()
}

// Merge applies overlay on top of base. Nested maps deep-merge, scalars
// and lists replace. A list keyed "name!append" in the overlay appends to
// base's "name" instead of replacing it. Neither input is mutated.
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range overlay {
		if strings.HasSuffix(k, appendSuffix) {
			name := strings.TrimSuffix(k, appendSuffix)
			if existing, ok := out[name].([]any); ok {
				if add, ok := v.([]any); ok {
					out[name] = append(append([]any{}, existing...), add...)
					continue
				}
			}
			out[name] = cloneValue(v)
			continue
		}
		bm, bok := out[k].(map[string]any)
		om, ook := v.(map[string]any)
		if bok && ook {
			out[k] = Merge(bm, om)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Merge(t, nil)
	case []any:
		return append([]any{}, t...)
	default:
		return v
	}
}

// fingerprint digests the four layers through deterministic JSON so that
// identical inputs share one cache entry.
func fingerprint(layers ...map[string]any) (string, error) {
	h := sha256.New()
	for _, layer := range layers {
		buf, err := ffjson.Marshal(layer)
		if err != nil {
			return "", fmt.Errorf("config: fingerprint: %w", err)
		}
		h.Write(buf)
		h.Write([]byte{0})
		ffjson.Pool(buf)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
