// Package macro substitutes named placeholders in tracking URL templates.
// Two equivalent syntaxes are supported, [NAME] and ${NAME}; names are
// case-sensitive and dotted names walk nested maps.
package macro

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Map holds macro values. Values may be strings, numbers, booleans, or
// nested map[string]any resolved through dotted names.
type Map map[string]any

// Merge returns a copy of m with overlay's keys applied on top. Overlay
// values win on conflict; neither input is mutated.
func (m Map) Merge(overlay Map) Map {
	out := make(Map, len(m)+len(overlay))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Lookup resolves name against the map, walking nested maps for dotted
// names such as "device.id".
func (m Map) Lookup(name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = map[string]any(m)
	for _, part := range strings.Split(name, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			if mm, isMap := cur.(Map); isMap {
				node = map[string]any(mm)
			} else {
				return nil, false
			}
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Fingerprint returns a stable digest of the map contents, used as a cache
// key for expanded templates.
func (m Map) Fingerprint() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(Stringify(m[k]))
		b.WriteByte(';')
	}
	return b.String()
}

// Stringify renders a macro value the way it appears in a URL.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Expand substitutes macros in template. All [NAME] occurrences are
// replaced first, then all ${NAME}. Names with no value are left untouched,
// so expansion is idempotent for maps whose values carry no macro syntax.
func Expand(template string, macros Map) string {
	return expandDollarForm(expandBracketForm(template, macros), macros)
}

func expandBracketForm(s string, macros Map) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '[')
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+1:], ']')
		if j < 0 {
			break
		}
		name := s[i+1 : i+1+j]
		b.WriteString(s[:i])
		if v, ok := macros.Lookup(name); ok && validName(name) {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(s[i : i+2+j])
		}
		s = s[i+2+j:]
	}
	b.WriteString(s)
	return b.String()
}

func expandDollarForm(s string, macros Map) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.Index(s[i+2:], "}")
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := macros.Lookup(name); ok && validName(name) {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// Engine caches expanded templates per (template, map fingerprint) so that
// a trackable retried several times does not pay the substitution cost on
// every attempt.
type Engine struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewEngine returns an Engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]string)}
}

// Expand behaves like the package-level Expand with memoization.
func (e *Engine) Expand(template string, macros Map) string {
	key := template + "\x00" + macros.Fingerprint()
	e.mu.Lock()
	if v, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	out := Expand(template, macros)

	e.mu.Lock()
	e.cache[key] = out
	e.mu.Unlock()
	return out
}
