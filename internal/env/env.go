// Package env composes the environment handed to the dev server process.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env layers configured variables over an optional OS environment base.
// Values are immutable: WithSet returns a modified copy.
type Env struct {
	vars    Var
	inherit bool
	base    Var // cached OS environment, loaded lazily
}

// New returns an Env that inherits the host environment. Without it the
// dev server would lose PATH and friends, so that is the default.
func New() *Env { return &Env{vars: make(Var), inherit: true} }

// Isolated returns an Env that starts empty.
func Isolated() *Env { return &Env{vars: make(Var)} }

// FromList builds an inheriting Env from "KEY=VALUE" entries. Malformed
// entries are skipped.
func FromList(kvs []string) *Env {
	e := New()
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			e.vars[k] = v
		}
	}
	return e
}

// WithInherit toggles the OS environment base.
func (e *Env) WithInherit(v bool) *Env {
	c := e.clone()
	c.inherit = v
	return c
}

// WithSet returns a copy with k=v set.
func (e *Env) WithSet(k, v string) *Env {
	c := e.clone()
	if k != "" {
		c.vars[k] = v
	}
	return c
}

// Layer returns a copy with every "KEY=VALUE" entry of kvs set.
func (e *Env) Layer(kvs []string) *Env {
	c := e.clone()
	for _, kv := range kvs {
		if k, v, ok := split(kv); ok {
			c.vars[k] = v
		}
	}
	return c
}

func (e *Env) clone() *Env {
	c := &Env{vars: make(Var, len(e.vars)), inherit: e.inherit, base: e.base}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

func (e *Env) osBase() Var {
	if e.base != nil {
		return e.base
	}
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return base
}

// Merge composes the final environment: OS base (when inherited), then the
// configured variables, then perProc overrides. ${VAR} references are
// expanded against the composed map, one level deep. Output is sorted.
func (e *Env) Merge(perProc []string) []string {
	m := make(Var)
	if e.inherit {
		for k, v := range e.osBase() {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perProc {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// Lookup returns the merged value of k, without perProc overrides.
func (e *Env) Lookup(k string) (string, bool) {
	for _, kv := range e.Merge(nil) {
		if key, v, ok := split(kv); ok && key == k {
			return v, true
		}
	}
	return "", false
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
