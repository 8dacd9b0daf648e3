// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package variables

// Interpolate replaces every "${namespace.field}" token in s that resolves
// against c; anything unrecognized (including malformed or unknown names)
// is left verbatim so callers can't silently swallow a typo into an empty
// string.
func (c Context) Interpolate(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token[2 : len(token)-1] // strip "${" and "}"
		if v, ok := c.resolve(name); ok {
			return v
		}
		return token
	})
}

// InterpolateSlice applies Interpolate to every element of ss.
func (c Context) InterpolateSlice(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = c.Interpolate(s)
	}
	return out
}

// InterpolateMap applies Interpolate to every value (not key) of m.
func (c Context) InterpolateMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = c.Interpolate(v)
	}
	return out
}

// FindSecrets returns the names of every secret referenced by s (e.g.
// "${secrets.API_TOKEN}" yields "API_TOKEN"), regardless of whether the
// secret is actually defined in c.Secrets. The orchestrator uses it to
// collect the secret names to resolve before a run starts.
func FindSecrets(s string) []string {
	var names []string
	for _, m := range varPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		const prefix = "secrets."
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name[len(prefix):])
		}
	}
	return names
}

// SecretValues returns the resolved values of every secret referenced by s
// that is actually present in c.Secrets — the set of strings a log
// redactor must scrub from output before it reaches storage.
func (c Context) SecretValues(s string) []string {
	var values []string
	for _, name := range FindSecrets(s) {
		if v, ok := c.Secrets[name]; ok {
			values = append(values, v)
		}
	}
	return values
}
