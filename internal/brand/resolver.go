// Package brand resolves the tenant ("brand") identity of a request from
// its path prefix or query parameters against a configured allow-list.
package brand

import (
	"net/url"
	"sort"
	"strings"
)

// ID is an opaque brand token matched against the allow-list.
type ID string

// Root is the default brand every unresolved page request falls back to.
const Root ID = "root"

// Source records where a brand identity came from.
type Source string

// Brand resolution sources.
const (
	SourcePath    Source = "path"
	SourceQuery   Source = "query"
	SourceDefault Source = "default"
)

// Resolution is the outcome of resolving a request's brand.
type Resolution struct {
	// Brand is the resolved brand. When Known is false it carries the
	// unrecognized token as claimed by the client.
	Brand ID

	// Path is the request path with any brand prefix stripped.
	Path string

	// Source is where the brand was found.
	Source Source

	// Known reports whether the brand is on the allow-list. Callers decide
	// per route kind whether an unknown brand falls back to Root or is
	// rejected as bad input.
	Known bool
}

// Resolver validates brand identities against an immutable allow-list built
// once at startup.
type Resolver struct {
	known map[ID]bool
}

// NewResolver creates a resolver for the given child brands. Root is always
// on the allow-list.
func NewResolver(brands []string) *Resolver {
	known := make(map[ID]bool, len(brands)+1)
	known[Root] = true
	for _, b := range brands {
		b = strings.TrimSpace(strings.ToLower(b))
		if b != "" {
			known[ID(b)] = true
		}
	}
	return &Resolver{known: known}
}

// Recognized reports whether the brand is on the allow-list.
func (r *Resolver) Recognized(b ID) bool {
	return r.known[b]
}

// Known returns the allow-list in sorted order.
func (r *Resolver) Known() []ID {
	ids := make([]ID, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve extracts the brand from the request. An explicit path prefix wins
// over the ?brand=/?tenant= query parameters; neither present means Root.
func (r *Resolver) Resolve(path string, query url.Values) Resolution {
	if res, ok := r.resolveFromPath(path); ok {
		return res
	}

	if res, ok := r.resolveFromQuery(path, query); ok {
		return res
	}

	return Resolution{Brand: Root, Path: path, Source: SourceDefault, Known: true}
}

// resolveFromPath checks the first path segment against the allow-list.
// A segment that is not a known brand is left in place; it is part of the
// route path, not a brand claim.
func (r *Resolver) resolveFromPath(path string) (Resolution, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return Resolution{}, false
	}

	segment := trimmed
	rest := "/"
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		segment = trimmed[:idx]
		rest = trimmed[idx:]
	}

	candidate := ID(strings.ToLower(segment))
	if !r.known[candidate] {
		return Resolution{}, false
	}

	return Resolution{Brand: candidate, Path: rest, Source: SourcePath, Known: true}, true
}

// resolveFromQuery checks the ?brand= and legacy ?tenant= parameters.
func (r *Resolver) resolveFromQuery(path string, query url.Values) (Resolution, bool) {
	raw := query.Get("brand")
	if raw == "" {
		raw = query.Get("tenant")
	}
	if raw == "" {
		return Resolution{}, false
	}

	candidate := ID(strings.ToLower(strings.TrimSpace(raw)))
	return Resolution{
		Brand:  candidate,
		Path:   path,
		Source: SourceQuery,
		Known:  r.known[candidate],
	}, true
}
