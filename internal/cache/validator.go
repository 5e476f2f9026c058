// Package cache applies conditional-GET semantics to bundle-style reads.
//
// Bundle reads (single resources fetched by id) carry a strong ETag. A
// follow-up request presenting the same tag in If-None-Match is answered
// with 304 and no body; the tag is always echoed so subsequent conditional
// requests stay valid. Health-class endpoints are exempt and are always
// marked no-cache by the gateway.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/zeventbooks/eventgate/internal/envelope"
)

// Cache-Control values applied by route class.
const (
	// ControlBundle is set on cacheable bundle reads.
	ControlBundle = "public, max-age=60"

	// ControlNoCache is set on health-class responses, which must never
	// be served stale.
	ControlNoCache = "no-cache"
)

// tagLen is the number of hex characters kept from the body digest.
const tagLen = 16

// Outcome is the result of applying conditional semantics to a fresh
// envelope.
type Outcome struct {
	Status      int
	ETag        string
	NotModified bool
}

// Validator computes and compares ETags. It is stateless and safe for
// concurrent use.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ETagFor returns the strong ETag for the envelope: the upstream-supplied
// tag when present, otherwise a digest of the envelope value.
func (v *Validator) ETagFor(env *envelope.Envelope) string {
	if env.ETag != "" {
		return quote(env.ETag)
	}

	payload := env.Value
	if payload == nil {
		payload = env.Encode()
	}

	sum := sha256.Sum256(payload)
	return quote(hex.EncodeToString(sum[:])[:tagLen])
}

// Apply compares the inbound If-None-Match value against the fresh
// envelope's tag. On a match the caller must answer 304 with no body; the
// tag is returned in both cases and must always reach the ETag header.
func (v *Validator) Apply(ifNoneMatch string, env *envelope.Envelope) Outcome {
	tag := v.ETagFor(env)

	// The unquoted tag is stored on the envelope so JSON consumers can
	// replay it without parsing the header.
	env.ETag = unquote(tag)

	if ifNoneMatch != "" && matches(ifNoneMatch, tag) {
		env.NotModified = true
		return Outcome{Status: http.StatusNotModified, ETag: tag, NotModified: true}
	}

	return Outcome{Status: http.StatusOK, ETag: tag}
}

// matches checks the If-None-Match value against the tag, tolerating
// unquoted client tags and the weak-validator prefix.
func matches(ifNoneMatch, tag string) bool {
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == tag || quote(candidate) == tag {
			return true
		}
	}
	return false
}

// quote wraps a raw tag value in the quotes required by the ETag grammar.
func quote(tag string) string {
	if strings.HasPrefix(tag, `"`) {
		return tag
	}
	return `"` + tag + `"`
}

// unquote strips the surrounding quotes from a header-form tag.
func unquote(tag string) string {
	return strings.Trim(tag, `"`)
}
