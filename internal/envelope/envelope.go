// Package envelope defines the canonical response shapes the gateway
// returns to API clients, and the normalizer that converts raw upstream
// transport results into them.
//
// Every API response leaves the gateway as exactly one of two shapes:
//
//   - Envelope: {ok:true, value:...} or {ok:false, status, code, message, corrId}
//   - FlatStatus: {ok, buildId, time, ...} used only by health-style endpoints,
//     distinguished at the wire level by never containing a "value" key.
package envelope

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Code is the stable machine-readable error code carried by failure envelopes.
type Code string

// Error codes returned by the gateway.
const (
	CodeBadInput            Code = "BAD_INPUT"
	CodeMissingToken        Code = "MISSING_TOKEN"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeMethodNotAllowed    Code = "METHOD_NOT_ALLOWED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUpstreamNonJSON     Code = "UPSTREAM_NON_JSON"
	CodeUpstreamUnreachable Code = "UPSTREAM_UNREACHABLE"
	CodeInternal            Code = "INTERNAL"
)

// HTTPStatus returns the HTTP status associated with the code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadInput:
		return http.StatusBadRequest
	case CodeMissingToken, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamNonJSON, CodeUpstreamUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON response shape used by API routes. Exactly one of
// Value (ok=true) or Code (ok=false) is set.
type Envelope struct {
	OK          bool            `json:"ok"`
	Value       json.RawMessage `json:"value,omitempty"`
	ETag        string          `json:"etag,omitempty"`
	NotModified bool            `json:"notModified,omitempty"`
	Status      int             `json:"status,omitempty"`
	Code        Code            `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	CorrID      string          `json:"corrId,omitempty"`
}

// Success creates a success envelope wrapping the given value.
func Success(value any) (*Envelope, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope value: %w", err)
	}
	return &Envelope{OK: true, Value: raw}, nil
}

// SuccessRaw creates a success envelope wrapping pre-encoded JSON.
func SuccessRaw(raw json.RawMessage) *Envelope {
	return &Envelope{OK: true, Value: raw}
}

// Failure creates a failure envelope for the given code.
func Failure(code Code, message, corrID string) *Envelope {
	return &Envelope{
		OK:      false,
		Status:  code.HTTPStatus(),
		Code:    code,
		Message: message,
		CorrID:  corrID,
	}
}

// Encode marshals the envelope. The zero Value of a failure envelope is
// omitted, preserving the exactly-one-of value/code invariant on the wire.
func (e *Envelope) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// An envelope is always marshalable; this path is unreachable
		// unless Value holds invalid raw JSON injected by a bug.
		return []byte(`{"ok":false,"status":500,"code":"INTERNAL","message":"envelope encoding failed"}`)
	}
	return data
}

// FlatStatus is the un-wrapped JSON shape used by health-style endpoints.
// It never contains a "value" key, which is what distinguishes it from an
// Envelope at the wire level.
type FlatStatus struct {
	OK      bool   `json:"ok"`
	BuildID string `json:"buildId,omitempty"`
	BrandID string `json:"brandId,omitempty"`
	Time    string `json:"time"`

	// Fields holds additional domain fields merged into the top-level
	// object on marshal. A "value" key is dropped if present.
	Fields map[string]any `json:"-"`
}

// NewFlatStatus creates a FlatStatus stamped with the current time.
func NewFlatStatus(ok bool, buildID, brandID string) *FlatStatus {
	return &FlatStatus{
		OK:      ok,
		BuildID: buildID,
		BrandID: brandID,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
}

// Set adds a domain field to the status object.
func (f *FlatStatus) Set(key string, value any) *FlatStatus {
	if f.Fields == nil {
		f.Fields = make(map[string]any)
	}
	f.Fields[key] = value
	return f
}

// MarshalJSON flattens Fields into the top-level object.
func (f *FlatStatus) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Fields)+4)
	for k, v := range f.Fields {
		if k == "value" {
			continue
		}
		out[k] = v
	}
	out["ok"] = f.OK
	out["time"] = f.Time
	if f.BuildID != "" {
		out["buildId"] = f.BuildID
	}
	if f.BrandID != "" {
		out["brandId"] = f.BrandID
	}
	return json.Marshal(out)
}

// TransportResult is the raw outcome of a single outbound backend call.
// It is created per call and never persisted.
type TransportResult struct {
	HTTPStatus     int
	Headers        http.Header
	Body           []byte
	Duration       time.Duration
	TransportError error
}

// Failed reports whether the call failed at the transport layer.
func (tr *TransportResult) Failed() bool {
	return tr.TransportError != nil
}

// DurationMs returns the call duration in whole milliseconds.
func (tr *TransportResult) DurationMs() int64 {
	return tr.Duration.Milliseconds()
}
