// Package health composes backend reachability, storage reachability, and
// deployment-fingerprint cross-checks into a single composite report.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/zeventbooks/eventgate/internal/backend"
	"github.com/zeventbooks/eventgate/internal/envelope"
	"github.com/zeventbooks/eventgate/internal/observability"
)

// Probe states for the storage tier. not_configured is a non-fatal state
// distinct from error.
const (
	StateOK            = "ok"
	StateError         = "error"
	StateNotConfigured = "not_configured"
)

// Fingerprint identifies a deployed build. The gateway's own fingerprint
// and the backend's self-reported one are compared on every check.
type Fingerprint struct {
	DeploymentID string `json:"deploymentId"`
	ScriptID     string `json:"scriptId"`
	BuiltAt      string `json:"builtAt,omitempty"`
}

// Matches reports whether two fingerprints identify the same build.
// BuiltAt is informational and not compared.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f.DeploymentID == other.DeploymentID && f.ScriptID == other.ScriptID
}

// Zero reports whether the fingerprint carries no identity.
func (f Fingerprint) Zero() bool {
	return f.DeploymentID == "" && f.ScriptID == ""
}

// Report is the composite health outcome.
type Report struct {
	OK       bool
	Backend  string
	Storage  string
	Aligned  bool
	Self     Fingerprint
	Upstream Fingerprint

	// BackendDuration is the reachability probe round-trip time.
	BackendDuration time.Duration

	// Detail carries a short human-readable reason on failure.
	Detail string
}

// HTTPStatus maps the report onto a status code. Alignment failures are
// hard failures, not warnings.
func (r *Report) HTTPStatus() int {
	if r.OK && r.Aligned {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// FlatStatus renders the report in the un-wrapped health shape.
func (r *Report) FlatStatus(buildID, brandID string) *envelope.FlatStatus {
	fs := envelope.NewFlatStatus(r.OK && r.Aligned, buildID, brandID)
	fs.Set("backend", r.Backend)
	fs.Set("storage", r.Storage)
	fs.Set("aligned", r.Aligned)
	fs.Set("backendDurationMs", r.BackendDuration.Milliseconds())
	fs.Set("deployment", map[string]Fingerprint{
		"gateway": r.Self,
		"backend": r.Upstream,
	})
	if r.Detail != "" {
		fs.Set("detail", r.Detail)
	}
	return fs
}

// Aggregator fans out health probes and composes the report.
type Aggregator struct {
	backend backend.Backend
	self    Fingerprint
	logger  observability.Logger
}

// AggregatorOption is a functional option for configuring the aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger for the aggregator.
func WithAggregatorLogger(logger observability.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an aggregator that probes the given backend and
// compares against the gateway's own fingerprint.
func NewAggregator(b backend.Backend, self Fingerprint, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		backend: b,
		self:    self,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// statusPayload is the portion of the backend's status response the
// aggregator reads.
type statusPayload struct {
	Storage      string `json:"storage"`
	DeploymentID string `json:"deploymentId"`
	ScriptID     string `json:"scriptId"`
	BuiltAt      string `json:"builtAt"`
}

// Check runs the reachability probe and the status probe in parallel and
// joins them. A failed reachability probe cancels the sibling immediately:
// the composite fails loud rather than reporting a partial, possibly
// misleading success.
func (a *Aggregator) Check(ctx context.Context) *Report {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		pingTR   *envelope.TransportResult
		statusTR *envelope.TransportResult
	)

	wg.Add(2)

	go func() {
		defer wg.Done()
		pingTR = a.backend.Call(ctx, &backend.Request{Mode: backend.ModePath, Path: "/ping"})
		if pingTR.Failed() {
			cancel()
		}
	}()

	go func() {
		defer wg.Done()
		statusTR = a.backend.Call(ctx, &backend.Request{Mode: backend.ModePath, Path: "/status"})
	}()

	wg.Wait()

	report := &Report{Self: a.self, Aligned: true}
	a.composeBackend(report, pingTR)
	a.composeStatus(report, statusTR)

	report.OK = report.Backend == StateOK && report.Storage != StateError

	if !report.OK || !report.Aligned {
		a.logger.Warn("health check failed",
			observability.String("backend", report.Backend),
			observability.String("storage", report.Storage),
			observability.Bool("aligned", report.Aligned),
			observability.String("detail", report.Detail),
		)
	}

	return report
}

// composeBackend folds the reachability probe into the report.
func (a *Aggregator) composeBackend(report *Report, tr *envelope.TransportResult) {
	report.BackendDuration = tr.Duration

	if tr.Failed() || tr.HTTPStatus >= http.StatusInternalServerError {
		report.Backend = StateError
		report.Detail = "backend unreachable"
		return
	}
	report.Backend = StateOK
}

// composeStatus folds the storage and fingerprint probe into the report.
func (a *Aggregator) composeStatus(report *Report, tr *envelope.TransportResult) {
	if tr.Failed() {
		// When the reachability probe has already failed, the sibling
		// was cancelled and storage state is unknowable; report it as
		// an error rather than degrade into a partial success.
		report.Storage = StateError
		return
	}

	var payload statusPayload
	if err := json.Unmarshal(tr.Body, &payload); err != nil {
		report.Storage = StateError
		report.Detail = "backend status response is not JSON"
		return
	}

	switch payload.Storage {
	case StateOK, StateError, StateNotConfigured:
		report.Storage = payload.Storage
	case "":
		report.Storage = StateNotConfigured
	default:
		report.Storage = StateError
		report.Detail = "backend reported unknown storage state " + payload.Storage
	}

	report.Upstream = Fingerprint{
		DeploymentID: payload.DeploymentID,
		ScriptID:     payload.ScriptID,
		BuiltAt:      payload.BuiltAt,
	}

	if report.Upstream.Zero() {
		report.Aligned = false
		report.Detail = "backend did not report a deployment fingerprint"
		return
	}

	if !a.self.Matches(report.Upstream) {
		report.Aligned = false
		report.Detail = "gateway and backend builds are misaligned"
	}
}
