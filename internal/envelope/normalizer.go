package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zeventbooks/eventgate/internal/observability"
	"github.com/zeventbooks/eventgate/internal/util"
)

// DefaultExcerptLen bounds the diagnostic excerpt taken from a non-JSON
// upstream body.
const DefaultExcerptLen = 160

// Normalized is the fully resolved response produced by the normalizer.
type Normalized struct {
	Status   int
	Envelope *Envelope
}

// Normalizer converts raw transport results into canonical envelopes. It
// guarantees that whatever the upstream returned, the output is valid JSON
// and contains no upstream markup.
type Normalizer struct {
	excerptLen int
	logger     observability.Logger
}

// NormalizerOption is a functional option for configuring the normalizer.
type NormalizerOption func(*Normalizer)

// WithNormalizerLogger sets the logger for the normalizer.
func WithNormalizerLogger(logger observability.Logger) NormalizerOption {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// WithExcerptLen overrides the diagnostic excerpt length.
func WithExcerptLen(length int) NormalizerOption {
	return func(n *Normalizer) {
		if length > 0 {
			n.excerptLen = length
		}
	}
}

// NewNormalizer creates a new normalizer.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		excerptLen: DefaultExcerptLen,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize resolves a transport result into a status code and envelope.
// corrID is attached to every failure envelope; an empty corrID is replaced
// with a generated one so failures are always correlatable.
func (n *Normalizer) Normalize(tr *TransportResult, corrID string) *Normalized {
	if corrID == "" {
		corrID = uuid.New().String()
	}

	if tr.Failed() {
		return n.normalizeTransportError(tr, corrID)
	}

	body := bytes.TrimSpace(tr.Body)
	if len(body) == 0 {
		// An empty 200 is never accepted as success.
		n.logger.Warn("upstream returned empty body",
			observability.Int("upstream_status", tr.HTTPStatus),
			observability.String("corr_id", corrID),
		)
		env := Failure(CodeUpstreamNonJSON, "upstream returned an empty body", corrID)
		return &Normalized{Status: http.StatusBadGateway, Envelope: env}
	}

	if !json.Valid(body) {
		n.logger.Warn("upstream returned non-JSON body",
			observability.Int("upstream_status", tr.HTTPStatus),
			observability.Int("body_len", len(body)),
			observability.String("corr_id", corrID),
		)
		msg := fmt.Sprintf("upstream returned non-JSON content: %s", n.excerpt(body))
		env := Failure(CodeUpstreamNonJSON, msg, corrID)
		return &Normalized{Status: http.StatusBadGateway, Envelope: env}
	}

	return n.normalizeJSON(tr, body, corrID)
}

// normalizeTransportError synthesizes an unreachable-upstream envelope.
func (n *Normalizer) normalizeTransportError(tr *TransportResult, corrID string) *Normalized {
	status := http.StatusBadGateway
	message := "upstream is unreachable"

	if errors.Is(tr.TransportError, util.ErrTimeout) {
		status = http.StatusGatewayTimeout
		message = "upstream call timed out"
	}

	n.logger.Warn("upstream transport failure",
		observability.Error(tr.TransportError),
		observability.Duration("duration", tr.Duration),
		observability.String("corr_id", corrID),
	)

	env := Failure(CodeUpstreamUnreachable, message, corrID)
	env.Status = status
	return &Normalized{Status: status, Envelope: env}
}

// normalizeJSON resolves a syntactically valid JSON body.
func (n *Normalizer) normalizeJSON(tr *TransportResult, body []byte, corrID string) *Normalized {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Valid JSON but not an object (array, scalar): compatibility
		// shim, wrap it as a success value.
		return &Normalized{
			Status:   http.StatusOK,
			Envelope: SuccessRaw(json.RawMessage(body)),
		}
	}

	okRaw, hasOK := fields["ok"]
	if !hasOK {
		// Upstream endpoint does not speak the envelope dialect.
		return &Normalized{
			Status:   http.StatusOK,
			Envelope: SuccessRaw(json.RawMessage(body)),
		}
	}

	var ok bool
	if err := json.Unmarshal(okRaw, &ok); err != nil {
		msg := fmt.Sprintf("upstream envelope has a non-boolean ok field: %s", n.excerpt(okRaw))
		env := Failure(CodeUpstreamNonJSON, msg, corrID)
		return &Normalized{Status: http.StatusBadGateway, Envelope: env}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		env = Envelope{OK: ok, Value: json.RawMessage(body)}
	}

	if !ok {
		return n.normalizeUpstreamFailure(tr, &env, corrID)
	}

	// Success envelopes follow the ok discriminator: an upstream that says
	// ok:true with a non-2xx status line gets a 200 status here, keeping
	// the status class aligned with ok on every gateway response.
	return &Normalized{Status: http.StatusOK, Envelope: &env}
}

// normalizeUpstreamFailure re-asserts the status/ok alignment invariant on a
// passed-through failure envelope.
func (n *Normalizer) normalizeUpstreamFailure(tr *TransportResult, env *Envelope, corrID string) *Normalized {
	status := tr.HTTPStatus
	if status < http.StatusBadRequest {
		// ok:false under HTTP 200 is an upstream contract violation; it
		// must not leak as a false success status line.
		n.logger.Warn("upstream reported ok=false with success status",
			observability.Int("upstream_status", tr.HTTPStatus),
			observability.String("corr_id", corrID),
		)
		status = http.StatusInternalServerError
	}

	env.OK = false
	env.Value = nil
	env.Status = status
	if env.Code == "" {
		env.Code = CodeInternal
	}
	if env.Message == "" {
		env.Message = "upstream reported a failure"
	}
	if env.CorrID == "" {
		env.CorrID = corrID
	}

	return &Normalized{Status: status, Envelope: env}
}

// excerpt returns a bounded, markup-free fragment of the body for
// diagnostics. Angle brackets are stripped so the synthesized envelope can
// never re-emit upstream markup.
func (n *Normalizer) excerpt(body []byte) string {
	s := string(body)
	if len(s) > n.excerptLen {
		s = s[:n.excerptLen]
	}
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	return strings.TrimSpace(s)
}
