package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cgast/exemplar/pkg/trial"
)

// DefaultHTTPTimeout bounds one upload.
const DefaultHTTPTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4 * 1024

// Upload is the JSON body posted for each record.
type Upload struct {
	ParticipantID string       `json:"participant_id"`
	StudyID       string       `json:"study_id"`
	SessionID     string       `json:"session_id"`
	Data          trial.Record `json:"data"`
}

// HTTPSink posts records to a collection endpoint.
type HTTPSink struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// HTTPOption configures an HTTPSink.
type HTTPOption func(*HTTPSink)

// WithHeaders adds request headers, e.g. an authorization token.
func WithHeaders(h map[string]string) HTTPOption {
	return func(s *HTTPSink) {
		for k, v := range h {
			s.headers[k] = v
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSink) { s.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSink) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

// NewHTTPSink creates a sink posting to endpoint. When allowedDomains is
// non-empty the endpoint's host must be one of them.
func NewHTTPSink(endpoint string, allowedDomains []string, opts ...HTTPOption) (*HTTPSink, error) {
	if err := checkAllowedDomain(endpoint, allowedDomains); err != nil {
		return nil, err
	}

	s := &HTTPSink{
		endpoint: endpoint,
		headers:  make(map[string]string),
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPSink) Emit(ctx context.Context, rec trial.Record) error {
	body, err := json.Marshal(Upload{
		ParticipantID: rec.ParticipantID,
		StudyID:       rec.StudyID,
		SessionID:     rec.SessionID,
		Data:          rec,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to marshal upload", goerr.V("trial_id", rec.TrialID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("endpoint", s.endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "upload failed",
			goerr.V("endpoint", s.endpoint),
			goerr.V("trial_id", rec.TrialID),
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return goerr.New("upload rejected",
			goerr.V("endpoint", s.endpoint),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)),
			goerr.V("trial_id", rec.TrialID),
		)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// checkAllowedDomain verifies the URL's host is in the allowlist. An empty
// allowlist permits all hosts.
func checkAllowedDomain(rawURL string, allowedDomains []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return goerr.Wrap(err, "invalid sink URL", goerr.V("url", rawURL))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return goerr.New("sink URL must be http or https", goerr.V("url", rawURL))
	}
	if len(allowedDomains) == 0 {
		return nil
	}
	if !slices.Contains(allowedDomains, parsed.Hostname()) {
		return goerr.New("sink domain not allowed",
			goerr.V("host", parsed.Hostname()),
			goerr.V("allowed", allowedDomains),
		)
	}
	return nil
}
