// Package remote adapts an out-of-process test provider service to the
// bdq.Provider interface. The service speaks a small JSON protocol: one POST
// per invocation carrying the test handle and its arguments, one JSON object
// back carrying status, result, and comment.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bdqcore/pkg/bdq"
)

const defaultTimeout = 30 * time.Second

// maxResponseBytes bounds how much of a provider reply is read. Real replies
// are a few hundred bytes; anything larger is a misbehaving service.
const maxResponseBytes = 1 << 20

// Config holds the connection settings for a provider service.
type Config struct {
	// Endpoint is the URL invocations are POSTed to.
	Endpoint string
	// Client overrides the HTTP client, mainly for tests and custom
	// transports. Nil uses a client with a 30s overall timeout.
	Client *http.Client
}

// Provider implements bdq.Provider against a remote service. Safe for
// concurrent use.
type Provider struct {
	endpoint string
	client   *http.Client
}

// New builds a remote provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote provider endpoint required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Provider{endpoint: cfg.Endpoint, client: client}, nil
}

// invocation is the request body for one test call.
type invocation struct {
	Test string            `json:"test"`
	Args map[string]string `json:"args"`
}

// reply is the service's answer. Status strings outside the engine's
// vocabulary are passed through untouched; the executor normalizes them.
type reply struct {
	Status  string `json:"status"`
	Result  string `json:"result"`
	Comment string `json:"comment"`
}

// Invoke POSTs the invocation and maps the reply onto an Outcome. Transport
// failures and 5xx answers are transient; 4xx answers and malformed replies
// are permanent.
func (p *Provider) Invoke(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
	body, err := json.Marshal(invocation{Test: handle, Args: args})
	if err != nil {
		return bdq.Outcome{}, fmt.Errorf("encode invocation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return bdq.Outcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline handling belongs to the caller; do not mask it
			// as a provider-side transient failure.
			return bdq.Outcome{}, err
		}
		return bdq.Outcome{}, bdq.Transient(fmt.Errorf("call %s: %w", p.endpoint, err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusInternalServerError {
		drain(resp.Body)
		return bdq.Outcome{}, bdq.Transient(fmt.Errorf("provider returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return bdq.Outcome{}, fmt.Errorf("provider rejected %q: %s", handle, resp.Status)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	dec.DisallowUnknownFields()
	var r reply
	if err := dec.Decode(&r); err != nil {
		return bdq.Outcome{}, fmt.Errorf("decode provider reply for %q: %w", handle, err)
	}
	if dec.More() {
		return bdq.Outcome{}, fmt.Errorf("provider reply for %q carries trailing data", handle)
	}
	if r.Status == "" {
		return bdq.Outcome{}, fmt.Errorf("provider reply for %q has no status", handle)
	}
	return toOutcome(r), nil
}

// toOutcome converts the wire reply. Amendment statuses carry their proposals
// in result as key=value pairs joined with "|"; every other status treats
// result as the verdict label.
func toOutcome(r reply) bdq.Outcome {
	out := bdq.Outcome{Status: bdq.Status(r.Status), Comment: r.Comment}
	switch out.Status {
	case bdq.StatusAmended, bdq.StatusFilledIn:
		out.Amendments = parseProposals(r.Result)
	default:
		out.Label = bdq.ResultLabel(r.Result)
	}
	return out
}

// parseProposals splits "k1=v1|k2=v2" into amendments. Pairs without "=" are
// dropped; empty values are kept.
func parseProposals(result string) []bdq.Amendment {
	if result == "" {
		return nil
	}
	var out []bdq.Amendment
	for _, pair := range strings.Split(result, "|") {
		column, value, ok := strings.Cut(pair, "=")
		if !ok || column == "" {
			continue
		}
		out = append(out, bdq.Amendment{Column: column, Value: value})
	}
	return out
}

// drain discards a response body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, maxResponseBytes))
}
