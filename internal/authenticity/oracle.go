// Package authenticity defines the document authenticity oracle boundary.
package authenticity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pactform/pactform/internal/platform/httpx"
)

// Oracle answers whether a stored document passes the authenticity check.
type Oracle interface {
	Check(ctx context.Context, ref string) (bool, error)
}

// StaticOracle returns a fixed verdict for every document. The production
// default passes everything until a real scorer is deployed.
type StaticOracle struct {
	Verdict bool
}

// Check returns the configured verdict.
func (o StaticOracle) Check(context.Context, string) (bool, error) {
	return o.Verdict, nil
}

// HTTPOracle delegates to a remote scoring service.
type HTTPOracle struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPOracle constructs a client for the scorer at baseURL.
func NewHTTPOracle(baseURL string) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Check posts the reference to the scorer. Transport and non-2xx failures
// surface as upstream errors and are not retried.
func (o *HTTPOracle) Check(ctx context.Context, ref string) (bool, error) {
	payload := fmt.Sprintf(`{"ref":%q}`, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/check", strings.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: authenticity scorer: %v", httpx.ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("%w: authenticity scorer returned status %d", httpx.ErrUpstream, resp.StatusCode)
	}

	var out struct {
		Authentic bool `json:"authentic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode authenticity verdict: %v", httpx.ErrUpstream, err)
	}
	return out.Authentic, nil
}
