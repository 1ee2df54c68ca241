package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/verdictai/verdict-oss/pkg/decision"
	"github.com/verdictai/verdict-oss/pkg/domain"
)

// HTTPTier reaches a shared cache sidecar over HTTP. The wire contract is
// deliberately small: GET /cache/{key} answers 200 with a JSON decision or
// 404, PUT /cache/{key} stores the body with a TTL header. Any transport or
// server failure is reported as ErrCacheTierUnavailable so the two-tier
// cache can degrade.
type HTTPTier struct {
	baseURL string
	client  *http.Client
}

const ttlHeader = "X-Cache-TTL-Seconds"

// NewHTTPTier creates a tier client for the given base URL. The request
// timeout bounds each round trip so a slow backend cannot stall the
// dispatcher goroutine that issued the call.
func NewHTTPTier(baseURL string, timeout time.Duration) *HTTPTier {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &HTTPTier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Get retrieves a decision from the remote tier.
func (t *HTTPTier) Get(ctx context.Context, key decision.Key) (domain.PolicyDecision, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.entryURL(key), nil)
	if err != nil {
		return domain.PolicyDecision{}, false, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.PolicyDecision{}, false, t.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var dec domain.PolicyDecision
		if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
			return domain.PolicyDecision{}, false, t.unavailable(err)
		}
		return dec, true, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.PolicyDecision{}, false, nil
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.PolicyDecision{}, false, t.unavailable(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// Set stores a decision in the remote tier with a TTL.
func (t *HTTPTier) Set(ctx context.Context, key decision.Key, dec domain.PolicyDecision, ttl time.Duration) error {
	body, err := json.Marshal(dec)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.entryURL(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if ttl > 0 {
		req.Header.Set(ttlHeader, strconv.Itoa(int(ttl.Seconds())))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return t.unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return t.unavailable(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Close releases idle connections held by the underlying client.
func (t *HTTPTier) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTier) entryURL(key decision.Key) string {
	return t.baseURL + "/cache/" + key.String()
}

func (t *HTTPTier) unavailable(err error) error {
	return &domain.DomainError{
		Err:     domain.ErrCacheTierUnavailable,
		Code:    "CACHE_TIER_UNAVAILABLE",
		Message: fmt.Sprintf("distributed cache tier at %s: %v", t.baseURL, err),
	}
}
