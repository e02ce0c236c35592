package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 8 << 20

// HTTPProvider issues a GET against a URL template.
type HTTPProvider struct {
	name       string
	urlPattern string
	headers    map[string]string
	httpClient *http.Client
}

func NewHTTPProvider(name, urlPattern string, headers map[string]string) (*HTTPProvider, error) {
	if urlPattern == "" {
		return nil, fmt.Errorf("http provider %s: empty url", name)
	}
	if _, err := url.Parse(strings.ReplaceAll(urlPattern, subjectPlaceholder, "x")); err != nil {
		return nil, fmt.Errorf("http provider %s: invalid url: %w", name, err)
	}
	return &HTTPProvider{
		name:       name,
		urlPattern: urlPattern,
		headers:    headers,
		httpClient: &http.Client{},
	}, nil
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Fetch(ctx context.Context, subject string, timeout time.Duration) (*Payload, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.ReplaceAll(p.urlPattern, subjectPlaceholder, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, newError(KindUnavailable, p.name, subject, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, p.name, subject, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, p.name, subject, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(KindUnavailable, p.name, subject,
			fmt.Errorf("unexpected status code %d", resp.StatusCode))
	}
	if !json.Valid(body) {
		return nil, newError(KindMalformedResponse, p.name, subject,
			fmt.Errorf("response body is not valid JSON (%d bytes)", len(body)))
	}

	return &Payload{
		Provider:  p.name,
		Subject:   subject,
		Body:      body,
		FetchedAt: time.Now(),
	}, nil
}
