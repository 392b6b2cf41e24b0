package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/sentinelmarket/sentinel-sync/internal/config"
	"github.com/sentinelmarket/sentinel-sync/internal/httpclient"
)

// APIReader reads one endpoint of the analytics API
type APIReader struct {
	url       string
	client    httpclient.Client
	validator *PayloadValidator
}

var _ Reader = (*APIReader)(nil)

// NewAPIReader creates a reader for source relative to baseURL. params fill
// the {name} placeholders of the source path and query values.
func NewAPIReader(
	baseURL string,
	source config.SourceConfig,
	params map[string]string,
	client httpclient.Client,
) (*APIReader, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}

	endpoint, err := EndpointURL(baseURL, source.Path, source.Query, params)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}

	validator, err := NewPayloadValidator(source.Validate, source.Schema)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", source.ID, err)
	}

	return &APIReader{
		url:       endpoint,
		client:    client,
		validator: validator,
	}, nil
}

// URL returns the absolute endpoint URL
func (r *APIReader) URL() string {
	return r.url
}

// Read fetches and validates the payload
func (r *APIReader) Read(ctx context.Context) (json.RawMessage, error) {
	body, err := r.client.Get(ctx, r.url)
	if err != nil {
		return nil, err
	}

	if err := r.validator.Validate(body); err != nil {
		return nil, err
	}

	return json.RawMessage(body), nil
}

// EndpointURL joins baseURL and path and encodes query in key order. Every
// {name} placeholder in path and the query values is replaced by params[name];
// path values are escaped as a single segment.
func EndpointURL(baseURL, path string, query, params map[string]string) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return "", fmt.Errorf("base URL must be absolute: %s", baseURL)
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path must start with '/': %s", path)
	}

	path, err = expand(path, params, url.PathEscape)
	if err != nil {
		return "", err
	}

	endpoint := base.JoinPath(path)
	if len(query) > 0 {
		values := url.Values{}
		for k, v := range query {
			expanded, err := expand(v, params, nil)
			if err != nil {
				return "", err
			}
			values.Set(k, expanded)
		}
		// Encode sorts by key
		endpoint.RawQuery = values.Encode()
	}
	return endpoint.String(), nil
}

// expand replaces placeholders in s. escape may be nil.
func expand(s string, params map[string]string, escape func(string) string) (string, error) {
	var missing []string
	out := config.PlaceholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		if escape != nil {
			return escape(v)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnboundParam, strings.Join(missing, ", "))
	}
	return out, nil
}
