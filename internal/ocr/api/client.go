// Package api has the OCR service REST API client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/slok/ocrtrack/internal/auth"
	"github.com/slok/ocrtrack/internal/log"
	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
)

const (
	apiPrefix = "/api/v1"

	// Limit of the error bodies read.
	maxErrorBodyBytes = 64 * 1024
)

// ClientConfig is the configuration of the OCR API client.
type ClientConfig struct {
	// URL is the OCR service base URL (e.g. http://localhost:8000).
	URL string
	// HTTPClient is the HTTP client used for the requests. The OCR processing call
	// can take long, the timeouts should be set with the request contexts.
	HTTPClient *http.Client
	// Credentials authorizes the requests, optional.
	Credentials auth.Provider
	Logger      log.Logger
}

func (c *ClientConfig) defaults() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}

	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "ocr.api.Client"})

	return nil
}

// Client is the OCR service REST API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      auth.Provider
	logger     log.Logger
}

var (
	_ ocr.Backend       = &Client{}
	_ ocr.ResultGetter  = &Client{}
	_ ocr.Exporter      = &Client{}
	_ ocr.HistoryClient = &Client{}
)

// NewClient returns a new OCR API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid config: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid config: unsupported url scheme %q", u.Scheme)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/") + apiPrefix,
		httpClient: cfg.HTTPClient,
		creds:      cfg.Credentials,
		logger:     cfg.Logger,
	}, nil
}

// APIError is an error response of the OCR service.
type APIError struct {
	StatusCode int
	// Detail is the error message sent by the server.
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Detail, e.StatusCode)
}

// Unwrap maps the HTTP status to the model errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.ErrNotAuthenticated
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusConflict:
		return model.ErrAlreadyExists
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return model.ErrNotValid
	}
	return nil
}

// newRequest creates an authorized request against the API.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		switch {
		case err == nil:
			req.Header.Set("Authorization", "Bearer "+token)
		case errors.Is(err, model.ErrNotAuthenticated):
			// Anonymous request, the server decides.
		default:
			return nil, fmt.Errorf("could not get credentials: %w", err)
		}
	}

	return req, nil
}

// do executes the request and decodes the JSON response into out (if not nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

// send executes the request and returns the response if successful. On error
// responses the body is decoded into an *APIError.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	c.logger.Debugf("%s %s", req.Method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not execute request: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(resp.StatusCode, body),
	}
}

type errorJSON struct {
	Detail json.RawMessage `json:"detail"`
}

type validationErrorJSON struct {
	Msg string `json:"msg"`
}

// errorDetail gets the message of a `{"detail": ...}` error body, detail can be a
// string or a list of validation errors.
func errorDetail(statusCode int, body []byte) string {
	var e errorJSON
	if err := json.Unmarshal(body, &e); err == nil && len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil && s != "" {
			return s
		}

		var verrs []validationErrorJSON
		if err := json.Unmarshal(e.Detail, &verrs); err == nil && len(verrs) > 0 {
			msgs := make([]string, 0, len(verrs))
			for _, v := range verrs {
				msgs = append(msgs, v.Msg)
			}
			return strings.Join(msgs, "; ")
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "<") {
		return text
	}

	return http.StatusText(statusCode)
}
