package scanning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/invoice-tracker/internal/apperror"
	"github.com/zombor/invoice-tracker/internal/document"
	"github.com/zombor/invoice-tracker/internal/metrics"
)

const (
	// DefaultBaseURL is the Baidu AI platform host
	DefaultBaseURL = "https://aip.baidubce.com"

	// DefaultTimeout applies to every outbound call
	DefaultTimeout = 30 * time.Second

	tokenPath = "/oauth/2.0/token"
)

// Endpoint is one OCR API together with the parser for its response shape
type Endpoint struct {
	Name  string
	Path  string
	parse func(body []byte) (Response, error)
}

// endpoints keeps provider URLs out of the business logic
var endpoints = map[Category]Endpoint{
	CategoryVAT: {
		Name:  "vat_invoice",
		Path:  "/rest/2.0/ocr/v1/vat_invoice",
		parse: parseVATInvoice,
	},
	CategoryGeneric: {
		Name:  "invoice",
		Path:  "/rest/2.0/ocr/v1/invoice",
		parse: parseGeneric,
	},
}

// EndpointFor returns the endpoint serving a category
func EndpointFor(category Category) (Endpoint, error) {
	endpoint, ok := endpoints[category]
	if !ok {
		return Endpoint{}, fmt.Errorf("no endpoint for category %s", category)
	}
	return endpoint, nil
}

// Client talks to the Baidu OCR HTTP API. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client with a fixed request timeout
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a Client with a custom HTTP client for testing
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// post sends a POST request and returns the status code and full body
func (c *Client) post(ctx context.Context, rawURL string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// RequestToken exchanges client credentials for a new access token
func (c *Client) RequestToken(ctx context.Context, apiKey, secretKey string) (token string, expiresIn int64, err error) {
	query := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {apiKey},
		"client_secret": {secretKey},
	}
	status, body, err := c.post(ctx, c.baseURL+tokenPath+"?"+query.Encode(), nil, "")
	if err != nil {
		return "", 0, apperror.Wrap(apperror.KindNetwork, "token request failed", err)
	}

	if !isSuccess(status) {
		return "", 0, providerError(status, body)
	}

	if _, isErr := decodeErrorEnvelope(body); isErr {
		return "", 0, providerError(status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", 0, apperror.Wrap(apperror.KindParse, "parsing token response", err)
	}
	if resp.AccessToken == "" {
		return "", 0, apperror.New(apperror.KindParse, "token response has no access_token")
	}
	if resp.ExpiresIn <= 0 {
		return "", 0, apperror.Newf(apperror.KindParse, "token response has invalid expires_in: %d", resp.ExpiresIn)
	}

	return resp.AccessToken, resp.ExpiresIn, nil
}

// Recognize submits a prepared document to the endpoint serving category
func (c *Client) Recognize(ctx context.Context, category Category, token string, payload *document.Payload) (Response, error) {
	endpoint, err := EndpointFor(category)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindParse, "selecting endpoint", err)
	}

	start := time.Now()
	resp, err := c.call(ctx, endpoint, token, payload)
	metrics.ProviderDuration.WithLabelValues(endpoint.Name).Observe(time.Since(start).Seconds())
	metrics.ProviderRequests.WithLabelValues(endpoint.Name, metrics.Outcome(err)).Inc()

	if err != nil {
		slog.Error("OCR request failed",
			"endpoint", endpoint.Name,
			"file", payload.Name,
			"error", err,
		)
		return nil, err
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, endpoint Endpoint, token string, payload *document.Payload) (Response, error) {
	field := "image"
	if payload.IsPDF() {
		field = "pdf_file"
	}
	form := url.Values{field: {payload.Base64}}
	query := url.Values{"access_token": {token}}

	status, body, err := c.post(ctx,
		c.baseURL+endpoint.Path+"?"+query.Encode(),
		strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded",
	)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindNetwork, "OCR request failed", err)
	}

	if !isSuccess(status) {
		return nil, providerError(status, body)
	}

	// Baidu reports most errors with a 200 status
	if _, isErr := decodeErrorEnvelope(body); isErr {
		return nil, providerError(status, body)
	}

	resp, err := endpoint.parse(body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindParse, "parsing OCR response", err)
	}
	return resp, nil
}
