package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/net/proxy"

	"drivecast/internal"
)

// DefaultUserAgent identifies drivecast to the storage service
const DefaultUserAgent = "drivecast/1.0 (+https://github.com/drivecast/drivecast)"

// maxErrorBody bounds how much of an error response is read for diagnostics
const maxErrorBody = 4096

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	// Timeout bounds the whole exchange including the body. Zero disables
	// it, which streaming clients need.
	Timeout  time.Duration
	ProxyURL string

	// FollowRedirects controls whether 3xx responses are followed or
	// returned to the caller as-is
	FollowRedirects bool
	UserAgent       string
	Logger          *internal.SecureLogger
}

// HTTPClient wraps http.Client with transport tuning, proxy support and
// sanitized request logging
type HTTPClient struct {
	client    *http.Client
	userAgent string
	logger    *internal.SecureLogger
}

// NewHTTPClient creates a new HTTP client with default configuration
func NewHTTPClient() *HTTPClient {
	client, _ := NewHTTPClientWithConfig(&HTTPClientConfig{
		Timeout:         30 * time.Second,
		FollowRedirects: true,
	})
	return client
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) (*HTTPClient, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			return nil, internal.NewConfigError("proxy_url", err.Error())
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := config.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}

	return &HTTPClient{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}, nil
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// StandardClient exposes the underlying *http.Client, for libraries that
// accept one directly
func (c *HTTPClient) StandardClient() *http.Client {
	return c.client
}

// Do sends req, setting the User-Agent when absent. Transport failures are
// returned as Backend errors; context cancellation stays detectable through
// errors.Is. The response status is not inspected.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.LogHTTPRequest(req)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, internal.NewBackendError(0, "request cancelled").WithCause(ctxErr)
		}
		// url.Error embeds the full request URL, which may be pre-authenticated
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, internal.NewBackendError(0, fmt.Sprintf("%s %s failed", req.Method, req.URL.Host)).
			WithURL(req.URL.String()).
			WithCause(err)
	}

	c.logger.LogHTTPResponse(resp)
	return resp, nil
}

// GetWithContext performs a GET request with context and custom headers
func (c *HTTPClient) GetWithContext(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, internal.NewBackendError(0, "failed to create request").WithCause(err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return c.Do(req)
}

// CheckStatus returns nil when resp carries one of the accepted status
// codes. Otherwise the body is drained and closed and the status is
// classified into a ProviderError.
func CheckStatus(resp *http.Response, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	return ClassifyStatus(resp.StatusCode, errorMessage(body))
}

// ClassifyStatus maps an HTTP status onto the provider error taxonomy
func ClassifyStatus(code int, message string) *internal.ProviderError {
	if message == "" {
		message = http.StatusText(code)
	}

	switch code {
	case http.StatusNotFound:
		return internal.NewProviderError(code, message, internal.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return internal.NewProviderError(code, message, internal.ErrAuth)
	default:
		return internal.NewBackendError(code, message)
	}
}

// errorMessage extracts a human-readable message from an error body. Both
// the Graph ({"error":{"message":...}}) and OAuth ({"error_description":...})
// shapes are recognized.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	result := gjson.ParseBytes(body)
	for _, path := range []string{"error.message", "error_description", "error"} {
		if v := result.Get(path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}
