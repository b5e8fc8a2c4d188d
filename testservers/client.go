package testservers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/launchdarkly/loop-test-harness/loops"
)

const defaultClientTimeout = time.Second * 10

// ClientConfig holds the options for a TestClient.
type ClientConfig struct {
	// Timeout applies to each request. The default is 10 seconds.
	Timeout time.Duration
	// Header is added to every request.
	Header http.Header
}

// ClientOption is a functional option for NewTestClient.
type ClientOption func(*ClientConfig)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) { c.Timeout = timeout }
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) ClientOption {
	return func(c *ClientConfig) { c.Header.Add(name, value) }
}

// TestClient makes requests to a test server. It owns the server: closing the client closes
// the server too.
type TestClient struct {
	server    Server
	config    ClientConfig
	http      *http.Client
	responses []*http.Response
	closed    bool
	lock      sync.Mutex
}

// NewTestClient creates a client for the server. The server does not need to be started yet;
// Start starts it if necessary.
func NewTestClient(server Server, opts ...ClientOption) *TestClient {
	config := ClientConfig{Timeout: defaultClientTimeout, Header: make(http.Header)}
	for _, o := range opts {
		if o != nil {
			o(&config)
		}
	}
	return &TestClient{
		server: server,
		config: config,
		http:   &http.Client{Timeout: config.Timeout, Transport: &http.Transport{}},
	}
}

// Start starts the server if it is not already started.
func (c *TestClient) Start(ctx context.Context, loop *loops.Loop) error {
	return c.server.Start(ctx, loop)
}

// Server returns the server this client talks to.
func (c *TestClient) Server() Server {
	return c.server
}

// MakeURL returns an absolute URL for the given path on the server.
func (c *TestClient) MakeURL(path string) string {
	return c.server.MakeURL(path)
}

// Request sends a request to the given path on the server. The response body is closed when
// the client is closed, if the caller has not already closed it.
func (c *TestClient) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, method, path, body, nil)
}

func (c *TestClient) do(ctx context.Context, method, path string, body io.Reader, extra http.Header) (*http.Response, error) {
	c.lock.Lock()
	closed := c.closed
	c.lock.Unlock()
	if closed {
		return nil, fmt.Errorf("%s %s: test client has been closed", method, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.MakeURL(path), body)
	if err != nil {
		return nil, err
	}
	for _, h := range []http.Header{c.config.Header, extra} {
		for name, values := range h {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	c.lock.Lock()
	c.responses = append(c.responses, resp)
	c.lock.Unlock()
	return resp, nil
}

// Get sends a GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

// Post sends a POST request with the given content type.
func (c *TestClient) Post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body, http.Header{"Content-Type": {contentType}})
}

// Close closes any response bodies that are still open, then closes the server.
func (c *TestClient) Close(ctx context.Context) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	responses := c.responses
	c.responses = nil
	c.lock.Unlock()

	var result error
	for _, resp := range responses {
		if resp.Body != nil {
			if err := resp.Body.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	c.http.CloseIdleConnections()
	if err := c.server.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// ReadBody reads and closes the response body, and returns an error if the status is not one
// of the expected ones.
func ReadBody(resp *http.Response, expectedStatus ...int) (string, error) {
	var data []byte
	if resp.Body != nil {
		var err error
		data, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", err
		}
	}
	if len(expectedStatus) == 0 {
		return string(data), nil
	}
	for _, status := range expectedStatus {
		if resp.StatusCode == status {
			return string(data), nil
		}
	}
	var message string
	if len(data) > 0 {
		message = ": " + strings.TrimSpace(string(data))
	}
	return string(data), fmt.Errorf("unexpected response status %d from test server%s", resp.StatusCode, message)
}
