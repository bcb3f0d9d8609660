// Package client talks to a running Telluride server over its loopback
// HTTP surface. It is used by the server to probe its own readiness, and
// by the CLI to stop a server started elsewhere.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hbomb79/Telluride/internal/api/response"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultQueryTimeout   = 2 * time.Minute
	readyInitialInterval  = 25 * time.Millisecond
	readyMaxInterval      = time.Second
)

// ResponseError is returned when the server answers with a non-200
// status. Body is the decoded envelope, if one could be decoded.
type ResponseError struct {
	Status int
	Body   response.Message
}

func (err *ResponseError) Error() string {
	if err.Body.Code != "" {
		return fmt.Sprintf("server responded %d (%s): %s", err.Status, err.Body.Code, err.Body.Message)
	}

	return fmt.Sprintf("server responded %d: %s", err.Status, err.Body.Message)
}

// Client requests are bounded by requestTimeout, except for metadata
// queries which wait up to queryTimeout for the extractor to finish.
type Client struct {
	baseURL        string
	http           *http.Client
	requestTimeout time.Duration
	queryTimeout   time.Duration
}

// New creates a client for the server listening on the 'host:port'
// address provided.
func New(addr string) *Client {
	return &Client{
		baseURL:        "http://" + addr,
		http:           &http.Client{},
		requestTimeout: defaultRequestTimeout,
		queryTimeout:   defaultQueryTimeout,
	}
}

// NewForPort creates a client for a server on the loopback interface.
func NewForPort(port int) *Client {
	return New(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

func (c *Client) Ping(ctx context.Context) (response.Message, error) {
	return c.message(ctx, "/ping", nil)
}

// Shutdown asks the server to stop. The server answers before it
// begins shutting down.
func (c *Client) Shutdown(ctx context.Context) (response.Message, error) {
	return c.message(ctx, "/", url.Values{"shutdown": {"1"}})
}

// Query asks the server for the metadata of the page URL provided,
// returning the document exactly as the server sent it.
func (c *Client) Query(ctx context.Context, pageURL string) (json.RawMessage, error) {
	body, err := c.get(ctx, c.queryTimeout, "/", url.Values{"url": {pageURL}})
	if err != nil {
		return nil, err
	}

	return json.RawMessage(body), nil
}

// WaitReady polls the server's ping endpoint with an exponential
// backoff until it answers, the context is done, or maxWait elapses.
// A response other than 200 is not retried.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = readyInitialInterval
	policy.MaxInterval = readyMaxInterval
	policy.MaxElapsedTime = maxWait

	return backoff.Retry(func() error {
		_, err := c.Ping(ctx)

		var respErr *ResponseError
		if errors.As(err, &respErr) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(policy, ctx))
}

func (c *Client) message(ctx context.Context, path string, query url.Values) (response.Message, error) {
	body, err := c.get(ctx, c.requestTimeout, path, query)
	if err != nil {
		return response.Message{}, err
	}

	var msg response.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return response.Message{}, fmt.Errorf("failed to decode response from %s: %w", path, err)
	}

	return msg, nil
}

func (c *Client) get(ctx context.Context, timeout time.Duration, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		respErr := &ResponseError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, &respErr.Body)
		return nil, respErr
	}

	return body, nil
}
