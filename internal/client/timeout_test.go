package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Query_OutlastsRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"id":"slow"}`))
	}))
	defer server.Close()

	c := New(strings.TrimPrefix(server.URL, "http://"))
	c.requestTimeout = 50 * time.Millisecond

	_, err := c.Ping(context.Background())
	assert.Error(t, err, "ping is bounded by the request timeout")

	body, err := c.Query(context.Background(), "https://example.com/watch")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"slow"}`, string(body))

	c.queryTimeout = 50 * time.Millisecond
	_, err = c.Query(context.Background(), "https://example.com/watch")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_New_QueryTimeoutExceedsExtraction(t *testing.T) {
	c := New("127.0.0.1:1")
	assert.Greater(t, c.queryTimeout, time.Minute)
	assert.Less(t, c.requestTimeout, c.queryTimeout)
}
