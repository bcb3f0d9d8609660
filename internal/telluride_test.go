package internal

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/internal/api"
	"github.com/hbomb79/Telluride/internal/client"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticExtractor struct{ metadata json.RawMessage }

func (ex staticExtractor) ExtractMetadata(context.Context, string, options.DownloadOptions) (json.RawMessage, error) {
	return ex.metadata, nil
}

func (ex staticExtractor) Download(context.Context, string, options.DownloadOptions) error {
	return nil
}

func testConfig(port int) TellurideConfig {
	return TellurideConfig{
		Server: ServerConfig{
			RestConfig: api.RestConfig{Port: port, ShutdownTimeout: time.Second},
			Workers:    1,
		},
		LogLevel: "INFO",
	}
}

func Test_Server_RunsUntilShutdownRequested(t *testing.T) {
	server := NewServer(testConfig(0), "1.0.0", staticExtractor{json.RawMessage(`{"title":"x"}`)})
	assert.Equal(t, ServerState{Build: "1.0.0", Port: 0}, server.State())

	done := make(chan error, 1)
	go func() { done <- server.Run(context.Background()) }()

	require.Eventually(t, func() bool { return server.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	c := client.New(server.Addr())
	require.NoError(t, c.WaitReady(context.Background(), 5*time.Second))

	metadata, err := c.Query(context.Background(), "https://www.youtube.com/watch?v=CDC5ludJazw")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x"}`, string(metadata))

	_, err = c.Shutdown(context.Background())
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func Test_Server_FailsWhenPortUnavailable(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	server := NewServer(testConfig(occupied.Addr().(*net.TCPAddr).Port), "1.0.0", staticExtractor{})
	assert.Error(t, server.Run(context.Background()))
}
